package watchlist

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// seedFile 种子文件格式。
type seedFile struct {
	Watchlists []Subscription `yaml:"watchlists"`
}

// LoadSeed 读取 YAML 种子文件。
func LoadSeed(path string) ([]Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, sub := range f.Watchlists {
		if err := sub.Validate(); err != nil {
			return nil, fmt.Errorf("seed entry %d: %w", i, err)
		}
	}
	return f.Watchlists, nil
}

// Seed 按种子文件订阅关注列表，重复执行只会更新目标收益率。
func (s *Service) Seed(ctx context.Context, path string) (int, error) {
	subs, err := LoadSeed(path)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, sub := range subs {
		_, isNew, err := s.Subscribe(ctx, sub)
		if err != nil {
			return created, fmt.Errorf("seed %s/%s: %w", sub.Destination, sub.LocationName, err)
		}
		if isNew {
			created++
		}
	}
	s.logger.Info("watchlists seeded",
		slog.Int("entries", len(subs)),
		slog.Int("created", created))
	return created, nil
}
