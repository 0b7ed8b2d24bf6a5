package watchlist

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"apato/internal/model"
)

type mockStore struct {
	watchlists map[uint]*model.Watchlist
	listings   []model.Listing
	nextID     uint

	createCalls int
	updateCalls int
	deleteCalls int
	matchingArg bool
}

func newMockStore() *mockStore {
	return &mockStore{watchlists: make(map[uint]*model.Watchlist), nextID: 1}
}

func (m *mockStore) GetWatchlist(ctx context.Context, id uint) (*model.Watchlist, error) {
	w, ok := m.watchlists[id]
	if !ok {
		return nil, nil
	}
	cp := *w
	return &cp, nil
}

func (m *mockStore) GetWatchlistsByDestination(ctx context.Context, destination string) ([]model.Watchlist, error) {
	var out []model.Watchlist
	for id := uint(1); id < m.nextID; id++ {
		if w, ok := m.watchlists[id]; ok && w.Destination == destination {
			out = append(out, *w)
		}
	}
	return out, nil
}

func (m *mockStore) FindWatchlist(ctx context.Context, destination string, locationID, locationLevel int) (*model.Watchlist, error) {
	for _, w := range m.watchlists {
		if w.Destination == destination && w.LocationID == locationID && w.LocationLevel == locationLevel {
			cp := *w
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockStore) CreateWatchlist(ctx context.Context, w *model.Watchlist) error {
	m.createCalls++
	w.ID = m.nextID
	m.nextID++
	cp := *w
	m.watchlists[w.ID] = &cp
	return nil
}

func (m *mockStore) UpdateYieldThreshold(ctx context.Context, id uint, targetYield float64) error {
	m.updateCalls++
	w, ok := m.watchlists[id]
	if !ok {
		return errors.New("not found")
	}
	w.TargetYield = targetYield
	return nil
}

func (m *mockStore) DeleteWatchlist(ctx context.Context, id uint) error {
	m.deleteCalls++
	delete(m.watchlists, id)
	return nil
}

func (m *mockStore) ListingsFor(ctx context.Context, w *model.Watchlist, matchingOnly bool) ([]model.Listing, error) {
	m.matchingArg = matchingOnly
	return m.listings, nil
}

func newTestService() (*Service, *mockStore) {
	store := newMockStore()
	return NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func helsinki(dest string, target float64) Subscription {
	return Subscription{
		Destination:   dest,
		LocationID:    64,
		LocationLevel: 6,
		LocationName:  "Helsinki",
		SizeMin:       20,
		SizeMax:       60,
		TargetYield:   target,
	}
}

func TestSubscribe_CreatesThenUpdatesYield(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()

	w, created, err := svc.Subscribe(ctx, helsinki("telegram:1", 8))
	if err != nil || !created {
		t.Fatalf("expected create, got created=%v err=%v", created, err)
	}
	if w.ID == 0 || w.TargetSizeMax != 60 {
		t.Fatalf("unexpected watchlist %+v", w)
	}

	again, created, err := svc.Subscribe(ctx, helsinki("telegram:1", 12))
	if err != nil || created {
		t.Fatalf("expected update, got created=%v err=%v", created, err)
	}
	if again.ID != w.ID || again.TargetYield != 12 {
		t.Fatalf("unexpected updated watchlist %+v", again)
	}
	if store.createCalls != 1 || store.updateCalls != 1 {
		t.Fatalf("expected 1 create and 1 update, got %d/%d", store.createCalls, store.updateCalls)
	}
	if store.watchlists[w.ID].TargetYield != 12 {
		t.Fatal("stored yield not updated")
	}

	// 其他通知地址订阅同一区域会新建
	if _, created, _ := svc.Subscribe(ctx, helsinki("telegram:2", 8)); !created {
		t.Fatal("expected a separate watchlist for another destination")
	}
}

func TestSubscribe_Validation(t *testing.T) {
	svc, store := newTestService()
	cases := map[string]Subscription{
		"no destination":   {LocationID: 64, LocationLevel: 6},
		"no location":      {Destination: "telegram:1"},
		"inverted sizes":   {Destination: "telegram:1", LocationID: 64, SizeMin: 80, SizeMax: 40},
		"negative yield":   {Destination: "telegram:1", LocationID: 64, TargetYield: -1},
		"negative minimum": {Destination: "telegram:1", LocationID: 64, SizeMin: -5},
	}
	for name, sub := range cases {
		t.Run(name, func(t *testing.T) {
			if _, _, err := svc.Subscribe(context.Background(), sub); !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
	if store.createCalls != 0 {
		t.Fatal("invalid subscriptions must not be stored")
	}
}

func TestDelete_OwnerOnly(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	w, _, _ := svc.Subscribe(ctx, helsinki("telegram:1", 8))

	if err := svc.Delete(ctx, w.ID, "telegram:2"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := svc.Delete(ctx, 999, "telegram:1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if store.deleteCalls != 0 {
		t.Fatal("delete must not reach the store for foreign or missing watchlists")
	}
	if err := svc.Delete(ctx, w.ID, "telegram:1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := store.watchlists[w.ID]; ok {
		t.Fatal("watchlist not deleted")
	}
}

func TestListAndListings(t *testing.T) {
	svc, store := newTestService()
	ctx := context.Background()
	w, _, _ := svc.Subscribe(ctx, helsinki("telegram:1", 8))
	other := helsinki("telegram:1", 8)
	other.LocationID, other.LocationName = 39, "Espoo"
	_, _, _ = svc.Subscribe(ctx, other)
	_, _, _ = svc.Subscribe(ctx, helsinki("telegram:2", 8))

	list, err := svc.List(ctx, "telegram:1")
	if err != nil || len(list) != 2 {
		t.Fatalf("expected 2 watchlists, got %d (err=%v)", len(list), err)
	}

	store.listings = []model.Listing{{CardID: 101, EstimatedYield: 9}}
	listings, err := svc.Listings(ctx, w.ID, "telegram:1", true)
	if err != nil || len(listings) != 1 {
		t.Fatalf("expected 1 listing, got %d (err=%v)", len(listings), err)
	}
	if !store.matchingArg {
		t.Fatal("matching flag not forwarded")
	}
	if _, err := svc.Listings(ctx, w.ID, "telegram:2", false); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
}

func TestSeed(t *testing.T) {
	svc, store := newTestService()
	path := filepath.Join(t.TempDir(), "watchlists.yaml")
	body := `watchlists:
  - destination: "telegram:1"
    location_id: 64
    location_level: 6
    location_name: Helsinki
    size_min: 20
    size_max: 60
    target_yield: 8
  - destination: "mailto:a@example.com"
    location_id: 39
    location_level: 6
    location_name: Espoo
    target_yield: 6.5
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	created, err := svc.Seed(context.Background(), path)
	if err != nil || created != 2 {
		t.Fatalf("expected 2 created, got %d (err=%v)", created, err)
	}
	created, err = svc.Seed(context.Background(), path)
	if err != nil || created != 0 {
		t.Fatalf("reseeding should only update, got %d created (err=%v)", created, err)
	}
	if len(store.watchlists) != 2 {
		t.Fatalf("expected 2 watchlists, got %d", len(store.watchlists))
	}
}

func TestLoadSeed_InvalidEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlists.yaml")
	body := "watchlists:\n  - location_id: 64\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := LoadSeed(path); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}
