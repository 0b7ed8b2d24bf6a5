package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Source   SourceConfig   `json:"source"`
	Yield    YieldConfig    `json:"yield"`
	Email    EmailConfig    `json:"email"`
	Telegram TelegramConfig `json:"telegram"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env                string        `json:"env"`                 // 运行环境: local / prod
	LogLevel           string        `json:"log_level"`           // 日志级别: debug / info / warn / error
	HTTPAddr           string        `json:"http_addr"`           // API 服务监听地址
	MetricsAddr        string        `json:"metrics_addr"`        // 管道进程 metrics 监听地址
	ScheduleInterval   time.Duration `json:"schedule_interval"`   // 调度间隔（如 "60s"）
	ScheduleCron       string        `json:"schedule_cron"`       // cron 表达式（非空时替代固定间隔）
	DispatchMode       string        `json:"dispatch_mode"`       // central: 调度器直接执行 / pool: 按关注列表派发任务 / stream: 经 Redis Stream 分发到多个进程
	FreshnessWindow    time.Duration `json:"freshness_window"`    // 房源新鲜度窗口（如 "72h"）
	PricingConcurrency int           `json:"pricing_concurrency"` // 全局并发定价上限
	WorkerPoolSize     int           `json:"worker_pool_size"`    // 消费者 worker 数量
	QueueCapacity      int           `json:"queue_capacity"`      // 队列容量
	DrainTimeout       time.Duration `json:"drain_timeout"`       // 关闭时等待队列排空的最长时间
	NotifyClaimTTL     time.Duration `json:"notify_claim_ttl"`    // 待发送通知去重键的过期时间
	SeedFile           string        `json:"seed_file"`           // 关注列表种子 YAML 文件
	DefaultChannel     string        `json:"default_channel"`     // 通知地址无前缀时使用的渠道
	CORSOrigins        []string      `json:"cors_origins"`        // API 允许的跨域来源（为空表示全部允许）
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Driver string `json:"driver"` // mysql / postgres / sqlite
	DSN    string `json:"dsn"`    // 数据库连接字符串
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码

	StreamName  string `json:"stream_name"`  // stream 模式的刷新 Stream
	StreamGroup string `json:"stream_group"` // stream 模式的消费者组
}

// SourceConfig 房源平台配置。
type SourceConfig struct {
	BaseURL              string        `json:"base_url"`               // 房源平台地址
	UserAgent            string        `json:"user_agent"`             // 请求 User-Agent
	Timeout              time.Duration `json:"timeout"`                // 单次请求超时
	RateLimit            float64       `json:"rate_limit"`             // 限流速率（token/s，0 表示不限）
	RateBurst            float64       `json:"rate_burst"`             // 限流桶容量
	RentTolerance        float64       `json:"rent_tolerance"`         // 租金估算的面积容差（0.1 = ±10%）
	InterestRateURL      string        `json:"interest_rate_url"`      // 房贷利率接口
	FallbackInterestRate float64       `json:"fallback_interest_rate"` // 利率接口失败时使用的利率（百分比）
}

// YieldConfig 收益率计算参数。
type YieldConfig struct {
	LoanDurationYears      int     `json:"loan_duration_years"`
	DownPaymentPercentage  float64 `json:"down_payment_percentage"`
	AvgVacantMonthsPerYear float64 `json:"avg_vacant_month_per_year"`
	RentIncreasePerYear    float64 `json:"avg_estimated_rent_increase_per_year"`
	PriceIncreasePerYear   float64 `json:"estimated_yearly_apartment_price_increase"`
	AvgRenovationCosts     float64 `json:"avg_renovation_costs"`
	Tax                    float64 `json:"tax"`
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// TelegramConfig Telegram 通知配置。
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	APIURL   string `json:"api_url"`
}

// Load 从 JSON 文件加载配置。
//
// 它会先加载 .env 文件（如果存在），再尝试读取 configs/config.json 文件，
// 如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用 CONFIG_PATH 或默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	_ = godotenv.Load()

	path := "configs/config.json"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		// 即使没有配置文件，也允许环境变量覆盖默认值
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置是否可用。
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.App.DispatchMode {
	case "central", "pool":
	case "stream":
		if c.Redis.Addr == "" {
			return fmt.Errorf("dispatch mode stream requires redis")
		}
	default:
		return fmt.Errorf("unsupported dispatch mode %q", c.App.DispatchMode)
	}
	if c.Yield.LoanDurationYears <= 0 {
		return fmt.Errorf("loan_duration_years must be positive")
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:                "local",
			LogLevel:           "info",
			HTTPAddr:           ":8081",
			MetricsAddr:        ":2112",
			ScheduleInterval:   60 * time.Second,
			DispatchMode:       "central",
			FreshnessWindow:    72 * time.Hour,
			PricingConcurrency: 8,
			WorkerPoolSize:     runtime.NumCPU() * 2,
			QueueCapacity:      10000,
			DrainTimeout:       30 * time.Second,
			NotifyClaimTTL:     30 * time.Minute,
			SeedFile:           "",
			DefaultChannel:     "telegram",
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			DSN:    "root:password@tcp(localhost:3306)/apato?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			Password:    "",
			StreamName:  "apato:watchlist:refresh",
			StreamGroup: "pipeline",
		},
		Source: SourceConfig{
			BaseURL:              "https://asunnot.oikotie.fi",
			UserAgent:            "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/114.0.0.0 Safari/537.36",
			Timeout:              20 * time.Second,
			RateLimit:            3,
			RateBurst:            5,
			RentTolerance:        0.10,
			InterestRateURL:      "https://hj.nordea.com/hj/common/api/wdamc/nordic/products/calculate",
			FallbackInterestRate: 4.0,
		},
		Yield: YieldConfig{
			LoanDurationYears:      25,
			DownPaymentPercentage:  20,
			AvgVacantMonthsPerYear: 1,
			RentIncreasePerYear:    1,
			PriceIncreasePerYear:   2,
			AvgRenovationCosts:     5000,
			Tax:                    30,
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Telegram: TelegramConfig{
			BotToken: "",
			APIURL:   "https://api.telegram.org",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.MetricsAddr == "" {
		cfg.App.MetricsAddr = defaults.App.MetricsAddr
	}
	if cfg.App.ScheduleInterval == 0 {
		cfg.App.ScheduleInterval = defaults.App.ScheduleInterval
	}
	if cfg.App.DispatchMode == "" {
		cfg.App.DispatchMode = defaults.App.DispatchMode
	}
	if cfg.App.FreshnessWindow == 0 {
		cfg.App.FreshnessWindow = defaults.App.FreshnessWindow
	}
	if cfg.App.PricingConcurrency == 0 {
		cfg.App.PricingConcurrency = defaults.App.PricingConcurrency
	}
	if cfg.App.WorkerPoolSize == 0 {
		cfg.App.WorkerPoolSize = defaults.App.WorkerPoolSize
	}
	if cfg.App.QueueCapacity == 0 {
		cfg.App.QueueCapacity = defaults.App.QueueCapacity
	}
	if cfg.App.DrainTimeout == 0 {
		cfg.App.DrainTimeout = defaults.App.DrainTimeout
	}
	if cfg.App.NotifyClaimTTL == 0 {
		cfg.App.NotifyClaimTTL = defaults.App.NotifyClaimTTL
	}
	if cfg.App.DefaultChannel == "" {
		cfg.App.DefaultChannel = defaults.App.DefaultChannel
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == defaults.Database.Driver {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Redis.StreamName == "" {
		cfg.Redis.StreamName = defaults.Redis.StreamName
	}
	if cfg.Redis.StreamGroup == "" {
		cfg.Redis.StreamGroup = defaults.Redis.StreamGroup
	}
	if cfg.Source.BaseURL == "" {
		cfg.Source.BaseURL = defaults.Source.BaseURL
	}
	if cfg.Source.UserAgent == "" {
		cfg.Source.UserAgent = defaults.Source.UserAgent
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = defaults.Source.Timeout
	}
	if cfg.Source.RentTolerance == 0 {
		cfg.Source.RentTolerance = defaults.Source.RentTolerance
	}
	if cfg.Source.FallbackInterestRate == 0 {
		cfg.Source.FallbackInterestRate = defaults.Source.FallbackInterestRate
	}
	if cfg.Yield.LoanDurationYears == 0 {
		cfg.Yield = defaults.Yield
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = defaults.Telegram.APIURL
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("db_host", "DB_HOST")
	_ = viper.BindEnv("db_password", "DB_PASSWORD")
	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN", "TELEGRAM_TOKEN")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_METRICS_ADDR"); v != "" {
		cfg.App.MetricsAddr = v
	}
	if v := os.Getenv("APP_SCHEDULE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.ScheduleInterval = d
		}
	}
	if v := os.Getenv("APP_SCHEDULE_CRON"); v != "" {
		cfg.App.ScheduleCron = v
	}
	if v := os.Getenv("APP_DISPATCH_MODE"); v != "" {
		cfg.App.DispatchMode = v
	}
	if v := os.Getenv("APP_FRESHNESS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.FreshnessWindow = d
		}
	}
	if v := os.Getenv("APP_PRICING_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.PricingConcurrency = i
		}
	}
	if v := os.Getenv("APP_WORKER_POOL_SIZE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.WorkerPoolSize = i
		}
	}
	if v := os.Getenv("APP_QUEUE_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.App.QueueCapacity = i
		}
	}
	if v := os.Getenv("APP_DRAIN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.App.DrainTimeout = d
		}
	}
	if v := os.Getenv("APP_SEED_FILE"); v != "" {
		cfg.App.SeedFile = v
	}
	if v := os.Getenv("APP_DEFAULT_CHANNEL"); v != "" {
		cfg.App.DefaultChannel = v
	}
	if v := os.Getenv("APP_CORS_ORIGINS"); v != "" {
		cfg.App.CORSOrigins = strings.Split(v, ",")
	}

	if v := os.Getenv("SOURCE_BASE_URL"); v != "" {
		cfg.Source.BaseURL = v
	}
	if v := os.Getenv("SOURCE_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Source.RateLimit = f
		}
	}
	if v := os.Getenv("SOURCE_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Source.RateBurst = f
		}
	}
	if v := os.Getenv("SOURCE_FALLBACK_INTEREST_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Source.FallbackInterestRate = f
		}
	}

	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.DSN = v
	} else if cfg.Database.Driver == "mysql" && (hasAnyEnv("DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME") || viper.GetString("db_host") != "" || viper.GetString("db_password") != "") {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if v := viper.GetString("db_host"); v != "" {
			port := getenvDefault("DB_PORT", parsed.Addr, "3306")
			parsed.Addr = v + ":" + port
		} else if v := os.Getenv("DB_PORT"); v != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + v
		}
		if v := os.Getenv("DB_USER"); v != "" {
			parsed.User = v
		}
		if v := viper.GetString("db_password"); v != "" {
			parsed.Passwd = v
		}
		if v := os.Getenv("DB_NAME"); v != "" {
			parsed.DBName = v
		}
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_STREAM"); v != "" {
		cfg.Redis.StreamName = v
	}
	if v := os.Getenv("REDIS_STREAM_GROUP"); v != "" {
		cfg.Redis.StreamGroup = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := viper.GetString("telegram_bot_token"); v != "" {
		cfg.Telegram.BotToken = v
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if fallbackAddr == "" {
		return defaultValue
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	fallback := &mysql.Config{
		User:   "root",
		Net:    "tcp",
		Addr:   "localhost:3306",
		DBName: "apato",
		Params: map[string]string{
			"parseTime": "true",
			"loc":       "Local",
		},
	}
	if dsn == "" {
		return fallback
	}
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return fallback
	}
	return parsed
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		ScheduleInterval string `json:"schedule_interval"`
		FreshnessWindow  string `json:"freshness_window"`
		DrainTimeout     string `json:"drain_timeout"`
		NotifyClaimTTL   string `json:"notify_claim_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	fields := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"schedule_interval", aux.ScheduleInterval, &a.ScheduleInterval},
		{"freshness_window", aux.FreshnessWindow, &a.FreshnessWindow},
		{"drain_timeout", aux.DrainTimeout, &a.DrainTimeout},
		{"notify_claim_ttl", aux.NotifyClaimTTL, &a.NotifyClaimTTL},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", f.name, err)
		}
		*f.dst = d
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		ScheduleInterval string `json:"schedule_interval"`
		FreshnessWindow  string `json:"freshness_window"`
		DrainTimeout     string `json:"drain_timeout"`
		NotifyClaimTTL   string `json:"notify_claim_ttl"`
		*Alias
	}{
		ScheduleInterval: a.ScheduleInterval.String(),
		FreshnessWindow:  a.FreshnessWindow.String(),
		DrainTimeout:     a.DrainTimeout.String(),
		NotifyClaimTTL:   a.NotifyClaimTTL.String(),
		Alias:            (*Alias)(&a),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持 timeout 字符串。
func (s *SourceConfig) UnmarshalJSON(data []byte) error {
	type Alias SourceConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Alias: (*Alias)(s),
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Timeout != "" {
		d, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout format: %w", err)
		}
		s.Timeout = d
	}
	return nil
}
