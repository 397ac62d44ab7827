package config

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"QuantSim/internal/domain/errs"
	"QuantSim/pkg/util"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`

	Log struct {
		Level      string `yaml:"level" default:"info" validate:"oneof=debug info warn error fatal panic"`
		Format     string `yaml:"format" default:"json" validate:"oneof=json console"`
		Output     string `yaml:"output" default:"stdout"`
		TimeFormat string `yaml:"time_format"`
		Collector  struct {
			Enabled        bool          `yaml:"enabled"`
			Topic          string        `yaml:"topic" default:"quantsim.logs"`
			Interval       time.Duration `yaml:"interval" default:"30s"`
			CountThreshold int           `yaml:"count_threshold" default:"100"`
		} `yaml:"collector"`
	} `yaml:"log"`

	Data struct {
		Mode      string   `yaml:"mode" default:"csv" validate:"oneof=csv clickhouse synthetic"`
		Timeframe string   `yaml:"timeframe" default:"1h" validate:"oneof=1m 5m 15m 1h 4h 1d"`
		CSVDir    string   `yaml:"csv_dir" default:"data"`
		Symbols   []string `yaml:"symbols"`
		Synthetic struct {
			Seed       int64   `yaml:"seed" default:"42"`
			StartPrice float64 `yaml:"start_price" default:"100" validate:"gt=0"`
			Volatility float64 `yaml:"volatility" default:"0.01" validate:"gte=0"`
			Drift      float64 `yaml:"drift"`
			BaseVolume float64 `yaml:"base_volume" default:"1000" validate:"gte=0"`
		} `yaml:"synthetic"`
	} `yaml:"data"`

	Engine struct {
		ForceCloseOnFinalize bool    `yaml:"force_close_on_finalize"`
		InitialEquity        float64 `yaml:"initial_equity" default:"100000" validate:"gt=0"`
		FeatureWindow        int     `yaml:"feature_window" default:"50" validate:"gte=2"`
		RegimeWindow         int     `yaml:"regime_window" default:"100" validate:"gte=2"`
		Arbiter              string  `yaml:"arbiter" validate:"omitempty,oneof=first best_rr"`
	} `yaml:"engine"`

	Risk struct {
		MinRewardRisk     float64 `yaml:"min_reward_risk" default:"1.5" validate:"gte=0"`
		MaxConcurrent     int     `yaml:"max_concurrent" default:"5" validate:"gte=1"`
		MaxVPIN           float64 `yaml:"max_vpin" default:"0.8" validate:"gte=0,lte=1"`
		RiskPerTrade      float64 `yaml:"risk_per_trade" default:"0.01" validate:"gt=0,lte=1"`
		HighVolSizeFactor float64 `yaml:"high_vol_size_factor" default:"0.5" validate:"gte=0,lte=1"`
		MinQuality        float64 `yaml:"min_quality" default:"0.3" validate:"gte=0,lte=1"`
	} `yaml:"risk"`

	Ledger struct {
		PartialAtR      float64 `yaml:"partial_at_r" default:"1" validate:"gte=0"`
		PartialFraction float64 `yaml:"partial_fraction" default:"0.5" validate:"gte=0,lte=1"`
		TrailingPct     float64 `yaml:"trailing_pct" default:"0.02" validate:"gte=0,lt=1"`
	} `yaml:"ledger"`

	EventLog struct {
		Sink           string `yaml:"sink" default:"jsonl" validate:"oneof=jsonl clickhouse kafka memory"`
		Path           string `yaml:"path" default:"events.jsonl"`
		FallbackPath   string `yaml:"fallback_path" default:"events_fallback.jsonl"`
		FlushThreshold int    `yaml:"flush_threshold" default:"256" validate:"gte=1"`
		Topic          string `yaml:"topic" default:"quantsim.trade_events"`
	} `yaml:"event_log"`

	Calibration struct {
		Workers                int                             `yaml:"workers" default:"4" validate:"gte=1"`
		TrainWindow            string                          `yaml:"train_window" default:"2mo"`
		TestWindow             string                          `yaml:"test_window" default:"1mo"`
		StabilityPenaltyWeight float64                         `yaml:"stability_penalty_weight" default:"0.5" validate:"gte=0"`
		MinTradesRequired      int                             `yaml:"min_trades_required" default:"30" validate:"gte=0"`
		HoldOutWindow          string                          `yaml:"holdout_window" default:"1mo"`
		Distributed            bool                            `yaml:"distributed"`
		QueueName              string                          `yaml:"queue_name" default:"quantsim.calibration"`
		ResultTimeout          time.Duration                   `yaml:"result_timeout" default:"10m"`
		CacheTTL               time.Duration                   `yaml:"cache_ttl" default:"24h"`
		Ranges                 map[string]map[string][]float64 `yaml:"ranges"`
		Baselines              map[string]map[string]float64   `yaml:"baselines"`
	} `yaml:"calibration"`

	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gte=1,lte=65535"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"60s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		RateLimit       float64       `yaml:"rate_limit" default:"5"`
		RateBurst       int           `yaml:"rate_burst" default:"10"`
	} `yaml:"server"`

	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`

	ClickHouse struct {
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"quantsim"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
		CandlesTable     string        `yaml:"candles_table" default:"candles"`
		EventsTable      string        `yaml:"events_table" default:"trade_events"`
	} `yaml:"clickhouse"`

	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"snappy" validate:"omitempty,oneof=none gzip snappy lz4 zstd"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"10ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"500"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"quantsim-audit"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"1000"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
}

var validate = validator.New()

// Default returns a config populated with struct-tag defaults only.
func Default() *Config {
	var c Config
	_ = defaults.Set(&c)
	return &c
}

// Parse decodes YAML bytes over the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, errs.Setup("parse config", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Setup("read config", err)
	}
	return Parse(b)
}

// LoadWithEnv loads config from YAML and overrides with QUANTSIM_* environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("QUANTSIM_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("QUANTSIM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("QUANTSIM_DATA_MODE"); v != "" {
		c.Data.Mode = v
	}
	if v := getenv("QUANTSIM_DATA_DIR"); v != "" {
		c.Data.CSVDir = v
	}
	if v := getenv("QUANTSIM_SYMBOLS"); v != "" {
		c.Data.Symbols = util.SplitList(v)
	}
	if v := getenv("QUANTSIM_EVENT_SINK"); v != "" {
		c.EventLog.Sink = v
	}
	if v := getenv("QUANTSIM_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = util.SplitList(v)
	}
	if v := getenv("QUANTSIM_CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := getenv("QUANTSIM_CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}
	if v := getenv("QUANTSIM_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}
	if v := getenv("QUANTSIM_WORKERS"); v != "" {
		c.Calibration.Workers = util.ParseIntDefault(v, c.Calibration.Workers)
	}
}

// Validate checks struct tags and cross-field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errs.Setup("validate config", err)
	}
	if c.EventLog.Sink == "kafka" && len(c.Kafka.Brokers) == 0 {
		return errs.Setupf("validate config", "event_log.sink kafka requires kafka.brokers")
	}
	if c.Calibration.Distributed && !c.Redis.Enabled {
		return errs.Setupf("validate config", "calibration.distributed requires redis.enabled")
	}
	for strategy, ranges := range c.Calibration.Ranges {
		for name, values := range ranges {
			if len(values) == 0 {
				return errs.Setupf("validate config", "calibration.ranges.%s.%s is empty", strategy, name)
			}
		}
	}
	return nil
}

// String renders a one-line summary for startup logs.
func (c *Config) String() string {
	return fmt.Sprintf("env=%s data=%s/%s sink=%s workers=%d",
		c.Environment, c.Data.Mode, c.Data.Timeframe, c.EventLog.Sink, c.Calibration.Workers)
}
