package config

import (
	"path/filepath"
	"strings"
	"time"

	"dex/domain/orderbook"
	"dex/infra/kafka"
	"dex/infra/wal/entry"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const EnvPrefix = "DEX"

type Config struct {
	DataDir string `mapstructure:"data_dir"`

	Log struct {
		Env   string `mapstructure:"env"`
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Book struct {
		MaxOrders int `mapstructure:"max_orders"`
	} `mapstructure:"book"`

	Journal struct {
		Dir         string `mapstructure:"dir"`
		SegmentSize int64  `mapstructure:"segment_size"`
		Sync        bool   `mapstructure:"sync"`
	} `mapstructure:"journal"`

	GRPC struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"grpc"`

	Metrics struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"metrics"`

	Kafka struct {
		Enabled bool     `mapstructure:"enabled"`
		Client  string   `mapstructure:"client"`
		Brokers []string `mapstructure:"brokers"`
		Topic   string   `mapstructure:"topic"`
	} `mapstructure:"kafka"`

	Broadcaster struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"broadcaster"`

	Snapshot struct {
		Dir      string        `mapstructure:"dir"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"snapshot"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "data")
	v.SetDefault("log.env", "dev")
	v.SetDefault("log.level", "")
	v.SetDefault("book.max_orders", orderbook.DefaultMaxOrders)
	v.SetDefault("journal.dir", "")
	v.SetDefault("journal.segment_size", entry.DefaultSegmentSize)
	v.SetDefault("journal.sync", true)
	v.SetDefault("grpc.listen", ":50051")
	v.SetDefault("metrics.listen", ":9100")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.client", kafka.ClientKafkaGo)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "dex.events")
	v.SetDefault("broadcaster.interval", 250*time.Millisecond)
	v.SetDefault("snapshot.dir", "")
	v.SetDefault("snapshot.interval", time.Minute)
}

// Load reads defaults, then the optional file, then DEX_* environment
// variables (DEX_GRPC_LISTEN overrides grpc.listen).
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fill derives directories left empty from data_dir.
func (c *Config) fill() {
	if c.Journal.Dir == "" {
		c.Journal.Dir = filepath.Join(c.DataDir, "journal")
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = filepath.Join(c.DataDir, "snapshots")
	}
}

// StoreDir is where the pebble database lives.
func (c *Config) StoreDir() string {
	return filepath.Join(c.DataDir, "store")
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.Book.MaxOrders <= 0 {
		return errors.Errorf("book.max_orders must be positive, got %d", c.Book.MaxOrders)
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return errors.New("kafka.brokers and kafka.topic are required when kafka is enabled")
		}
		switch c.Kafka.Client {
		case kafka.ClientKafkaGo, kafka.ClientSarama:
		default:
			return errors.Errorf("unknown kafka.client %q", c.Kafka.Client)
		}
	}
	return nil
}
