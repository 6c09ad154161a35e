package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultPath is where the service configuration files live.
const DefaultPath = "./configs/development"

type Config struct {
	HTTPServer struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"http_server"`

	GRPCServer struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"grpc_server"`

	Diagnostics struct {
		Port string `mapstructure:"port"`
	} `mapstructure:"diagnostics"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Broker struct {
		Queue       string `mapstructure:"queue"`
		ReplyPrefix string `mapstructure:"reply_prefix"`
	} `mapstructure:"broker"`

	Matchmaking struct {
		PulseInterval time.Duration `mapstructure:"pulse_interval"`
		ResultDelay   time.Duration `mapstructure:"result_delay"`
	} `mapstructure:"matchmaking"`

	JWT struct {
		SecretKey     string        `mapstructure:"secret_key"`
		TokenDuration time.Duration `mapstructure:"token_duration"`
	} `mapstructure:"jwt"`

	Database Database `mapstructure:"database"`

	Kafka struct {
		Brokers         []string `mapstructure:"brokers"`
		MatchFoundTopic string   `mapstructure:"match_found_topic"`
	} `mapstructure:"kafka"`
}

type Database struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"db_name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// Enabled reports whether a database was configured at all. Accounts are optional.
func (d Database) Enabled() bool {
	return d.Host != ""
}

func (d Database) ConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_server.port", "8080")
	v.SetDefault("grpc_server.port", "50052")
	v.SetDefault("diagnostics.port", "6060")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("broker.queue", "matchmaking-queue")
	v.SetDefault("broker.reply_prefix", "matchmaking")

	v.SetDefault("matchmaking.pulse_interval", time.Second)
	v.SetDefault("matchmaking.result_delay", 500*time.Millisecond)

	v.SetDefault("jwt.secret_key", "")
	v.SetDefault("jwt.token_duration", 24*time.Hour)

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.db_name", "nexus_clash")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.match_found_topic", "match_found")
}

// Load reads <path>/<name>.yaml, applies environment overrides (REDIS_ADDR
// overrides redis.addr) and fills in defaults. A missing file is not an error.
func Load(name, path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("yaml")
	v.AddConfigPath(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &c, nil
}
