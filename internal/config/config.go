package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/party-room-system/pkg/log"
)

// ServerConfig configures the room service process.
type ServerConfig struct {
	Server   HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Spotify  SpotifyConfig
	Frontend FrontendConfig
	Log      log.Config
}

// ClientConfig configures the party client process.
type ClientConfig struct {
	API      APIConfig
	Identity IdentityConfig
	Redis    RedisConfig
	Player   PlayerConfig
	Auth     AuthConfig
	Poll     PollConfig
	Log      log.Config
}

type HTTPConfig struct {
	Host string
	Port int
}

func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string
	Port     int
	User     string
	Password string
	DBName   string `mapstructure:"dbname"`
	FilePath string `mapstructure:"file_path"`
}

// DSN builds the mysql connection string. Ignored for the sqlite driver,
// which uses FilePath.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type SpotifyConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type FrontendConfig struct {
	URL string
}

type APIConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type IdentityConfig struct {
	Store    string `mapstructure:"store"`
	FilePath string `mapstructure:"file_path"`
	RedisKey string `mapstructure:"redis_key"`
}

type PlayerConfig struct {
	Name       string
	BridgeAddr string  `mapstructure:"bridge_addr"`
	Volume     float64 `mapstructure:"volume"`
}

type AuthConfig struct {
	CallbackAddr string `mapstructure:"callback_addr"`
}

type PollConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

func newViper(configName string) (*viper.Viper, error) {
	v := viper.New()

	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return v, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return v, nil
}

// LoadServer reads the service configuration from server.yaml and the
// environment.
func LoadServer() (*ServerConfig, error) {
	v, err := newViper("server")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "party")
	v.SetDefault("database.file_path", "./data/party.db")
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "party-events")
	v.SetDefault("spotify.redirect_uri", "http://localhost:8080/auth/callback")
	v.SetDefault("frontend.url", "http://127.0.0.1:8899/callback")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.service_name", "party-server")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")
	v.BindEnv("database.file_path", "DB_FILE_PATH")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.addr", "REDIS_ADDR")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.enabled", "KAFKA_ENABLED")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("spotify.client_id", "SPOTIFY_CLIENT_ID")
	v.BindEnv("spotify.client_secret", "SPOTIFY_CLIENT_SECRET")
	v.BindEnv("spotify.redirect_uri", "SPOTIFY_REDIRECT_URI")
	v.BindEnv("frontend.url", "FRONTEND_URL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadClient reads the client configuration from client.yaml and the
// environment.
func LoadClient() (*ClientConfig, error) {
	v, err := newViper("client")
	if err != nil {
		return nil, err
	}

	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("identity.store", "file")
	v.SetDefault("identity.file_path", "./data/identity.json")
	v.SetDefault("identity.redis_key", "party:user")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("player.name", "Party Room Player")
	v.SetDefault("player.bridge_addr", "127.0.0.1:8090")
	v.SetDefault("player.volume", 0.5)
	v.SetDefault("auth.callback_addr", "127.0.0.1:8899")
	v.SetDefault("poll.interval", 3*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)
	v.SetDefault("log.service_name", "party-client")

	v.BindEnv("api.base_url", "API_BASE_URL")
	v.BindEnv("identity.store", "IDENTITY_STORE")
	v.BindEnv("identity.file_path", "IDENTITY_FILE")
	v.BindEnv("player.name", "PLAYER_NAME")
	v.BindEnv("player.bridge_addr", "PLAYER_BRIDGE_ADDR")
	v.BindEnv("poll.interval", "POLL_INTERVAL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
