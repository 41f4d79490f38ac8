package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// SQLiteConfig holds the embedded database backend settings
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// WebsocketConfig holds the remote collector backend settings
type WebsocketConfig struct {
	URL       string        `json:"url" mapstructure:"url"`
	Secret    string        `json:"secret" mapstructure:"secret"`
	Reconnect time.Duration `json:"reconnectInterval" mapstructure:"reconnectInterval"`
}

// StorageConfig selects and configures the persistence backend
type StorageConfig struct {
	Type      string
	Memory    MemoryConfig
	SQLite    SQLiteConfig
	Websocket WebsocketConfig
}

// EngineConfig holds the rule engine toggles
type EngineConfig struct {
	SnapEnabled      bool
	BoundsEnabled    bool
	AllowServiceZone bool
	HistoryDepth     int
}

// ServerConfig holds the HTTP surface settings
type ServerConfig struct {
	Addr           string
	DebugAddr      string
	AllowedOrigins []string
	RateLimit      float64
	RateBurst      int
}

// DatabaseConfig holds the postgres connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// InfluxConfig holds the metrics sink settings
type InfluxConfig struct {
	Enabled bool
	URL     string
	Token   string
	Org     string
	Bucket  string
}

// GraylogConfig holds the GELF log target settings
type GraylogConfig struct {
	Enabled bool
	Address string
}

// HubConfig holds the formation hub client settings
type HubConfig struct {
	ServerURL string
	APIKey    string
}

// OTelConfig holds the OpenTelemetry export settings
type OTelConfig struct {
	Enabled      bool
	ServiceName  string
	BatchTimeout time.Duration
	Endpoint     string
	Insecure     bool
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. A missing file
// is not an error: defaults plus ROTATIOND_* environment overrides apply.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./rotationlogs")

	viper.SetDefault("hub.serverUrl", "http://localhost:5000")
	viper.SetDefault("hub.apiKey", "")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "rotation")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "rotation-metrics")
	viper.SetDefault("influx.bucket", "engine")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "rotationd")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./formations")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.sqlite.path", "./rotation.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")
	viper.SetDefault("storage.websocket.url", "ws://localhost:5001/ingest")
	viper.SetDefault("storage.websocket.secret", "")
	viper.SetDefault("storage.websocket.reconnectInterval", "5s")

	viper.SetDefault("engine.snapEnabled", true)
	viper.SetDefault("engine.boundsEnabled", true)
	viper.SetDefault("engine.allowServiceZone", true)
	viper.SetDefault("engine.historyDepth", 50)

	viper.SetDefault("http.addr", ":8080")
	viper.SetDefault("http.debugAddr", "127.0.0.1:6060")
	viper.SetDefault("http.allowedOrigins", []string{"*"})
	viper.SetDefault("http.rateLimit", 20)
	viper.SetDefault("http.rateBurst", 40)

	viper.SetDefault("monitor.interval", "30s")

	viper.SetConfigName("rotationd.cfg.json")
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	viper.SetEnvPrefix("ROTATIOND")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// Set overrides a config value ahead of file, environment and default
// values. Used for command line overrides.
func Set(key string, value any) {
	viper.Set(key, value)
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetStorageConfig returns the persistence backend settings.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
		Websocket: WebsocketConfig{
			URL:       viper.GetString("storage.websocket.url"),
			Secret:    viper.GetString("storage.websocket.secret"),
			Reconnect: viper.GetDuration("storage.websocket.reconnectInterval"),
		},
	}
}

// GetEngineConfig returns the rule engine toggles.
func GetEngineConfig() EngineConfig {
	return EngineConfig{
		SnapEnabled:      viper.GetBool("engine.snapEnabled"),
		BoundsEnabled:    viper.GetBool("engine.boundsEnabled"),
		AllowServiceZone: viper.GetBool("engine.allowServiceZone"),
		HistoryDepth:     viper.GetInt("engine.historyDepth"),
	}
}

// GetServerConfig returns the HTTP surface settings.
func GetServerConfig() ServerConfig {
	return ServerConfig{
		Addr:           viper.GetString("http.addr"),
		DebugAddr:      viper.GetString("http.debugAddr"),
		AllowedOrigins: viper.GetStringSlice("http.allowedOrigins"),
		RateLimit:      viper.GetFloat64("http.rateLimit"),
		RateBurst:      viper.GetInt("http.rateBurst"),
	}
}

// GetMonitorInterval returns how often the health monitor samples.
func GetMonitorInterval() time.Duration {
	return viper.GetDuration("monitor.interval")
}

// GetDatabaseConfig returns the postgres connection settings.
func GetDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Host:     viper.GetString("db.host"),
		Port:     viper.GetString("db.port"),
		Username: viper.GetString("db.username"),
		Password: viper.GetString("db.password"),
		Database: viper.GetString("db.database"),
	}
}

// GetInfluxConfig returns the metrics sink settings with the URL already
// assembled from protocol, host and port.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled: viper.GetBool("influx.enabled"),
		URL: fmt.Sprintf("%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port")),
		Token:  viper.GetString("influx.token"),
		Org:    viper.GetString("influx.org"),
		Bucket: viper.GetString("influx.bucket"),
	}
}

// GetGraylogConfig returns the GELF log target settings.
func GetGraylogConfig() GraylogConfig {
	return GraylogConfig{
		Enabled: viper.GetBool("graylog.enabled"),
		Address: viper.GetString("graylog.address"),
	}
}

// GetHubConfig returns the formation hub client settings.
func GetHubConfig() HubConfig {
	return HubConfig{
		ServerURL: viper.GetString("hub.serverUrl"),
		APIKey:    viper.GetString("hub.apiKey"),
	}
}

// GetOTelConfig returns the OpenTelemetry export settings.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}
