package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	Server   ServerConfig   `json:"server"`
	Sensors  SensorsConfig  `json:"sensors"`
	Behavior BehaviorConfig `json:"behavior"`
	Hazards  HazardsConfig  `json:"hazards"`
	Advisor  AdvisorConfig  `json:"advisor"`
	Advisory AdvisoryConfig `json:"advisory"`
	Safety   SafetyConfig   `json:"safety"`
	TripLog  TripLogConfig  `json:"trip_log"`
	Redis    RedisConfig    `json:"redis"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	Environment  string        `json:"environment"`
}

type SensorsConfig struct {
	TickInterval time.Duration `json:"tick_interval"`
	SimSeed      int64         `json:"sim_seed"`
	OriginLat    float64       `json:"origin_lat"`
	OriginLon    float64       `json:"origin_lon"`
	RoadType     string        `json:"road_type"`
}

type BehaviorConfig struct {
	MaxClusters  int     `json:"max_clusters"`
	OutlierSigma float64 `json:"outlier_sigma"`
}

type HazardsConfig struct {
	AccidentsCSV string `json:"accidents_csv"`
	FinesCSV     string `json:"fines_csv"`
}

type AdvisorConfig struct {
	URL         string        `json:"url"`
	Enabled     bool          `json:"enabled"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Timeout     time.Duration `json:"timeout"`
}

type AdvisoryConfig struct {
	MinInterval   time.Duration `json:"min_interval"`
	SafetyTimeout time.Duration `json:"safety_timeout"`
	SafetyRadiusM float64       `json:"safety_radius_m"`
	MaxAttempts   int           `json:"max_attempts"`
	QueueSize     int           `json:"queue_size"`
}

type SafetyConfig struct {
	Interval     time.Duration `json:"interval"`
	HotInterval  time.Duration `json:"hot_interval"`
	AlertBackoff time.Duration `json:"alert_backoff"`
}

type TripLogConfig struct {
	Dir string `json:"dir"`
}

type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type SecurityConfig struct {
	AllowedOrigins []string      `json:"allowed_origins"`
	RateLimitRPS   int           `json:"rate_limit_rps"`
	RateLimitBurst int           `json:"rate_limit_burst"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// LoadConfig reads the optional .env file, then the environment, falling
// back to defaults that bring the node up against local datasets and a
// local completion server.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvAsInt("SERVER_PORT", 8000),
			ReadTimeout:  getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Environment:  getEnv("ENVIRONMENT", "development"),
		},
		Sensors: SensorsConfig{
			TickInterval: getEnvAsDuration("TICK_INTERVAL", 1*time.Second),
			SimSeed:      getEnvAsInt64("SIM_SEED", 42),
			OriginLat:    getEnvAsFloat("SIM_ORIGIN_LAT", -5.813),
			OriginLon:    getEnvAsFloat("SIM_ORIGIN_LON", -35.205),
			RoadType:     getEnv("ROAD_TYPE", "city"),
		},
		Behavior: BehaviorConfig{
			MaxClusters:  getEnvAsInt("MMCLOUD_MAX_CLUSTERS", 3),
			OutlierSigma: getEnvAsFloat("MMCLOUD_OUTLIER_SIGMA", 2.67),
		},
		Hazards: HazardsConfig{
			AccidentsCSV: getEnv("ACIDENTES_CSV", "data/acidentes_processado.csv"),
			FinesCSV:     getEnv("MULTAS_CSV", "data/multas_processado.csv"),
		},
		Advisor: AdvisorConfig{
			URL:         getEnv("LLM_URL", "http://127.0.0.1:8080/completion"),
			Enabled:     getEnvAsBool("LLM_ENABLED", true),
			MaxTokens:   getEnvAsInt("LLM_MAX_TOKENS", 48),
			Temperature: getEnvAsFloat("LLM_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("LLM_TIMEOUT", 8*time.Second),
		},
		Advisory: AdvisoryConfig{
			MinInterval:   getEnvAsDuration("LLM_MIN_INTERVAL", 12*time.Second),
			SafetyTimeout: getEnvAsDuration("SAFETY_LOOKUP_TIMEOUT", 250*time.Millisecond),
			SafetyRadiusM: getEnvAsFloat("SAFETY_RADIUS_M", 500),
			MaxAttempts:   getEnvAsInt("LLM_MAX_ATTEMPTS", 3),
			QueueSize:     getEnvAsInt("ADVISORY_QUEUE_SIZE", 128),
		},
		Safety: SafetyConfig{
			Interval:     getEnvAsDuration("SAFETY_CHECK_INTERVAL", 8*time.Second),
			HotInterval:  getEnvAsDuration("SAFETY_HOT_INTERVAL", 3*time.Second),
			AlertBackoff: getEnvAsDuration("SAFETY_ALERT_BACKOFF", 20*time.Second),
		},
		TripLog: TripLogConfig{
			Dir: getEnv("TRIP_LOG_DIR", "./trips"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Security: SecurityConfig{
			AllowedOrigins: getEnvAsStringSlice("ALLOWED_ORIGINS", []string{"*"}),
			RateLimitRPS:   getEnvAsInt("RATE_LIMIT_RPS", 50),
			RateLimitBurst: getEnvAsInt("RATE_LIMIT_BURST", 100),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}
}

func (c *Config) Validate(logger *zap.Logger) error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server port must be between 1 and 65535")
	}
	if c.Sensors.TickInterval <= 0 {
		errs = append(errs, "tick interval must be positive")
	}
	if c.Behavior.MaxClusters < 1 {
		errs = append(errs, "max clusters must be at least 1")
	}
	if c.Hazards.AccidentsCSV == "" || c.Hazards.FinesCSV == "" {
		errs = append(errs, "both hazard dataset paths are required")
	}
	if c.Advisor.Enabled && c.Advisor.URL == "" {
		errs = append(errs, "LLM URL is required when the LLM is enabled")
	}
	if c.Advisory.MaxAttempts < 1 {
		errs = append(errs, "advisory max attempts must be at least 1")
	}
	if c.Redis.Addr == "" {
		logger.Info("no redis configured, using in-memory cache")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, ", "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvAsStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
