package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type HTTPConfig struct {
	Host string
	Port int
}

type DBConfig struct {
	Driver          string
	DSN             string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type AuthConfig struct {
	AccessSecret string
}

type CameraConfig struct {
	ID              string
	HTTPHost        string
	SnapshotPath    string
	Username        string
	Password        string
	Model           string
	CaptureInterval time.Duration
}

type DetectorConfig struct {
	URL           string
	Timeout       time.Duration
	MinConfidence float64
}

type ClassifierConfig struct {
	AcceptedClasses  []string
	MinConfidence    float64
	OverlapThreshold float64
}

type SpotsConfig struct {
	File        string
	MappingFile string
}

type MonitorConfig struct {
	Enabled   bool
	FrameSkip int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

type MQTTConfig struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

type R2Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	PublicBaseURL   string
	KeyPrefix       string
}

type RetentionConfig struct {
	EventDays int
	Interval  time.Duration
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	DB          DBConfig
	Auth        AuthConfig
	Camera      CameraConfig
	Detector    DetectorConfig
	Classifier  ClassifierConfig
	Spots       SpotsConfig
	Monitor     MonitorConfig
	Redis       RedisConfig
	MQTT        MQTTConfig
	R2          R2Config
	Retention   RetentionConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("./deploy")
	v.AddConfigPath("./internal/config")

	v.AutomaticEnv()

	v.SetDefault("DETECTOR_MIN_CONFIDENCE", 0.25)
	v.SetDefault("CLASSIFIER_MIN_CONFIDENCE", 0.3)
	v.SetDefault("CLASSIFIER_OVERLAP_THRESHOLD", 0.02)
	v.SetDefault("MONITOR_ENABLED", true)

	_ = v.ReadInConfig()

	cfg := &Config{
		Environment: v.GetString("APP_ENV"),
		HTTP: HTTPConfig{
			Host: v.GetString("HTTP_HOST"),
			Port: v.GetInt("HTTP_PORT"),
		},
		DB: DBConfig{
			Driver:          strings.ToLower(strings.TrimSpace(v.GetString("DB_DRIVER"))),
			DSN:             v.GetString("DB_DSN"),
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        v.GetString("DB_PASSWORD"),
			Name:            v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: v.GetDuration("DB_CONN_MAX_LIFETIME"),
		},
		Auth: AuthConfig{
			AccessSecret: v.GetString("JWT_ACCESS_SECRET"),
		},
		Camera: CameraConfig{
			ID:              v.GetString("CAMERA_ID"),
			HTTPHost:        v.GetString("CAMERA_HTTP_HOST"),
			SnapshotPath:    v.GetString("CAMERA_SNAPSHOT_PATH"),
			Username:        v.GetString("CAMERA_USERNAME"),
			Password:        v.GetString("CAMERA_PASSWORD"),
			Model:           v.GetString("CAMERA_MODEL"),
			CaptureInterval: v.GetDuration("CAPTURE_INTERVAL"),
		},
		Detector: DetectorConfig{
			URL:           v.GetString("DETECTOR_URL"),
			Timeout:       v.GetDuration("DETECTOR_TIMEOUT"),
			MinConfidence: v.GetFloat64("DETECTOR_MIN_CONFIDENCE"),
		},
		Classifier: ClassifierConfig{
			AcceptedClasses:  splitList(v.GetString("CLASSIFIER_ACCEPTED_CLASSES")),
			MinConfidence:    v.GetFloat64("CLASSIFIER_MIN_CONFIDENCE"),
			OverlapThreshold: v.GetFloat64("CLASSIFIER_OVERLAP_THRESHOLD"),
		},
		Spots: SpotsConfig{
			File:        v.GetString("SPOTS_FILE"),
			MappingFile: v.GetString("SPOT_MAPPING_FILE"),
		},
		Monitor: MonitorConfig{
			Enabled:   v.GetBool("MONITOR_ENABLED"),
			FrameSkip: v.GetInt("FRAME_SKIP"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
			LockTTL:  v.GetDuration("SYNC_LOCK_TTL"),
		},
		MQTT: MQTTConfig{
			Broker:      v.GetString("MQTT_BROKER"),
			ClientID:    v.GetString("MQTT_CLIENT_ID"),
			Username:    v.GetString("MQTT_USERNAME"),
			Password:    v.GetString("MQTT_PASSWORD"),
			TopicPrefix: v.GetString("MQTT_TOPIC_PREFIX"),
		},
		R2: R2Config{
			Endpoint:        strings.TrimSpace(v.GetString("R2_ENDPOINT")),
			AccessKeyID:     strings.TrimSpace(v.GetString("R2_ACCESS_KEY_ID")),
			SecretAccessKey: strings.TrimSpace(v.GetString("R2_SECRET_ACCESS_KEY")),
			Bucket:          strings.TrimSpace(v.GetString("R2_BUCKET")),
			Region:          strings.TrimSpace(v.GetString("R2_REGION")),
			PublicBaseURL:   strings.TrimRight(strings.TrimSpace(v.GetString("R2_PUBLIC_BASE_URL")), "/"),
			KeyPrefix:       strings.Trim(strings.TrimSpace(v.GetString("R2_KEY_PREFIX")), "/"),
		},
		Retention: RetentionConfig{
			EventDays: v.GetInt("EVENT_RETENTION_DAYS"),
			Interval:  v.GetDuration("EVENT_RETENTION_INTERVAL"),
		},
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = DriverPostgres
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.Camera.ID == "" {
		cfg.Camera.ID = "camera-001"
	}
	if cfg.Camera.SnapshotPath == "" {
		cfg.Camera.SnapshotPath = "/ISAPI/Streaming/channels/101/picture"
	}
	if cfg.Camera.CaptureInterval == 0 {
		cfg.Camera.CaptureInterval = 500 * time.Millisecond
	}
	if cfg.Detector.Timeout == 0 {
		cfg.Detector.Timeout = 10 * time.Second
	}
	if len(cfg.Classifier.AcceptedClasses) == 0 {
		cfg.Classifier.AcceptedClasses = []string{"car", "toy_car", "vehicle", "truck", "bus", "motorcycle"}
	}
	if cfg.Spots.File == "" {
		cfg.Spots.File = "config/parking_spots.json"
	}
	if cfg.Spots.MappingFile == "" {
		cfg.Spots.MappingFile = "config/spot_mapping.json"
	}
	if cfg.Monitor.FrameSkip == 0 {
		cfg.Monitor.FrameSkip = 2
	}
	if cfg.Redis.LockTTL == 0 {
		cfg.Redis.LockTTL = 30 * time.Second
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "parking-occupancy-service"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "parking/spaces"
	}
	if cfg.R2.Region == "" {
		cfg.R2.Region = "auto"
	}
	if cfg.R2.KeyPrefix == "" {
		cfg.R2.KeyPrefix = "snapshots"
	}
	if cfg.Retention.Interval == 0 {
		cfg.Retention.Interval = 24 * time.Hour
	}
}

func validate(cfg *Config) error {
	if cfg.DB.Driver != DriverPostgres && cfg.DB.Driver != DriverMySQL {
		return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMySQL, cfg.DB.Driver)
	}
	if cfg.DB.DSN == "" && cfg.DB.Host == "" {
		return fmt.Errorf("DB_DSN or DB_HOST is required")
	}
	if cfg.Auth.AccessSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET is required")
	}
	if cfg.Monitor.FrameSkip < 1 {
		return fmt.Errorf("FRAME_SKIP must be at least 1")
	}
	if cfg.Monitor.Enabled && cfg.Detector.URL == "" {
		return fmt.Errorf("DETECTOR_URL is required when MONITOR_ENABLED is set")
	}
	if cfg.Monitor.Enabled && cfg.Camera.HTTPHost == "" {
		return fmt.Errorf("CAMERA_HTTP_HOST is required when MONITOR_ENABLED is set")
	}
	if cfg.Classifier.OverlapThreshold <= 0 {
		return fmt.Errorf("CLASSIFIER_OVERLAP_THRESHOLD must be positive")
	}
	if cfg.Retention.EventDays < 0 {
		return fmt.Errorf("EVENT_RETENTION_DAYS must not be negative")
	}
	for name, value := range map[string]float64{
		"DETECTOR_MIN_CONFIDENCE":      cfg.Detector.MinConfidence,
		"CLASSIFIER_MIN_CONFIDENCE":    cfg.Classifier.MinConfidence,
		"CLASSIFIER_OVERLAP_THRESHOLD": cfg.Classifier.OverlapThreshold,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be within [0,1], got %v", name, value)
		}
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
