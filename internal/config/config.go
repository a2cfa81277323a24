package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Room     RoomConfig     `yaml:"room"`
	Scoring  ScoringConfig  `yaml:"scoring"`
	Badges   []BadgeConfig  `yaml:"badges"`
	Relay    RelayConfig    `yaml:"relay"`
}

type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DatabaseConfig selects the event store. An empty DSN disables persistence.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // "postgres" | "sqlite"
	DSN    string `yaml:"dsn"`
}

// NATSConfig enables event mirroring when URL is set.
type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type RoomConfig struct {
	MaxParticipants    int           `yaml:"max_participants"`
	DefaultGoalMinutes int           `yaml:"default_goal_minutes"`
	MinParticipants    int           `yaml:"min_participants"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	MissedHeartbeats   int           `yaml:"missed_heartbeats"`
	EmptyGrace         time.Duration `yaml:"empty_grace"`
	SubscriberBuffer   int           `yaml:"subscriber_buffer"`
}

type ScoringConfig struct {
	Coefficient   float64       `yaml:"coefficient"`
	MinConfidence float64       `yaml:"min_confidence"`
	MaxSkew       time.Duration `yaml:"max_skew"`
}

type BadgeConfig struct {
	Name     string `yaml:"name"`
	MinScore int64  `yaml:"min_score"`
}

type RelayConfig struct {
	QueueSize int `yaml:"queue_size"`
}

func Default() Config {
	return Config{
		HTTP: HTTPConfig{Addr: ":8080", AllowedOrigins: []string{"*"}},
		Log:  LogConfig{Level: "info"},
		Database: DatabaseConfig{
			Driver: "postgres",
		},
		NATS: NATSConfig{SubjectPrefix: "studyroom"},
		Room: RoomConfig{
			MaxParticipants:    12,
			DefaultGoalMinutes: 50,
			MinParticipants:    2,
			HeartbeatInterval:  15 * time.Second,
			MissedHeartbeats:   2,
			EmptyGrace:         2 * time.Minute,
			SubscriberBuffer:   32,
		},
		Scoring: ScoringConfig{Coefficient: 0.1, MaxSkew: 5 * time.Second},
		Badges: []BadgeConfig{
			{Name: "focus master", MinScore: 1000},
			{Name: "diligent learner", MinScore: 500},
			{Name: "first step", MinScore: 100},
		},
		Relay: RelayConfig{QueueSize: 1024},
	}
}

// Load reads .env (if present), the optional YAML file at path, and then
// applies environment overrides on top of the defaults.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.Log.Level = getEnv("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Development = getEnvAsBool("LOG_DEVELOPMENT", cfg.Log.Development)
	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = getEnv("DATABASE_URL", cfg.Database.DSN)
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	cfg.NATS.SubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", cfg.NATS.SubjectPrefix)
	cfg.Room.MinParticipants = getEnvAsInt("ROOM_MIN_PARTICIPANTS", cfg.Room.MinParticipants)
	cfg.Room.MaxParticipants = getEnvAsInt("ROOM_MAX_PARTICIPANTS", cfg.Room.MaxParticipants)
	cfg.Scoring.Coefficient = getEnvAsFloat("SCORE_COEFFICIENT", cfg.Scoring.Coefficient)
}

func (c Config) Validate() error {
	switch {
	case c.Room.MinParticipants < 1:
		return fmt.Errorf("room.min_participants must be at least 1")
	case c.Room.MaxParticipants < c.Room.MinParticipants:
		return fmt.Errorf("room.max_participants (%d) below min_participants (%d)", c.Room.MaxParticipants, c.Room.MinParticipants)
	case c.Room.HeartbeatInterval <= 0 || c.Room.MissedHeartbeats < 1:
		return fmt.Errorf("room heartbeat window must be positive")
	case c.Room.DefaultGoalMinutes <= 0:
		return fmt.Errorf("room.default_goal_minutes must be positive")
	case c.Scoring.Coefficient <= 0:
		return fmt.Errorf("scoring.coefficient must be positive")
	case c.Scoring.MinConfidence < 0 || c.Scoring.MinConfidence > 1:
		return fmt.Errorf("scoring.min_confidence must be within [0,1]")
	}
	if c.Database.DSN != "" && c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
