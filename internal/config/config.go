package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains engine configuration parameters.
type Config struct {
	LogLevel int    `env:"LOG_LEVEL" envDefault:"0"`
	DataDir  string `env:"DATA_DIR" envDefault:".hearthvault"`
	Sync     Sync   `envPrefix:"SYNC_"`
	KDF      KDF    `envPrefix:"KDF_"`
	Drive    Drive  `envPrefix:"DRIVE_"`
	Object   Object `envPrefix:"OBJECT_"`
}

// Sync contains orchestrator tuning parameters.
type Sync struct {
	FamilyID           string        `env:"FAMILY_ID"`
	FamilyName         string        `env:"FAMILY_NAME"`
	FilePath           string        `env:"FILE_PATH" envDefault:"hearthvault.json"`
	Password           string        `env:"PASSWORD"`
	Debounce           time.Duration `env:"DEBOUNCE" envDefault:"2s"`
	PollInterval       time.Duration `env:"POLL_INTERVAL" envDefault:"1m"`
	TombstoneRetention time.Duration `env:"TOMBSTONE_RETENTION" envDefault:"720h"`
	SettingsLogMaxAge  time.Duration `env:"SETTINGS_LOG_MAX_AGE" envDefault:"24h"`
}

// KDF contains key derivation parameters for the encryption service.
type KDF struct {
	Time   uint32 `env:"TIME" envDefault:"3"`
	MemKiB uint32 `env:"MEM" envDefault:"65536"`
	Par    uint8  `env:"PAR" envDefault:"4"`
}

// Drive contains cloud drive parameters. An empty ClientID means the
// drive provider is not configured and must not be offered.
type Drive struct {
	ClientID       string        `env:"CLIENT_ID"`
	Token          string        `env:"TOKEN"`
	Endpoint       string        `env:"ENDPOINT" envDefault:"https://www.googleapis.com"`
	RefreshTimeout time.Duration `env:"REFRESH_TIMEOUT" envDefault:"5s"`
}

// Object contains S3-compatible object storage parameters for the
// self-hosted mirror provider.
type Object struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET_NAME" envDefault:"hearthvault-files"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &cfg, nil
}
