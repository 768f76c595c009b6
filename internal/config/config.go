// Package config loads the diarizer's application settings from a .env
// file, an optional YAML file and DIARIZER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/lokutor-ai/lokutor-diarizer/internal/logging"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/diarization"
	"github.com/lokutor-ai/lokutor-diarizer/pkg/transport"
)

const EnvPrefix = "DIARIZER"

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type AudioConfig struct {
	SampleRate int           `mapstructure:"sample_rate"`
	Frame      time.Duration `mapstructure:"frame"`
}

type StoreConfig struct {
	// Dir is the badger directory. Empty keeps profiles in memory.
	Dir   string `mapstructure:"dir"`
	Owner string `mapstructure:"owner"`
}

type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	OriginPatterns []string      `mapstructure:"origin_patterns"`
}

type DetectionConfig struct {
	EstimatorBudget       time.Duration `mapstructure:"estimator_budget"`
	CycleBudget           time.Duration `mapstructure:"cycle_budget"`
	MinEnsembleConfidence float64       `mapstructure:"min_ensemble_confidence"`
	LearningRate          float64       `mapstructure:"learning_rate"`
	EmbeddingSeed         uint64        `mapstructure:"embedding_seed"`
}

type EnrollmentConfig struct {
	MinSamples int           `mapstructure:"min_samples"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

// Config holds application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Store      StoreConfig      `mapstructure:"store"`
	Server     ServerConfig     `mapstructure:"server"`
	Detection  DetectionConfig  `mapstructure:"detection"`
	Enrollment EnrollmentConfig `mapstructure:"enrollment"`
}

func DefaultConfig() Config {
	engine := diarization.DefaultConfig()
	tr := transport.DefaultConfig()
	return Config{
		Log:   LogConfig{Level: string(logging.LevelInfo)},
		Audio: AudioConfig{SampleRate: 16000, Frame: 500 * time.Millisecond},
		Store: StoreConfig{Owner: "default"},
		Server: ServerConfig{
			Addr:           ":8080",
			ReadLimit:      tr.ReadLimit,
			RequestTimeout: tr.RequestTimeout,
		},
		Detection: DetectionConfig{
			EstimatorBudget:       engine.EstimatorBudget,
			CycleBudget:           engine.CycleBudget,
			MinEnsembleConfidence: engine.MinEnsembleConfidence,
			LearningRate:          engine.LearningRate,
			EmbeddingSeed:         engine.EmbeddingSeed,
		},
		Enrollment: EnrollmentConfig{
			MinSamples: engine.Enrollment.MinSamples,
			SessionTTL: engine.Enrollment.SessionTTL,
		},
	}
}

// Load reads envFiles (".env" when none are given; missing files are
// ignored), then the YAML file at configPath or ./diarizer.yaml, then
// DIARIZER_* variables such as DIARIZER_SERVER_ADDR.
func Load(configPath string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("diarizer")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
	v.SetDefault("audio.sample_rate", d.Audio.SampleRate)
	v.SetDefault("audio.frame", d.Audio.Frame)
	v.SetDefault("store.dir", d.Store.Dir)
	v.SetDefault("store.owner", d.Store.Owner)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_limit", d.Server.ReadLimit)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.origin_patterns", d.Server.OriginPatterns)
	v.SetDefault("detection.estimator_budget", d.Detection.EstimatorBudget)
	v.SetDefault("detection.cycle_budget", d.Detection.CycleBudget)
	v.SetDefault("detection.min_ensemble_confidence", d.Detection.MinEnsembleConfidence)
	v.SetDefault("detection.learning_rate", d.Detection.LearningRate)
	v.SetDefault("detection.embedding_seed", d.Detection.EmbeddingSeed)
	v.SetDefault("enrollment.min_samples", d.Enrollment.MinSamples)
	v.SetDefault("enrollment.session_ttl", d.Enrollment.SessionTTL)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("invalid audio sample rate: %d", c.Audio.SampleRate)
	}
	if c.Audio.Frame <= 0 {
		return fmt.Errorf("invalid audio frame duration: %s", c.Audio.Frame)
	}
	if c.Store.Owner == "" {
		return errors.New("store owner is required")
	}
	if c.Enrollment.MinSamples < 1 {
		return fmt.Errorf("invalid enrollment min samples: %d", c.Enrollment.MinSamples)
	}
	if c.Detection.MinEnsembleConfidence < 0 || c.Detection.MinEnsembleConfidence > 1 {
		return fmt.Errorf("invalid min ensemble confidence: %v", c.Detection.MinEnsembleConfidence)
	}
	return nil
}

// Engine returns the engine configuration with the overrides applied.
func (c *Config) Engine() diarization.Config {
	cfg := diarization.DefaultConfig()
	cfg.EstimatorBudget = c.Detection.EstimatorBudget
	cfg.CycleBudget = c.Detection.CycleBudget
	cfg.MinEnsembleConfidence = c.Detection.MinEnsembleConfidence
	cfg.LearningRate = c.Detection.LearningRate
	cfg.EmbeddingSeed = c.Detection.EmbeddingSeed
	cfg.Enrollment.MinSamples = c.Enrollment.MinSamples
	cfg.Enrollment.SessionTTL = c.Enrollment.SessionTTL
	return cfg
}

func (c *Config) Transport() transport.Config {
	return transport.Config{
		ReadLimit:      c.Server.ReadLimit,
		RequestTimeout: c.Server.RequestTimeout,
		OriginPatterns: c.Server.OriginPatterns,
	}
}

func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}
