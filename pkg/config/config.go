// Package config loads the CLI configuration from a YAML file and .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	AppName = "mangotango"

	FileName = "config.yaml"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

type Config struct {
	// DataDir holds the metadata document and every project.
	DataDir string `yaml:"data_dir" validate:"required"`
	// CacheDir holds the metadata lock file.
	CacheDir string `yaml:"cache_dir" validate:"required"`
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		SampleRatio float64 `yaml:"sample_ratio" validate:"min=0,max=1"`
	} `yaml:"tracing"`
}

// DefaultPath is where Load looks when no file is given.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}

	return filepath.Join(dir, AppName, FileName), nil
}

// Default returns the configuration used when no file overrides it.
func Default() (*Config, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate config directory: %w", err)
	}

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return nil, fmt.Errorf("failed to locate cache directory: %w", err)
	}

	cfg := &Config{
		DataDir:  filepath.Join(configDir, AppName),
		CacheDir: filepath.Join(cacheDir, AppName),
		LogLevel: "info",
	}
	cfg.Tracing.ServiceName = AppName

	return cfg, nil
}

// Load reads path over the defaults. An empty path reads DefaultPath, which
// may be missing; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	explicit := path != ""
	if !explicit {
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist) && !explicit:
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadEnv loads .env style files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}
