package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// ConfigFile is the name of the configuration file inside the config dir.
const ConfigFile = "latzu.yaml"

// LatzuYAMLConfig represents the complete latzu.yaml file structure.
// Omitted sections and zero-valued fields keep their built-in defaults.
type LatzuYAMLConfig struct {
	Server    *ServerConfig    `yaml:"server"`
	Relay     *RelayConfig     `yaml:"relay"`
	Realtime  *RealtimeConfig  `yaml:"realtime"`
	Store     *StoreConfig     `yaml:"store"`
	API       *APIConfig       `yaml:"api"`
	Retention *RetentionConfig `yaml:"retention"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Read latzu.yaml from configDir
//  2. Expand {{.ENV}} references
//  3. Parse YAML
//  4. Merge each section over the built-in defaults
//  5. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"http_port", cfg.Server.HTTPPort,
		"ai_url", cfg.Relay.AIURL,
		"ws_url", cfg.Realtime.WSURL)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	file, err := loadYAML(filepath.Join(configDir, ConfigFile))
	if err != nil {
		return nil, NewLoadError(ConfigFile, err)
	}

	cfg := Default()
	cfg.configDir = configDir

	sections := []struct {
		name string
		dst  any
		src  any
		set  bool
	}{
		{"server", cfg.Server, file.Server, file.Server != nil},
		{"relay", cfg.Relay, file.Relay, file.Relay != nil},
		{"realtime", cfg.Realtime, file.Realtime, file.Realtime != nil},
		{"store", cfg.Store, file.Store, file.Store != nil},
		{"api", cfg.API, file.API, file.API != nil},
		{"retention", cfg.Retention, file.Retention, file.Retention != nil},
	}
	for _, s := range sections {
		if !s.set {
			continue
		}
		// Non-zero user values override the defaults.
		if err := mergo.Merge(s.dst, s.src, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge %s config: %w", s.name, err)
		}
	}
	return cfg, nil
}

func loadYAML(path string) (*LatzuYAMLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, err
	}

	data = ExpandEnv(data)

	var file LatzuYAMLConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return &file, nil
}
