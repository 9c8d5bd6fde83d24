package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/tessera/internal/logger"
)

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Try to load from file (explicit path takes priority)
	configPath := ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	// Apply CLI flags (highest priority)
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		filepath.Join(ConfigDir(), "config.yaml"),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "Tessera")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "Tessera")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "tessera")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "tessera")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// Validate rejects settings the tile core cannot work with.
func (c *Config) Validate() error {
	if c.Terrain.Segments < 1 {
		return fmt.Errorf("terrain.segments must be positive, got %d", c.Terrain.Segments)
	}
	if c.Terrain.TextureSize < 1 {
		return fmt.Errorf("terrain.texture_size must be positive, got %d", c.Terrain.TextureSize)
	}
	if c.Terrain.RootsX < 1 || c.Terrain.RootsY < 1 {
		return fmt.Errorf("terrain.roots_x and roots_y must be positive, got %dx%d", c.Terrain.RootsX, c.Terrain.RootsY)
	}
	if c.Compositor.WarpSegments < 1 {
		return fmt.Errorf("compositor.warp_segments must be positive, got %d", c.Compositor.WarpSegments)
	}
	if c.Compositor.FillNoDataRadius < 0 {
		return fmt.Errorf("compositor.fill_no_data_radius must not be negative, got %d", c.Compositor.FillNoDataRadius)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	switch c.Logging.Format {
	case "", logger.FormatConsole, logger.FormatJSON:
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// LoggerOptions converts the logging section for logger.Setup.
func (c *Config) LoggerOptions() logger.Options {
	opts := logger.Options{
		Level:   c.Logging.Level,
		Format:  c.Logging.Format,
		Console: true,
	}
	if c.Logging.LogFile != "" {
		opts.File = logger.DefaultFileConfig(c.Logging.LogFile)
	}
	return opts
}
