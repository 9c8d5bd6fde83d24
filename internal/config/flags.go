package config

import "flag"

var (
	flagConfig     = flag.String("config", "", "Path to config file")
	flagDebug      = flag.Bool("debug", false, "Enable debug logging")
	flagLogFile    = flag.String("log-file", "", "Also log to this file, rotated")
	flagMaxLevel   = flag.Int("max-level", -1, "Deepest subdivision level")
	flagTexSize    = flag.Int("texture-size", 0, "Composited texture size per tile")
	flagCPUTerrain = flag.Bool("cpu-terrain", false, "Deform tile geometry on the CPU")
	flagSegments   = flag.Int("segments", 0, "Grid segments per tile side")
	flagWindowed   = flag.Bool("windowed", false, "Run in windowed mode")
	flagFullscreen = flag.Bool("fullscreen", false, "Run in fullscreen mode")
	flagWidth      = flag.Int("width", 0, "Window width")
	flagHeight     = flag.Int("height", 0, "Window height")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagLogFile != "" {
		cfg.Logging.LogFile = *flagLogFile
	}
	if *flagMaxLevel >= 0 {
		cfg.Terrain.MaxLevel = *flagMaxLevel
	}
	if *flagTexSize > 0 {
		cfg.Terrain.TextureSize = *flagTexSize
	}
	if *flagCPUTerrain {
		cfg.Terrain.CPUTerrain = true
	}
	if *flagSegments > 0 {
		cfg.Terrain.Segments = *flagSegments
	}
	if *flagWindowed {
		cfg.Graphics.Fullscreen = false
	}
	if *flagFullscreen {
		cfg.Graphics.Fullscreen = true
	}
	if *flagWidth > 0 {
		cfg.Graphics.Width = *flagWidth
	}
	if *flagHeight > 0 {
		cfg.Graphics.Height = *flagHeight
	}
}
