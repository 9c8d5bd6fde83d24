// Package config handles engine configuration loading and management.
package config

// Config holds all engine settings.
type Config struct {
	Graphics   GraphicsConfig   `yaml:"graphics"`
	Terrain    TerrainConfig    `yaml:"terrain"`
	Compositor CompositorConfig `yaml:"compositor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GraphicsConfig holds viewer display settings.
type GraphicsConfig struct {
	Width      int  `yaml:"width"`
	Height     int  `yaml:"height"`
	Fullscreen bool `yaml:"fullscreen"`
	VSync      bool `yaml:"vsync"`
}

// TerrainConfig holds tile geometry and LOD settings.
type TerrainConfig struct {
	Segments    int  `yaml:"segments"`     // Grid segments per tile side
	CPUTerrain  bool `yaml:"cpu_terrain"`  // Deform tile geometry on the CPU
	MaxLevel    int  `yaml:"max_level"`    // Deepest subdivision level
	TextureSize int  `yaml:"texture_size"` // Composited texture size per tile
	RootsX      int  `yaml:"roots_x"`      // Root tiles along X
	RootsY      int  `yaml:"roots_y"`      // Root tiles along Y
}

// CompositorConfig holds layer image compositing settings.
type CompositorConfig struct {
	WarpSegments     int  `yaml:"warp_segments"`       // Lattice segments for reprojected images
	FillNoData       bool `yaml:"fill_no_data"`        // Post-process composites to fill no-data pixels
	FillNoDataRadius int  `yaml:"fill_no_data_radius"` // Search radius in pixels
	CleanupBudget    int  `yaml:"cleanup_budget"`      // Images disposed per tick, 0 = unlimited
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // console or json, file output only
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Graphics: GraphicsConfig{
			Width:      1280,
			Height:     720,
			Fullscreen: false,
			VSync:      true,
		},
		Terrain: TerrainConfig{
			Segments:    32,
			CPUTerrain:  false,
			MaxLevel:    18,
			TextureSize: 256,
			RootsX:      1,
			RootsY:      1,
		},
		Compositor: CompositorConfig{
			WarpSegments:     8,
			FillNoData:       true,
			FillNoDataRadius: 8,
			CleanupBudget:    0,
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "console",
			LogFile: "",
		},
	}
}
