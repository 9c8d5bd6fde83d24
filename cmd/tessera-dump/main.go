// Package main renders the demo scene on the software device and writes the
// composited layer textures of every displayed tile as PNG files.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/Faultbox/tessera/internal/config"
	"github.com/Faultbox/tessera/internal/export"
	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/layer"
	"github.com/Faultbox/tessera/internal/logger"
	"github.com/Faultbox/tessera/internal/scene"
	"github.com/Faultbox/tessera/internal/tile"
)

var (
	flagLevel   = flag.Int("level", 2, "Subdivision level to render")
	flagOut     = flag.String("out", "tiles", "Output directory")
	flagSize    = flag.Int("size", 0, "Resize written images to this size, 0 keeps the texture size")
	flagTimeout = flag.Duration("timeout", time.Minute, "Time allowed for loading")
)

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Setup(cfg.LoggerOptions()); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("=== Tessera tile dump ===")
	logger.Sugar.Debugf("Config: %+v", cfg)

	if err := run(cfg); err != nil {
		logger.Error("dump failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), *flagTimeout)
	defer cancel()

	dev := gpu.NewSoftware()
	s, err := scene.Build(ctx, cfg, dev)
	if err != nil {
		return err
	}
	defer s.Dispose()

	if err := s.SubdivideTo(ctx, *flagLevel); err != nil {
		return err
	}

	w := export.NewWriter(*flagOut, "tessera")
	w.Size = *flagSize

	written := 0
	for _, t := range s.Map.Displayed() {
		n, err := dumpTile(dev, w, s, t)
		if err != nil {
			return err
		}
		written += n

		c := t.Extent().Center()
		if h, ok := s.Map.ElevationAt(c[0], c[1]); ok {
			logger.Debug("tile centre elevation",
				zap.Stringer("tile", t),
				zap.Float64("elevation", h),
			)
		}
	}

	if err := cfg.SaveTo(filepath.Join(*flagOut, "config.yaml")); err != nil {
		return fmt.Errorf("recording config: %w", err)
	}

	logger.Info("dump complete",
		zap.Int("tiles", len(s.Map.Displayed())),
		zap.Int("files", written),
		zap.String("out", *flagOut),
		zap.Float64("progress", s.Map.Progress()),
	)
	return nil
}

func dumpTile(dev gpu.Device, w *export.Writer, s *scene.Scene, t *tile.Tile) (int, error) {
	n := 0
	lo, hi := scene.TerrainMin, scene.TerrainMax
	if mm, ok := t.MinMax(); ok {
		lo, hi = mm.Min, mm.Max
	}

	layers := []*layer.Layer{s.Elevation.Layer}
	for _, c := range s.Colors {
		layers = append(layers, c.Layer)
	}
	for _, l := range layers {
		tex, ok := l.Target(t.ID())
		if !ok {
			continue
		}
		px, err := dev.ReadPixels(tex)
		if err != nil {
			return n, fmt.Errorf("reading %s of %s: %w", l.ID(), t, err)
		}
		if _, err := w.WriteTile(l.ID(), t.Coord(), px, lo, hi); err != nil {
			return n, err
		}
		n++
	}

	// the material atlas holds every visible color layer side by side
	if t.Material.Atlas().Width == 0 {
		return n, nil
	}
	atlas, err := t.Material.ComposeAtlas(dev)
	if err != nil {
		return n, fmt.Errorf("atlas of %s: %w", t, err)
	}
	defer dev.Dispose(atlas)
	px, err := dev.ReadPixels(atlas)
	if err != nil {
		return n, err
	}
	if _, err := w.WriteTile("atlas", t.Coord(), px, 0, 1); err != nil {
		return n, err
	}
	return n + 1, nil
}
