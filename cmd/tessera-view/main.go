// Package main is an interactive viewer for the demo tile map. It draws the
// color composites of the displayed tiles from above.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Faultbox/tessera/internal/config"
	"github.com/Faultbox/tessera/internal/export"
	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/gpu/glgpu"
	"github.com/Faultbox/tessera/internal/input"
	"github.com/Faultbox/tessera/internal/logger"
	"github.com/Faultbox/tessera/internal/scene"
	"github.com/Faultbox/tessera/internal/tilemap"
	"github.com/Faultbox/tessera/internal/window"
	"github.com/Faultbox/tessera/pkg/extent"
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

	logger.Info("=== Tessera viewer ===")

	if err := run(cfg); err != nil {
		logger.Error("viewer error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("viewer closed normally")
}

func run(cfg *config.Config) error {
	win, err := window.New(window.FromGraphics("Tessera", cfg.Graphics))
	if err != nil {
		return err
	}
	defer win.Close()

	dev, err := glgpu.New()
	if err != nil {
		return err
	}
	defer dev.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := scene.Build(ctx, cfg, dev)
	if err != nil {
		return err
	}
	defer s.Dispose()

	v := &viewer{
		scene: s,
		dev:   dev,
		win:   win,
		in:    input.New(),
		shots: export.NewWriter(filepath.Join(os.TempDir(), "tessera"), "tessera"),
	}
	return v.loop(ctx)
}

type viewer struct {
	scene *scene.Scene
	dev   *glgpu.Device
	win   *window.Window
	in    *input.Input
	shots *export.Writer

	screenshotRequested bool

	// pan offset in fractions of the world width
	panX, panY float64
}

func (v *viewer) loop(ctx context.Context) error {
	for {
		if v.in.Update() {
			return nil
		}
		for _, e := range v.in.Events() {
			v.handle(ctx, e)
		}

		stats := v.scene.Map.Tick(ctx)
		if stats.Drained > 0 || stats.Recompiled > 0 {
			logger.Debug("tick", zap.Any("stats", stats))
		}

		w, h := v.win.Size()
		pass := gpu.RenderPass{Extent: v.view(w, h), Clear: true, Draws: v.scene.ColorDraws()}
		if err := v.dev.Present(pass, w, h); err != nil {
			return err
		}
		if v.screenshotRequested {
			v.screenshotRequested = false
			if path, err := v.shots.Screenshot(v.dev.ReadScreen(w, h)); err != nil {
				logger.Warn("screenshot failed", zap.Error(err))
			} else {
				logger.Info("screenshot saved", zap.String("path", path))
			}
		}
		v.win.SwapBuffers()
		status := "ready"
		if v.scene.Map.Loading() {
			status = fmt.Sprintf("loading %.0f%%", v.scene.Map.Progress()*100)
		}
		v.win.SetTitle(fmt.Sprintf("Tessera - %d tiles - %s", len(v.scene.Map.Displayed()), status))
	}
}

func (v *viewer) handle(ctx context.Context, e input.Event) {
	m := v.scene.Map
	switch e.Action {
	case input.ActionSubdivide:
		for _, t := range m.Displayed() {
			if _, err := m.Subdivide(ctx, t); err != nil && !errors.Is(err, tilemap.ErrCannotSubdivide) && !errors.Is(err, tilemap.ErrMaxLevel) {
				logger.Warn("subdivide failed", zap.Stringer("tile", t), zap.Error(err))
			}
		}
	case input.ActionScreenshot:
		v.screenshotRequested = true
	case input.ActionFullscreen:
		v.win.ToggleFullscreen()
	case input.ActionMerge:
		v.scene.MergeDeepest()
	case input.ActionPan:
		v.panX += float64(e.DX) * 0.1
		v.panY += float64(e.DY) * 0.1
	case input.ActionToggleLayer:
		if e.Layer < len(v.scene.Colors) {
			c := v.scene.Colors[e.Layer]
			c.SetVisible(!c.Visible())
		}
	case input.ActionSelect:
		w, h := v.win.Size()
		view := v.view(w, h)
		vw, vh := view.Dimensions()
		x := view.XMin() + float64(e.X)/float64(w)*vw
		y := view.YMax() - float64(e.Y)/float64(h)*vh
		t, ok := m.TileAt(x, y)
		if !ok {
			return
		}
		if _, err := m.Subdivide(ctx, t); err != nil {
			logger.Info("cannot subdivide", zap.Stringer("tile", t), zap.Error(err))
		}
		if elev, ok := m.ElevationAt(x, y); ok {
			logger.Info("elevation", zap.Float64("x", x), zap.Float64("y", y), zap.Float64("meters", elev))
		}
	}
}

// view fits the world into a w×h window, keeping square pixels.
func (v *viewer) view(w, h int) extent.Extent {
	world := scene.World
	ww, wh := world.Dimensions()
	c := world.Center()
	cx, cy := c[0]+v.panX*ww, c[1]+v.panY*wh

	aspect := float64(max(w, 1)) / float64(max(h, 1))
	halfW, halfH := ww/2, wh/2
	if aspect > 1 {
		halfW = halfH * aspect
	} else {
		halfH = halfW / aspect
	}
	return extent.New(world.CRS(), cx-halfW, cx+halfW, cy-halfH, cy+halfH)
}
