// Tessera Inspect - a graphical tool for browsing the tiles of the demo map
// and the composited texture each layer binds to them.
package main

import (
	"context"
	"fmt"
	"image/png"
	"os"
	"runtime"

	"github.com/AllenDang/cimgui-go/backend"
	"github.com/AllenDang/cimgui-go/backend/sdlbackend"
	"github.com/AllenDang/cimgui-go/imgui"
	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/sqweek/dialog"
	"go.uber.org/zap"

	"github.com/Faultbox/tessera/internal/config"
	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/logger"
	"github.com/Faultbox/tessera/internal/scene"
	"github.com/Faultbox/tessera/internal/tile"
)

func main() {
	runtime.LockOSThread()

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

	app, err := NewApp(cfg)
	if err != nil {
		logger.Error("failed to start inspector", zap.Error(err))
		os.Exit(1)
	}
	defer app.Close()

	app.Run()
}

// App holds the inspector state. Everything runs on the UI thread; the
// software device only needs the tile map's own goroutine discipline.
type App struct {
	backend backend.Backend[sdlbackend.SDLWindowFlags]
	cfg     *config.Config

	ctx    context.Context
	cancel context.CancelFunc
	dev    *gpu.Software
	scene  *scene.Scene

	// Selection
	selectedID int
	previews   []preview
	stale      bool

	// Per color layer UI values, indexed like scene.Colors
	opacity []float32
	visible []bool

	previewZoom float32

	// File dialog result, consumed on the UI thread
	pendingExport string
	status        string
}

// NewApp builds the scene and opens the inspector window.
func NewApp(cfg *config.Config) (*App, error) {
	app := &App{
		cfg:         cfg,
		dev:         gpu.NewSoftware(),
		selectedID:  -1,
		previewZoom: 1.0,
	}
	app.ctx, app.cancel = context.WithCancel(context.Background())

	var err error
	app.scene, err = scene.Build(app.ctx, cfg, app.dev)
	if err != nil {
		return nil, err
	}
	for _, c := range app.scene.Colors {
		app.opacity = append(app.opacity, float32(c.Opacity()))
		app.visible = append(app.visible, c.Visible())
	}

	app.backend, err = backend.CreateBackend(sdlbackend.NewSDLBackend())
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}
	app.backend.SetBgColor(imgui.NewVec4(0.1, 0.1, 0.12, 1.0))
	app.backend.CreateWindow("Tessera Inspect", 1280, 800)

	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("init opengl: %w", err)
	}

	if roots := app.scene.Map.Roots(); len(roots) > 0 {
		app.selectedID = roots[0].ID()
		app.stale = true
	}
	return app, nil
}

// Run starts the main render loop.
func (app *App) Run() {
	app.backend.Run(app.render)
}

// Close releases previews and the scene.
func (app *App) Close() {
	app.releasePreviews()
	if app.scene != nil {
		app.scene.Dispose()
	}
	app.cancel()
}

func (app *App) selected() (*tile.Tile, bool) {
	t, ok := app.scene.Map.Tile(app.selectedID)
	if !ok || t.Disposed() {
		return nil, false
	}
	return t, true
}

func (app *App) selectTile(t *tile.Tile) {
	if t.ID() == app.selectedID {
		return
	}
	app.selectedID = t.ID()
	app.stale = true
}

// openExportDialog asks for a PNG path without blocking the UI thread.
func (app *App) openExportDialog() {
	go func() {
		filename, err := dialog.File().
			Filter("PNG images", "png").
			Title("Export tile composite").
			Save()
		if err != nil {
			if err != dialog.ErrCancelled {
				logger.Warn("file dialog error", zap.Error(err))
			}
			return
		}
		app.pendingExport = filename
	}()
}

// exportSelected writes the first visible color composite of the selected
// tile to path.
func (app *App) exportSelected(path string) error {
	t, ok := app.selected()
	if !ok {
		return fmt.Errorf("no tile selected")
	}
	for i, c := range app.scene.Colors {
		if !app.visible[i] {
			continue
		}
		tex, ok := c.Target(t.ID())
		if !ok {
			continue
		}
		px, err := app.dev.ReadPixels(tex)
		if err != nil {
			return err
		}
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := png.Encode(f, gpu.ToImage(px, 0, 0)); err != nil {
			return err
		}
		return f.Close()
	}
	return fmt.Errorf("%s has no visible color composite", t)
}
