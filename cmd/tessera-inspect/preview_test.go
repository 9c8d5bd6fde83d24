package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Faultbox/tessera/internal/config"
	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/scene"
)

func TestCompositeImage(t *testing.T) {
	cfg := config.Default()
	cfg.Terrain.TextureSize = 16
	cfg.Terrain.Segments = 2
	cfg.Terrain.MaxLevel = 1

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dev := gpu.NewSoftware()
	s, err := scene.Build(ctx, cfg, dev)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer s.Dispose()
	if _, err := s.Map.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	root := s.Map.Roots()[0]
	img, err := compositeImage(dev, s.Colors[0].Layer, root)
	if err != nil {
		t.Fatalf("composite failed: %v", err)
	}
	if b := img.Bounds(); b.Dx() != previewSize || b.Dy() != previewSize {
		t.Errorf("expected %dx%d preview, got %v", previewSize, previewSize, b)
	}
	if img.Pix[3] == 0 {
		t.Error("expected opaque relief pixel")
	}

	if got, want := uvLabel(root, s.Colors[0].ID()), "offset (0.000, 0.000) scale (1.000, 1.000)"; got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
	if got := uvLabel(root, "missing"); got != "unbound" {
		t.Errorf("expected unbound, got %q", got)
	}
	if got := volumeLabel(root); !strings.HasPrefix(got, "Volume: ") {
		t.Errorf("expected volume label, got %q", got)
	}
	if got := materialLabel(root); !strings.Contains(got, "VISIBLE_COLOR_LAYER_COUNT=2") {
		t.Errorf("expected two visible color layers in %q", got)
	}
}

func TestTileLabel(t *testing.T) {
	cfg := config.Default()
	cfg.Terrain.TextureSize = 8
	cfg.Terrain.Segments = 2
	s, err := scene.Build(context.Background(), cfg, gpu.NewSoftware())
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	defer s.Dispose()

	got := tileLabel(s.Map.Roots()[0])
	if !strings.HasPrefix(got, "0/0/0 *##tile") {
		t.Errorf("expected displayed root label, got %q", got)
	}
}
