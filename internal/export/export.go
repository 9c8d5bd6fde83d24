// Package export writes texture contents to PNG files.
package export

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/Faultbox/tessera/internal/gpu"
	"github.com/Faultbox/tessera/internal/tileindex"
)

// Writer saves pixels under Dir.
type Writer struct {
	Dir    string
	Prefix string // screenshot file prefix
	// Size scales written images to Size×Size. Zero keeps the pixel size.
	Size int

	now func() time.Time
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir, prefix string) *Writer {
	return &Writer{Dir: dir, Prefix: prefix, now: time.Now}
}

// TilePath returns where WriteTile stores a layer composite.
func (w *Writer) TilePath(layerID string, c tileindex.Coord) string {
	return filepath.Join(w.Dir, layerID, fmt.Sprintf("%d_%d_%d.png", c.Z, c.X, c.Y))
}

// WriteTile stores one layer composite of the tile at c. Float values are
// mapped to grey over [lo, hi].
func (w *Writer) WriteTile(layerID string, c tileindex.Coord, px gpu.Pixels, lo, hi float64) (string, error) {
	path := w.TilePath(layerID, c)
	return path, w.write(path, gpu.ToImage(px, lo, hi))
}

// Screenshot stores px under a timestamped name.
func (w *Writer) Screenshot(px gpu.Pixels) (string, error) {
	timestamp := w.now().Format("2006-01-02_15-04-05")
	path := filepath.Join(w.Dir, fmt.Sprintf("%s_%s.png", w.Prefix, timestamp))
	return path, w.write(path, gpu.ToImage(px, 0, 0))
}

func (w *Writer) write(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	if w.Size > 0 {
		img = gpu.Resize(img, w.Size)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("encoding PNG: %w", err)
	}
	return file.Close()
}
