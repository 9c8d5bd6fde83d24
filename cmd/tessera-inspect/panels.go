package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/AllenDang/cimgui-go/imgui"
	"go.uber.org/zap"

	"github.com/Faultbox/tessera/internal/config"
	"github.com/Faultbox/tessera/internal/logger"
	"github.com/Faultbox/tessera/internal/tile"
	"github.com/Faultbox/tessera/internal/tilemap"
)

const (
	leftPanelWidth  = 280
	rightPanelWidth = 260
	statusBarHeight = 30
)

// render draws one frame.
func (app *App) render() {
	stats := app.scene.Map.Tick(app.ctx)
	if stats.Drained > 0 {
		app.stale = true
	}

	if app.pendingExport != "" {
		path := app.pendingExport
		app.pendingExport = ""
		if err := app.exportSelected(path); err != nil {
			app.status = fmt.Sprintf("Export failed: %v", err)
		} else {
			app.status = "Exported " + path
		}
	}

	if imgui.IsKeyChordPressed(imgui.KeyChord(imgui.KeyEqual)) || imgui.IsKeyChordPressed(imgui.KeyChord(imgui.KeyKeypadAdd)) {
		app.previewZoom = min(app.previewZoom*1.25, 4)
	}
	if imgui.IsKeyChordPressed(imgui.KeyChord(imgui.KeyMinus)) || imgui.IsKeyChordPressed(imgui.KeyChord(imgui.KeyKeypadSubtract)) {
		app.previewZoom = max(app.previewZoom/1.25, 0.25)
	}

	if imgui.BeginMainMenuBar() {
		if imgui.BeginMenu("File") {
			if imgui.MenuItemBool("Export tile PNG...") {
				app.openExportDialog()
			}
			if imgui.MenuItemBool("Save settings") {
				if err := app.cfg.Save(); err != nil {
					app.status = fmt.Sprintf("Saving settings failed: %v", err)
				} else {
					app.status = "Settings saved to " + config.ConfigDir()
				}
			}
			imgui.Separator()
			if imgui.MenuItemBool("Exit") {
				app.Close()
				os.Exit(0)
			}
			imgui.EndMenu()
		}
		imgui.EndMainMenuBar()
	}

	if app.stale {
		app.refreshPreviews()
	}

	viewport := imgui.MainViewport()
	workPos := viewport.WorkPos()
	workSize := viewport.WorkSize()
	contentHeight := workSize.Y - statusBarHeight

	flags := imgui.WindowFlagsNoMove | imgui.WindowFlagsNoResize | imgui.WindowFlagsNoCollapse

	imgui.SetNextWindowPos(workPos)
	imgui.SetNextWindowSize(imgui.NewVec2(leftPanelWidth, contentHeight))
	if imgui.BeginV("Tiles", nil, flags) {
		for _, r := range app.scene.Map.Roots() {
			app.renderTileNode(r)
		}
	}
	imgui.End()

	previewWidth := workSize.X - leftPanelWidth - rightPanelWidth
	imgui.SetNextWindowPos(imgui.NewVec2(workPos.X+leftPanelWidth, workPos.Y))
	imgui.SetNextWindowSize(imgui.NewVec2(previewWidth, contentHeight))
	if imgui.BeginV("Preview", nil, flags|imgui.WindowFlagsHorizontalScrollbar) {
		app.renderPreview()
	}
	imgui.End()

	imgui.SetNextWindowPos(imgui.NewVec2(workPos.X+leftPanelWidth+previewWidth, workPos.Y))
	imgui.SetNextWindowSize(imgui.NewVec2(rightPanelWidth, contentHeight))
	if imgui.BeginV("Layers", nil, flags) {
		app.renderControls()
	}
	imgui.End()

	imgui.SetNextWindowPos(imgui.NewVec2(workPos.X, workPos.Y+contentHeight))
	imgui.SetNextWindowSize(imgui.NewVec2(workSize.X, statusBarHeight))
	statusFlags := flags | imgui.WindowFlagsNoTitleBar | imgui.WindowFlagsNoScrollbar
	if imgui.BeginV("##StatusBar", nil, statusFlags) {
		app.renderStatusBar()
	}
	imgui.End()
}

func (app *App) renderTileNode(t *tile.Tile) {
	flags := imgui.TreeNodeFlagsOpenOnArrow | imgui.TreeNodeFlagsSpanAvailWidth
	if t.ID() == app.selectedID {
		flags |= imgui.TreeNodeFlagsSelected
	}
	children := t.Children()
	if len(children) == 0 {
		flags |= imgui.TreeNodeFlagsLeaf | imgui.TreeNodeFlagsNoTreePushOnOpen
		imgui.TreeNodeExStrV(tileLabel(t), flags)
		if imgui.IsItemClicked() {
			app.selectTile(t)
		}
		return
	}

	open := imgui.TreeNodeExStrV(tileLabel(t), flags)
	if imgui.IsItemClicked() {
		app.selectTile(t)
	}
	if open {
		for _, c := range children {
			app.renderTileNode(c)
		}
		imgui.TreePop()
	}
}

func (app *App) renderPreview() {
	t, ok := app.selected()
	if !ok {
		imgui.TextDisabled("No tile selected")
		return
	}
	imgui.Text(t.String())
	if mm, ok := t.MinMax(); ok {
		imgui.Text(fmt.Sprintf("Elevation: %.1f .. %.1f m", mm.Min, mm.Max))
	} else {
		imgui.TextDisabled("Elevation: unknown")
	}
	imgui.Text(volumeLabel(t))
	imgui.TextDisabled(materialLabel(t))
	imgui.Separator()

	size := previewSize * app.previewZoom
	for _, p := range app.previews {
		if p.final {
			imgui.Text(p.layer)
		} else {
			imgui.TextColored(imgui.NewVec4(1, 0.8, 0, 1), p.layer+" (approximate)")
		}
		imgui.TextDisabled(p.uv)
		imgui.ImageWithBgV(
			p.texture.ID,
			imgui.NewVec2(size, size),
			imgui.NewVec2(0, 0),
			imgui.NewVec2(1, 1),
			imgui.NewVec4(0.2, 0.2, 0.2, 1.0),
			imgui.NewVec4(1, 1, 1, 1),
		)
		imgui.Spacing()
	}
}

func (app *App) renderControls() {
	m := app.scene.Map
	for i, c := range app.scene.Colors {
		if imgui.Checkbox(c.ID(), &app.visible[i]) {
			c.SetVisible(app.visible[i])
		}
		imgui.SetNextItemWidth(-1)
		if imgui.SliderFloatV(fmt.Sprintf("##Opacity%d", i), &app.opacity[i], 0, 1, "%.2f", imgui.SliderFlagsNone) {
			c.SetOpacity(float64(app.opacity[i]))
		}
		imgui.Spacing()
	}
	imgui.Separator()

	t, ok := app.selected()
	if !ok {
		return
	}
	if imgui.ButtonV("Subdivide", imgui.NewVec2(-1, 0)) {
		if _, err := m.Subdivide(app.ctx, t); err != nil {
			app.status = err.Error()
			if !errors.Is(err, tilemap.ErrCannotSubdivide) && !errors.Is(err, tilemap.ErrMaxLevel) {
				logger.Warn("subdivide failed", zap.Stringer("tile", t), zap.Error(err))
			}
		}
	}
	if imgui.ButtonV("Merge", imgui.NewVec2(-1, 0)) {
		m.Merge(t)
		app.stale = true
	}
	if p := t.Parent(); p != nil {
		if imgui.ButtonV("Select parent", imgui.NewVec2(-1, 0)) {
			app.selectTile(p)
		}
	}
}

func (app *App) renderStatusBar() {
	m := app.scene.Map
	imgui.Text(fmt.Sprintf("%d tiles | %d displayed | %.0f%% loaded | %s",
		m.Len(), len(m.Displayed()), m.Progress()*100, app.status))
}
