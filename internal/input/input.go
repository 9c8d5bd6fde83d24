// Package input turns SDL2 events into viewer actions.
package input

import (
	"github.com/veandco/go-sdl2/sdl"
)

// Action is what the viewer should do in response to an event.
type Action int

const (
	ActionNone Action = iota
	ActionQuit
	ActionResize
	ActionSubdivide
	ActionMerge
	ActionPan
	ActionToggleLayer
	ActionSelect
	ActionScreenshot
	ActionFullscreen
)

// Event is a translated input event. Only the fields relevant to Action
// are set.
type Event struct {
	Action Action
	Width  int // ActionResize
	Height int
	DX     int // ActionPan, in tile steps
	DY     int
	X      int // ActionSelect, in window pixels
	Y      int
	Layer  int // ActionToggleLayer, zero based
}

// DefaultBindings maps keys to actions that take no arguments.
var DefaultBindings = map[sdl.Scancode]Action{
	sdl.SCANCODE_ESCAPE:   ActionQuit,
	sdl.SCANCODE_Q:        ActionQuit,
	sdl.SCANCODE_EQUALS:   ActionSubdivide,
	sdl.SCANCODE_KP_PLUS:  ActionSubdivide,
	sdl.SCANCODE_MINUS:    ActionMerge,
	sdl.SCANCODE_KP_MINUS: ActionMerge,
	sdl.SCANCODE_LEFT:     ActionPan,
	sdl.SCANCODE_RIGHT:    ActionPan,
	sdl.SCANCODE_UP:       ActionPan,
	sdl.SCANCODE_DOWN:     ActionPan,
	sdl.SCANCODE_F11:      ActionFullscreen,
	sdl.SCANCODE_F12:      ActionScreenshot,
}

// Input collects the actions of one frame.
type Input struct {
	Bindings map[sdl.Scancode]Action
	events   []Event
}

// New creates an input handler with DefaultBindings.
func New() *Input {
	return &Input{
		Bindings: DefaultBindings,
		events:   make([]Event, 0, 16),
	}
}

// Update polls SDL events and translates them.
// Returns true if the viewer should quit.
func (i *Input) Update() bool {
	i.events = i.events[:0]

	quit := false
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		e, ok := i.Translate(event)
		if !ok {
			continue
		}
		i.events = append(i.events, e)
		if e.Action == ActionQuit {
			quit = true
		}
	}
	return quit
}

// Translate maps one SDL event to an Event.
func (i *Input) Translate(event sdl.Event) (Event, bool) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		return Event{Action: ActionQuit}, true

	case *sdl.WindowEvent:
		if e.Event == sdl.WINDOWEVENT_RESIZED {
			return Event{Action: ActionResize, Width: int(e.Data1), Height: int(e.Data2)}, true
		}

	case *sdl.KeyboardEvent:
		if e.Type != sdl.KEYDOWN {
			return Event{}, false
		}
		code := e.Keysym.Scancode
		if code >= sdl.SCANCODE_1 && code <= sdl.SCANCODE_9 {
			return Event{Action: ActionToggleLayer, Layer: int(code - sdl.SCANCODE_1)}, true
		}
		action, ok := i.Bindings[code]
		if !ok {
			return Event{}, false
		}
		ev := Event{Action: action}
		if action == ActionPan {
			switch code {
			case sdl.SCANCODE_LEFT:
				ev.DX = -1
			case sdl.SCANCODE_RIGHT:
				ev.DX = 1
			case sdl.SCANCODE_UP:
				ev.DY = 1
			case sdl.SCANCODE_DOWN:
				ev.DY = -1
			}
		}
		return ev, true

	case *sdl.MouseButtonEvent:
		if e.Type == sdl.MOUSEBUTTONDOWN && e.Button == sdl.BUTTON_LEFT {
			return Event{Action: ActionSelect, X: int(e.X), Y: int(e.Y)}, true
		}
	}
	return Event{}, false
}

// Events returns the events from the last Update.
func (i *Input) Events() []Event {
	return i.events
}

// Has reports whether action occurred this frame.
func (i *Input) Has(action Action) bool {
	for _, e := range i.events {
		if e.Action == action {
			return true
		}
	}
	return false
}
