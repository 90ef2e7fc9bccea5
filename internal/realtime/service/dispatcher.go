package service

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/domain"
)

// Handler consumes one inbound frame of a registered type.
type Handler func(domain.Frame)

// ControlHooks receives built-in control frames. These always run,
// regardless of what consumer handlers are registered; the connection state
// machine installs itself here.
type ControlHooks interface {
	// HandlePing answers a server keep-alive probe.
	HandlePing(id string)

	// HandleAuthSuccess fires on authentication_success: replay
	// subscriptions, then drain the outbox.
	HandleAuthSuccess()

	// HandleAuthRejected fires on auth_error or authentication_failed.
	HandleAuthRejected(frameType string)
}

// Dispatcher routes inbound frames to per-type handlers. Malformed frames
// are logged and dropped, never propagated; a panicking handler is recovered
// so one faulty consumer cannot break fan-out to the others.
type Dispatcher struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]map[int]Handler
	nextID   int
	control  ControlHooks
}

func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		logger:   logger,
		handlers: make(map[string]map[int]Handler),
	}
}

// BindControl installs the connection's lifecycle hooks. Called once during
// wiring, before any frame can arrive.
func (d *Dispatcher) BindControl(hooks ControlHooks) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.control = hooks
}

// On registers a handler for an exact frame type and returns a function that
// removes it.
func (d *Dispatcher) On(frameType string, h Handler) (off func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.handlers[frameType]
	if !ok {
		set = make(map[int]Handler)
		d.handlers[frameType] = set
	}

	id := d.nextID
	d.nextID++
	set[id] = h

	return func() { d.off(frameType, id) }
}

func (d *Dispatcher) off(frameType string, id int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if set, ok := d.handlers[frameType]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(d.handlers, frameType)
		}
	}
}

// Dispatch parses one raw inbound message and routes it.
func (d *Dispatcher) Dispatch(raw []byte) {
	var frame domain.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Type == "" {
		d.logger.Warn("dropping malformed frame", "error", ErrMalformedFrame, "size", len(raw))
		return
	}

	d.mu.RLock()
	control := d.control
	d.mu.RUnlock()

	switch frame.Type {
	case domain.FramePing:
		if control != nil {
			control.HandlePing(frame.ID)
		}
		return
	case domain.FramePong:
		// Activity tracking happens at the read loop; nothing further.
		return
	case domain.FrameAuthSuccess:
		if control != nil {
			control.HandleAuthSuccess()
		}
		return
	case domain.FrameAuthError, domain.FrameAuthFailed:
		if control != nil {
			control.HandleAuthRejected(frame.Type)
		}
		return
	}

	d.fanOut(frame)
}

func (d *Dispatcher) fanOut(frame domain.Frame) {
	d.mu.RLock()
	set := d.handlers[frame.Type]
	snapshot := make([]Handler, 0, len(set))
	for _, h := range set {
		snapshot = append(snapshot, h)
	}
	d.mu.RUnlock()

	if len(snapshot) == 0 {
		d.logger.Debug("no handlers for frame type", "type", frame.Type)
		return
	}

	for _, h := range snapshot {
		d.safeCall(h, frame)
	}
}

func (d *Dispatcher) safeCall(h Handler, frame domain.Frame) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("frame handler panicked", "type", frame.Type, "panic", r)
		}
	}()
	h(frame)
}
