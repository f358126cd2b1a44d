// Package eventbus fans preview and dev server events out to per-workspace
// subscribers. Slow subscribers drop events rather than stall publishers.
package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/sandview/internal/metrics"
	"pkt.systems/sandview/schema"
)

// EventType identifies the event payload.
type EventType string

const (
	// EventPreview carries preview state changes.
	EventPreview EventType = "preview"
	// EventDevServer carries dev server lifecycle changes.
	EventDevServer EventType = "devserver"
)

// Event represents a UI-facing event emitted by the core service.
type Event struct {
	Type      EventType
	Preview   schema.PreviewEvent
	DevServer schema.DevServerEvent
}

// Bus fanouts events to per-workspace subscribers.
type Bus struct {
	mu    sync.Mutex
	subs  map[schema.WorkspaceID]map[chan Event]struct{}
	log   pslog.Logger
	depth int
}

// New constructs a Bus.
func New(logger pslog.Logger) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	return &Bus{
		subs:  make(map[schema.WorkspaceID]map[chan Event]struct{}),
		log:   logger,
		depth: 256,
	}
}

// Subscribe registers a subscriber for the workspace and returns a channel + cancel.
func (b *Bus) Subscribe(workspaceID schema.WorkspaceID) (<-chan Event, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan Event, b.depth)
	b.mu.Lock()
	wsSubs := b.subs[workspaceID]
	if wsSubs == nil {
		wsSubs = make(map[chan Event]struct{})
		b.subs[workspaceID] = wsSubs
	}
	wsSubs[ch] = struct{}{}
	count := len(wsSubs)
	b.mu.Unlock()
	if b.log != nil {
		b.log.With("workspace", workspaceID).Debug("eventbus subscribe", "subs", count)
	}
	return ch, func() {
		b.mu.Lock()
		if subs := b.subs[workspaceID]; subs != nil {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(b.subs, workspaceID)
			}
		}
		b.mu.Unlock()
		close(ch)
		if b.log != nil {
			b.log.With("workspace", workspaceID).Debug("eventbus unsubscribe")
		}
	}
}

// OnPreview publishes a preview state change.
func (b *Bus) OnPreview(event schema.PreviewEvent) {
	b.publish(event.WorkspaceID, Event{Type: EventPreview, Preview: event})
}

// OnDevServer publishes a dev server lifecycle change.
func (b *Bus) OnDevServer(event schema.DevServerEvent) {
	b.publish(event.WorkspaceID, Event{Type: EventDevServer, DevServer: event})
}

func (b *Bus) publish(workspaceID schema.WorkspaceID, event Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	wsSubs := b.subs[workspaceID]
	subs := make([]chan Event, 0, len(wsSubs))
	for sub := range wsSubs {
		subs = append(subs, sub)
	}
	b.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	dropped := 0
	for _, sub := range subs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		metrics.RecordEventDropped(string(event.Type))
		if b.log != nil {
			b.log.With("workspace", workspaceID).Trace("eventbus dropped", "count", dropped)
		}
	}
}
