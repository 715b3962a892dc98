package funnel

import (
	"context"
)

// Manager fans events out to every configured funnel. An event may advance
// several funnels at once; one matching none is a normal no-op.
type Manager struct {
	trackers map[string]*Tracker
	order    []string
}

// NewManager builds a manager from per-funnel trackers, preserving order.
func NewManager(trackers []*Tracker) *Manager {
	m := &Manager{trackers: make(map[string]*Tracker, len(trackers))}
	for _, tracker := range trackers {
		key := tracker.Definition().Key
		if _, exists := m.trackers[key]; exists {
			continue
		}
		m.trackers[key] = tracker
		m.order = append(m.order, key)
	}
	return m
}

// TrackEvent forwards the event to every funnel and collects the non-nil
// progressions in configuration order.
func (m *Manager) TrackEvent(ctx context.Context, eventName string, data map[string]any) []*Progression {
	var progressions []*Progression
	for _, key := range m.order {
		if p := m.trackers[key].TrackEvent(ctx, eventName, data); p != nil {
			progressions = append(progressions, p)
		}
	}
	return progressions
}

// TrackDropOff records a drop-off on one funnel. Returns nil for an unknown
// funnel key or when the journey already dropped off.
func (m *Manager) TrackDropOff(ctx context.Context, funnelKey, reason string) *DropOff {
	tracker, ok := m.trackers[funnelKey]
	if !ok {
		return nil
	}
	return tracker.TrackDropOff(ctx, reason)
}

// Tracker returns the tracker for a funnel key.
func (m *Manager) Tracker(funnelKey string) (*Tracker, bool) {
	tracker, ok := m.trackers[funnelKey]
	return tracker, ok
}

// Keys lists configured funnel keys in order.
func (m *Manager) Keys() []string {
	return m.order
}

// Reset drops every funnel's persisted journey.
func (m *Manager) Reset(ctx context.Context) {
	for _, key := range m.order {
		m.trackers[key].Reset(ctx)
	}
}
