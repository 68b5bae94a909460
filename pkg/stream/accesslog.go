//
//  Copyright © Manetu Inc. All rights reserved.
//

package stream

import (
	"github.com/manetu/zerotrust/pkg/core/accesslog"
)

// HubFactory is an [accesslog.Factory] whose streams publish audit events on
// a hub.
type HubFactory struct {
	hub   *Hub
	types map[string]bool
}

// HubStream publishes selected audit events.
type HubStream struct {
	hub   *Hub
	types map[string]bool
}

// NewHubFactory publishes events of the given types, or only alerts when no
// type is named.
func NewHubFactory(h *Hub, types ...string) accesslog.Factory {
	if len(types) == 0 {
		types = []string{accesslog.TypeAlert}
	}
	f := &HubFactory{hub: h, types: make(map[string]bool, len(types))}
	for _, t := range types {
		f.types[t] = true
	}
	return f
}

// NewStream implements [accesslog.Factory].
func (f *HubFactory) NewStream() (accesslog.Stream, error) {
	return &HubStream{hub: f.hub, types: f.types}, nil
}

// Send implements [accesslog.Stream]. It never blocks and never fails.
func (s *HubStream) Send(ev *accesslog.Event) error {
	if ev == nil {
		return nil
	}
	if s.types[ev.Type] {
		s.hub.Publish(NewEvent(ev.Type, ev))
	}
	return nil
}

// Close implements [accesslog.Stream]. The hub outlives its streams.
func (s *HubStream) Close() {}
