//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"github.com/manetu/zerotrust/pkg/core/accesslog"
)

// ChannelFactory factory for ChannelStream
type ChannelFactory struct {
	ch chan *accesslog.Event
}

// ChannelStream implements the Stream interface by writing audit events to a channel.
type ChannelStream struct {
	ch chan *accesslog.Event
}

// NewChannelLogger creates a new Factory for streaming audit events to a channel.
func NewChannelLogger(ch chan *accesslog.Event) accesslog.Factory {
	return &ChannelFactory{ch: ch}
}

// NewStream creates a new Stream to satisfy the Factory interface.
func (f *ChannelFactory) NewStream() (accesslog.Stream, error) {
	return &ChannelStream{ch: f.ch}, nil
}

// Send delivers the event to the channel, blocking until there is room.
func (s *ChannelStream) Send(ev *accesslog.Event) error {
	s.ch <- ev

	return nil
}

// Close finalizes the access log by closing the underlying channel.
func (s *ChannelStream) Close() {
	if s.ch != nil {
		close(s.ch)
	}
}
