//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

// NullFactory is a factory for NullStream.
type NullFactory struct{}

// NullStream drops every event. It backs the "null" audit sink.
type NullStream struct{}

// NewNullFactory creates a factory for streams that discard everything.
func NewNullFactory() Factory {
	return &NullFactory{}
}

// NewStream creates a new NullStream to satisfy the Factory interface.
func (f *NullFactory) NewStream() (Stream, error) {
	return &NullStream{}, nil
}

// Send drops the event on the floor.
func (s *NullStream) Send(*Event) error {
	return nil
}

// Close is a no-op for NullStream.
func (s *NullStream) Close() {}
