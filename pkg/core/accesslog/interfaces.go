//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package accesslog provides interfaces and implementations for the audit
// trail of the decision engine.
//
// Every decision, and every signature analysis with its alerts, is recorded as
// an [Event] and delivered to a [Stream]. Delivery failures are logged by the
// caller and never change the outcome being recorded.
//
// # Built-in Implementations
//
//   - [NewStdoutFactory]: JSON lines on stdout (the default)
//   - [NewIoWriterFactory]: JSON lines on any io.Writer
//   - [NewNullFactory]: discards everything
//   - [NewHECFactory]: Splunk HTTP Event Collector
//   - [NewKafkaFactory]: a Kafka topic
//   - [NewRedisFactory]: sorted sets read back by the Redis history signal
//   - [NewMultiFactory]: fan-out to several of the above
//
// [NewFromConfig] assembles the streams named by the audit.sinks setting.
package accesslog

// Factory creates [Stream] instances.
//
// Early initialization (validating settings) belongs in the factory
// constructor. Late initialization (opening connections) belongs in
// [Factory.NewStream], which is called once configuration is fully loaded.
type Factory interface {
	NewStream() (Stream, error)
}

// Stream sends audit events to a destination.
//
// Implementations must be safe for concurrent use and must bound every
// delivery with a timeout; the engine calls Send inline on the request path.
type Stream interface {
	// Send delivers an event. It must not modify the event.
	Send(ev *Event) error

	// Close flushes and releases any resources held by the stream.
	Close()
}
