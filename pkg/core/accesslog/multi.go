//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"strings"

	"github.com/manetu/zerotrust/pkg/core/config"
	"github.com/manetu/zerotrust/pkg/core/history"
	"github.com/pkg/errors"
)

// Audit sink names accepted by the audit.sinks setting.
const (
	SinkStdout = "stdout"
	SinkNull   = "null"
	SinkHEC    = "hec"
	SinkKafka  = "kafka"
	SinkRedis  = "redis"
)

// MultiFactory fans every event out to several streams.
type MultiFactory struct {
	factories []Factory
}

// MultiStream delivers to every member stream, even after one fails.
type MultiStream struct {
	streams []Stream
}

// NewMultiFactory combines factories. A single factory is returned unwrapped.
func NewMultiFactory(factories ...Factory) Factory {
	if len(factories) == 1 {
		return factories[0]
	}
	return &MultiFactory{factories: factories}
}

// NewStream opens every member stream. If any fails, those already opened are closed.
func (f *MultiFactory) NewStream() (Stream, error) {
	m := &MultiStream{}
	for _, factory := range f.factories {
		s, err := factory.NewStream()
		if err != nil {
			m.Close()
			return nil, err
		}
		m.streams = append(m.streams, s)
	}
	return m, nil
}

// Send delivers to all members and returns the first failure.
func (m *MultiStream) Send(ev *Event) error {
	var first error
	for _, s := range m.streams {
		if err := s.Send(ev); err != nil {
			logger.Warnf(agent, "send", "audit stream %T failed: %v", s, err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Close closes every member.
func (m *MultiStream) Close() {
	for _, s := range m.streams {
		s.Close()
	}
}

// NewFromConfig builds the factory for the sinks named in audit.sinks.
func NewFromConfig() (Factory, error) {
	sinks := config.GetList(config.AuditSinks)
	if len(sinks) == 0 {
		return NewStdoutFactory(), nil
	}

	timeout := config.VConfig.GetDuration(config.AuditTimeout)

	var factories []Factory
	for _, sink := range sinks {
		var (
			f   Factory
			err error
		)

		switch strings.ToLower(sink) {
		case SinkStdout:
			f = NewStdoutFactory()
		case SinkNull:
			f = NewNullFactory()
		case SinkHEC:
			f, err = NewHECFactory(HECConfig{
				URL:      config.VConfig.GetString(config.SplunkHECURL),
				Token:    config.VConfig.GetString(config.SplunkHECToken),
				Index:    config.VConfig.GetString(config.SplunkIndex),
				Insecure: config.VConfig.GetBool(config.SplunkInsecure),
				Timeout:  timeout,
			})
		case SinkKafka:
			f, err = NewKafkaFactory(KafkaConfig{
				Brokers: config.GetList(config.KafkaBrokers),
				Topic:   config.VConfig.GetString(config.KafkaTopic),
				Timeout: timeout,
			})
		case SinkRedis:
			client, cerr := history.NewRedisClient(history.RedisConfigFromViper())
			if cerr != nil {
				err = cerr
				break
			}
			f = NewRedisFactory(client, timeout)
		default:
			err = errors.Errorf("unknown audit sink %q", sink)
		}

		if err != nil {
			return nil, errors.Wrapf(err, "audit sink %s", sink)
		}
		factories = append(factories, f)
	}

	return NewMultiFactory(factories...), nil
}
