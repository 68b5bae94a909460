//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package history provides the external history signal consulted by the
// trust scorer: a principal's recent success/failure record and the number
// of recent security events seen from a source address.
//
// Every implementation reports unavailability as an error. The scorer turns
// errors and timeouts into neutral defaults, so implementations never need
// to guess a fallback value themselves.
package history

import (
	"context"
	"strings"

	"github.com/manetu/zerotrust/internal/logging"
	"github.com/manetu/zerotrust/pkg/common"
	"github.com/manetu/zerotrust/pkg/core/config"
	"github.com/pkg/errors"
)

var logger = logging.GetLogger("history")

const agent = "history"

// Backend names accepted by the history.backend setting.
const (
	BackendNone   = "none"
	BackendSplunk = "splunk"
	BackendRedis  = "redis"
)

// ErrUnavailable is returned by backends with nothing to consult.
var ErrUnavailable = common.NewError(common.Unavailable, "history service unavailable")

// Ratio is a principal's recent outcome tally.
type Ratio struct {
	Success int `json:"success_count"`
	Failure int `json:"failed_count"`
}

// Score is 100 * success / (success + failure), capped at 100. An empty
// tally counts as one success so it never divides by zero.
func (r Ratio) Score() float64 {
	s, f := r.Success, r.Failure
	if s+f == 0 {
		s = 1
	}
	return common.Clamp(100*float64(s)/float64(s+f), 0, 100)
}

// Signal is the history collaborator.
type Signal interface {
	// UserHistory returns the principal's recent outcome tally.
	UserHistory(ctx context.Context, username string) (*Ratio, error)

	// SecurityEvents counts recent alert, block and deny events for an address.
	SecurityEvents(ctx context.Context, sourceIP string) (int, error)
}

// Null is the signal used when no history backend is configured.
type Null struct{}

// UserHistory always reports the service as unavailable.
func (Null) UserHistory(context.Context, string) (*Ratio, error) {
	return nil, ErrUnavailable
}

// SecurityEvents always reports the service as unavailable.
func (Null) SecurityEvents(context.Context, string) (int, error) {
	return 0, ErrUnavailable
}

// NewFromConfig builds the signal selected by history.backend.
func NewFromConfig() (Signal, error) {
	backend := strings.ToLower(config.VConfig.GetString(config.HistoryBackend))

	switch backend {
	case "", BackendNone:
		return Null{}, nil
	case BackendSplunk:
		return NewSplunk(SplunkConfigFromViper()), nil
	case BackendRedis:
		client, err := NewRedisClient(RedisConfigFromViper())
		if err != nil {
			return nil, errors.Wrap(err, "connecting history store")
		}
		return NewRedis(client), nil
	default:
		return nil, errors.Errorf("unknown history backend %q", backend)
	}
}
