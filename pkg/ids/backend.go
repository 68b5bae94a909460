//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import (
	"context"
	"time"
)

// Alert sources.
const (
	SourceNative   = "native"
	SourceFallback = "fallback"
)

// Backend produces alerts for a piece of content.
type Backend interface {
	// Name identifies the backend in alerts and health output.
	Name() string

	// Available reports whether the backend can run right now.
	Available() bool

	// Analyze returns the alerts raised by c, in rule order.
	Analyze(ctx context.Context, c *Content) ([]Alert, error)
}

// Fallback matches content against a local rule table. It is always available.
type Fallback struct {
	rules *RuleTable
	now   func() time.Time
}

// NewFallback creates a fallback backend over rules. A nil table selects
// [DefaultRules].
func NewFallback(rules *RuleTable) *Fallback {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Fallback{rules: rules, now: time.Now}
}

// Name implements [Backend].
func (f *Fallback) Name() string {
	return SourceFallback
}

// Available implements [Backend].
func (f *Fallback) Available() bool {
	return true
}

// Analyze implements [Backend].
func (f *Fallback) Analyze(_ context.Context, c *Content) ([]Alert, error) {
	return f.rules.Match(c, f.now().UTC()), nil
}
