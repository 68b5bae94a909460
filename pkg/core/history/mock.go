//
//  Copyright © Manetu Inc. All rights reserved.
//

package history

import (
	"context"
	"time"
)

// Mock serves fixed answers. A nil Ratio makes UserHistory unavailable, and a
// negative Events makes SecurityEvents unavailable. Delay is honored against
// the caller's context so deadlines can be exercised.
type Mock struct {
	Ratio  *Ratio
	Events int
	Delay  time.Duration
}

func (m *Mock) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(m.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UserHistory returns the fixed ratio.
func (m *Mock) UserHistory(ctx context.Context, _ string) (*Ratio, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.Ratio == nil {
		return nil, ErrUnavailable
	}
	r := *m.Ratio
	return &r, nil
}

// SecurityEvents returns the fixed count.
func (m *Mock) SecurityEvents(ctx context.Context, _ string) (int, error) {
	if err := m.wait(ctx); err != nil {
		return 0, err
	}
	if m.Events < 0 {
		return 0, ErrUnavailable
	}
	return m.Events, nil
}
