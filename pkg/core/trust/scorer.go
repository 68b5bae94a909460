//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package trust computes the composite trust score of a request from four
// signals: role-derived base trust, the principal's recent history, recent
// security events from the source address, and request context.
package trust

import (
	"context"
	"sync"
	"time"

	"github.com/manetu/zerotrust/internal/logging"
	"github.com/manetu/zerotrust/pkg/common"
	"github.com/manetu/zerotrust/pkg/core/history"
	"github.com/manetu/zerotrust/pkg/core/policy"
	"github.com/manetu/zerotrust/pkg/core/types"
)

var logger = logging.GetLogger("trust")

const agent = "trust"

// Signal weights. They sum to one.
const (
	WeightBase    = 0.30
	WeightHistory = 0.25
	WeightAnomaly = 0.25
	WeightContext = 0.20
)

// Defaults used when the history signal cannot answer.
const (
	DefaultHistoryScore = 70
	BaseContextScore    = 70
	OffHoursPenalty     = 10
	BlacklistTrustCap   = 30
)

// DefaultTimeout bounds each history query.
const DefaultTimeout = 3 * time.Second

// Scorer computes trust scores. It is safe for concurrent use.
type Scorer struct {
	policy  *policy.Store
	history history.Signal
	timeout time.Duration
}

// Option configures a [Scorer].
type Option func(*Scorer)

// WithHistory sets the history signal. The default is [history.Null].
func WithHistory(h history.Signal) Option {
	return func(s *Scorer) {
		if h != nil {
			s.history = h
		}
	}
}

// WithTimeout bounds each history query.
func WithTimeout(d time.Duration) Option {
	return func(s *Scorer) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewScorer creates a scorer over the given policy.
func NewScorer(store *policy.Store, opts ...Option) *Scorer {
	s := &Scorer{
		policy:  store,
		history: history.Null{},
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AnomalyScore maps a recent security event count onto [0,100].
func AnomalyScore(events int) float64 {
	switch {
	case events > 10:
		return 20
	case events > 5:
		return 50
	case events > 0:
		return 70
	default:
		return 100
	}
}

// Weighted combines the components into the final two-decimal score.
func Weighted(c *types.TrustComponents) float64 {
	sum := WeightBase*c.BaseTrust +
		WeightHistory*c.HistoryScore +
		WeightAnomaly*c.AnomalyScore +
		WeightContext*c.ContextScore
	return common.Round2(common.Clamp(sum, 0, 100))
}

type signals struct {
	historyScore float64
	events       int
}

// fetch queries both history signals concurrently, each under its own deadline.
func (s *Scorer) fetch(ctx context.Context, username, sourceIP string) signals {
	out := signals{historyScore: DefaultHistoryScore}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		ratio, err := s.history.UserHistory(qctx, username)
		if err != nil || ratio == nil {
			logger.Debugf(username, "history", "history unavailable, using default %d: %v", DefaultHistoryScore, err)
			return
		}
		out.historyScore = ratio.Score()
	}()

	go func() {
		defer wg.Done()
		qctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		n, err := s.history.SecurityEvents(qctx, sourceIP)
		if err != nil {
			logger.Debugf(username, "events", "security events unavailable for %s: %v", sourceIP, err)
			return
		}
		out.events = n
	}()

	wg.Wait()
	return out
}

// contextScore applies the time restriction and then the network adjustment.
func (s *Scorer) contextScore(roles []string, sourceIP string, at time.Time) (float64, policy.Network) {
	score := float64(BaseContextScore)

	if s.policy.OutsideBusinessHours(at) && !s.policy.WeekendAllowed(roles) {
		score -= OffHoursPenalty
	}

	network := s.policy.Classify(sourceIP)
	if network.Blacklisted {
		return 0, network
	}
	score += network.Adjustment

	return common.Clamp(score, 0, 100), network
}

// Score computes the trust score for a normalized request. It never fails:
// unavailable signals are replaced by their defaults.
func (s *Scorer) Score(ctx context.Context, rc *types.RequestContext) (float64, *types.TrustComponents) {
	sig := s.fetch(ctx, rc.Username, rc.SourceIP)
	ctxScore, network := s.contextScore(rc.Roles, rc.SourceIP, rc.Timestamp)

	c := &types.TrustComponents{
		BaseTrust:     common.Clamp(s.policy.BaseTrust(rc.Roles), 0, 100),
		HistoryScore:  common.Clamp(sig.historyScore, 0, 100),
		AnomalyScore:  AnomalyScore(sig.events),
		ContextScore:  ctxScore,
		SourceIP:      rc.SourceIP,
		IsBlacklisted: network.Blacklisted,
		Network:       network.Zone,
	}

	if c.IsBlacklisted {
		c.HistoryScore = 0
		c.AnomalyScore = 0
		if c.BaseTrust > BlacklistTrustCap {
			c.BaseTrust = BlacklistTrustCap
		}
		logger.Warnf(rc.Username, "score", "blacklisted source %s", rc.SourceIP)
	}

	score := Weighted(c)
	logger.Debugf(rc.Username, "score", "trust=%.2f base=%.0f history=%.2f anomaly=%.0f context=%.0f network=%q",
		score, c.BaseTrust, c.HistoryScore, c.AnomalyScore, c.ContextScore, c.Network)

	return score, c
}
