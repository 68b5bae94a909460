//
//  Copyright © Manetu Inc. All rights reserved.
//

package accesslog

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/manetu/zerotrust/pkg/common"
)

// Splunk source types by event family.
const (
	SourceTypeDecision = "pdp_decision"
	SourceTypeIDS      = "snort_ids"
)

// HECConfig holds HTTP Event Collector settings.
type HECConfig struct {
	URL      string
	Token    string
	Index    string
	Insecure bool
	Timeout  time.Duration
}

// HECFactory creates streams that post to a Splunk HTTP Event Collector.
type HECFactory struct {
	cfg HECConfig
}

// HECStream posts each event as a separate collector request.
type HECStream struct {
	cfg      HECConfig
	endpoint string
	client   *http.Client
}

type hecEnvelope struct {
	Time       int64  `json:"time"`
	Event      *Event `json:"event"`
	Index      string `json:"index"`
	SourceType string `json:"sourcetype"`
}

// NewHECFactory validates cfg and returns a factory for it.
func NewHECFactory(cfg HECConfig) (Factory, error) {
	if cfg.URL == "" {
		return nil, common.NewError(common.InvalidParam, "HEC url required")
	}
	if cfg.Index == "" {
		cfg.Index = "zerotrust"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HECFactory{cfg: cfg}, nil
}

// NewStream creates a new [HECStream].
func (f *HECFactory) NewStream() (Stream, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if f.cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- lab SIEM with self-signed certificate
	}

	return &HECStream{
		cfg:      f.cfg,
		endpoint: strings.TrimRight(f.cfg.URL, "/") + "/services/collector/event",
		client:   &http.Client{Timeout: f.cfg.Timeout, Transport: transport},
	}, nil
}

func sourceType(eventType string) string {
	if eventType == TypeDecision {
		return SourceTypeDecision
	}
	return SourceTypeIDS
}

// Send posts the event, bounded by the configured timeout.
func (s *HECStream) Send(ev *Event) error {
	if ev == nil {
		return nil
	}

	body, err := json.Marshal(&hecEnvelope{
		Time:       ev.Timestamp.Unix(),
		Event:      ev,
		Index:      s.cfg.Index,
		SourceType: sourceType(ev.Type),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Splunk "+s.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return common.NewErrorf(common.Unavailable, "HEC: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return common.NewErrorf(common.Unavailable, "HEC: status %d", resp.StatusCode)
	}

	logger.Debugf(agent, "hec", "sent %s event %s", ev.Type, ev.ID)
	return nil
}

// Close releases idle connections.
func (s *HECStream) Close() {
	s.client.CloseIdleConnections()
}
