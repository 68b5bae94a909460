//
//  Copyright © Manetu Inc. All rights reserved.
//

package history

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/manetu/zerotrust/pkg/common"
	"github.com/manetu/zerotrust/pkg/core/config"
)

// SplunkConfig holds search API settings.
type SplunkConfig struct {
	URL      string
	Username string
	Password string
	Index    string
	Insecure bool
	Timeout  time.Duration
}

// SplunkConfigFromViper reads the splunk.* keys.
func SplunkConfigFromViper() SplunkConfig {
	return SplunkConfig{
		URL:      config.VConfig.GetString(config.SplunkURL),
		Username: config.VConfig.GetString(config.SplunkUsername),
		Password: config.VConfig.GetString(config.SplunkPassword),
		Index:    config.VConfig.GetString(config.SplunkIndex),
		Insecure: config.VConfig.GetBool(config.SplunkInsecure),
		Timeout:  config.VConfig.GetDuration(config.HistoryTimeout),
	}
}

// Splunk answers history queries with oneshot searches against a SIEM.
type Splunk struct {
	cfg    SplunkConfig
	client *http.Client
}

// NewSplunk creates a search client. The HTTP client timeout backs up the
// caller's context deadline.
func NewSplunk(cfg SplunkConfig) *Splunk {
	if cfg.Index == "" {
		cfg.Index = "zerotrust"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Insecure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402 -- lab SIEM with self-signed certificate
	}

	return &Splunk{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: transport},
	}
}

type searchResponse struct {
	Results []map[string]interface{} `json:"results"`
}

// quote escapes a value for use inside a double-quoted search term.
func quote(v string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v) + `"`
}

func (s *Splunk) search(ctx context.Context, query string) ([]map[string]interface{}, error) {
	form := url.Values{
		"search":      {query},
		"output_mode": {"json"},
		"exec_mode":   {"oneshot"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.URL, "/")+"/services/search/jobs", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.cfg.Username, s.cfg.Password)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, common.NewErrorf(common.Unavailable, "splunk search: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, common.NewErrorf(common.Unavailable, "splunk search: status %d", resp.StatusCode)
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding splunk results: %w", err)
	}
	return out.Results, nil
}

// UserHistory tallies the principal's logged decisions over the last day.
func (s *Splunk) UserHistory(ctx context.Context, username string) (*Ratio, error) {
	q := fmt.Sprintf("search index=%s username=%s earliest=-24h", s.cfg.Index, quote(username))

	results, err := s.search(ctx, q)
	if err != nil {
		logger.Warnf(agent, "UserHistory", "SIEM query failed: %v", err)
		return nil, err
	}

	r := &Ratio{}
	for _, rec := range results {
		switch decisionOf(rec) {
		case "allow":
			r.Success++
		case "deny":
			r.Failure++
		}
	}
	return r, nil
}

// decisionOf reads the decision field from a flat or nested search record.
func decisionOf(rec map[string]interface{}) string {
	if d, ok := rec["decision"].(string); ok {
		return d
	}
	if raw, ok := rec["_raw"].(string); ok {
		var ev struct {
			Decision string `json:"decision"`
		}
		if json.Unmarshal([]byte(raw), &ev) == nil {
			return ev.Decision
		}
	}
	return ""
}

// SecurityEvents counts alert, block and deny events from the address over the last hour.
func (s *Splunk) SecurityEvents(ctx context.Context, sourceIP string) (int, error) {
	q := fmt.Sprintf("search index=%s source_ip=%s (alert OR blocked OR denied) earliest=-1h | stats count",
		s.cfg.Index, quote(sourceIP))

	results, err := s.search(ctx, q)
	if err != nil {
		logger.Warnf(agent, "SecurityEvents", "SIEM security events query failed: %v", err)
		return 0, err
	}
	if len(results) == 0 {
		return 0, nil
	}

	switch c := results[0]["count"].(type) {
	case string:
		n, err := strconv.Atoi(c)
		if err != nil {
			return 0, fmt.Errorf("splunk count %q: %w", c, err)
		}
		return n, nil
	case float64:
		return int(c), nil
	default:
		return 0, nil
	}
}
