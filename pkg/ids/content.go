//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import (
	"crypto/md5" // #nosec G501 -- fingerprint only, not a security primitive
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/manetu/zerotrust/pkg/common"
)

// Defaults applied to content fields that are absent.
const (
	DefaultMethod    = "GET"
	DefaultURI       = "/"
	DefaultSourceIP  = "unknown"
	DefaultDestIP    = "unknown"
	DefaultUserAgent = "Mozilla/5.0"
)

// Content is the request material submitted for signature analysis.
type Content struct {
	Payload    string            `json:"payload,omitempty" yaml:"payload,omitempty"`
	URI        string            `json:"uri,omitempty" yaml:"uri,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty" yaml:"user_agent,omitempty"`
	Method     string            `json:"method,omitempty" yaml:"method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	SourceIP   string            `json:"source_ip,omitempty" yaml:"source_ip,omitempty"`
	DestIP     string            `json:"dest_ip,omitempty" yaml:"dest_ip,omitempty"`
	SourcePort int               `json:"source_port,omitempty" yaml:"source_port,omitempty"`
	DestPort   int               `json:"dest_port,omitempty" yaml:"dest_port,omitempty"`
	Protocol   string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`
}

// wireContent accepts the alias spellings some callers use.
type wireContent struct {
	Content
	Path string `json:"path,omitempty"`
	Body string `json:"body,omitempty"`
}

// UnmarshalContent decodes a JSON analysis request. An empty document, or one
// that is not a JSON object, is rejected.
func UnmarshalContent(data []byte) (*Content, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, common.NewError(common.InvalidParam, "no packet data provided")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, common.NewErrorf(common.InvalidParam, "invalid packet data: %v", err)
	}
	if len(raw) == 0 {
		return nil, common.NewError(common.InvalidParam, "no packet data provided")
	}

	var w wireContent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, common.NewErrorf(common.InvalidParam, "invalid packet data: %v", err)
	}

	c := w.Content
	if c.URI == "" {
		c.URI = w.Path
	}
	if c.Payload == "" {
		c.Payload = w.Body
	}
	if c.UserAgent == "" {
		c.UserAgent = c.header("User-Agent")
	}
	return &c, nil
}

func (c *Content) header(name string) string {
	for k, v := range c.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (c *Content) sourceIP() string {
	if c.SourceIP == "" {
		return DefaultSourceIP
	}
	return c.SourceIP
}

func (c *Content) destIP() string {
	if c.DestIP == "" {
		return DefaultDestIP
	}
	return c.DestIP
}

// Combined is the lowercase text the pattern table is matched against.
func (c *Content) Combined() string {
	return strings.ToLower(c.Payload + " " + c.URI + " " + c.UserAgent)
}

// Empty reports whether there is nothing to inspect.
func (c *Content) Empty() bool {
	return c.Payload == "" && c.URI == "" && c.UserAgent == ""
}

// Fingerprint is a short digest of the payload, or "" when there is none.
func (c *Content) Fingerprint() string {
	if c.Payload == "" {
		return ""
	}
	sum := md5.Sum([]byte(c.Payload)) // #nosec G401 -- fingerprint only
	return hex.EncodeToString(sum[:])[:16]
}

// HTTPRequest renders the content as the raw HTTP request an engine would see
// on the wire.
func (c *Content) HTTPRequest() string {
	method := c.Method
	if method == "" {
		method = DefaultMethod
	}
	uri := c.URI
	if uri == "" {
		uri = DefaultURI
	}
	ua := c.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, uri)
	fmt.Fprintf(&b, "Host: %s\r\n", c.destIP())
	fmt.Fprintf(&b, "User-Agent: %s\r\n", ua)

	keys := make([]string, 0, len(c.Headers))
	for k := range c.Headers {
		switch strings.ToLower(k) {
		case "host", "user-agent":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, c.Headers[k])
	}

	b.WriteString("\r\n")
	b.WriteString(c.Payload)
	return b.String()
}
