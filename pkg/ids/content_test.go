//
//  Copyright © Manetu Inc. All rights reserved.
//

package ids

import (
	"strings"
	"testing"

	"github.com/manetu/zerotrust/pkg/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalContent(t *testing.T) {
	for _, in := range []string{"", "   ", "{}", "[]", "not json", `{"payload": 7}`} {
		_, err := UnmarshalContent([]byte(in))
		assert.Equal(t, common.InvalidParam, common.CodeOf(err), "input %q", in)
	}

	c, err := UnmarshalContent([]byte(`{
		"path": "/search",
		"body": "q=1",
		"method": "POST",
		"source_ip": "172.28.1.9",
		"dest_port": 8080,
		"headers": {"user-agent": "curl/8.0", "X-Trace": "abc"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "/search", c.URI)
	assert.Equal(t, "q=1", c.Payload)
	assert.Equal(t, "curl/8.0", c.UserAgent)
	assert.Equal(t, 8080, c.DestPort)

	c, err = UnmarshalContent([]byte(`{"uri": "/a", "path": "/b", "user_agent": "ua", "headers": {"User-Agent": "other"}}`))
	require.NoError(t, err)
	assert.Equal(t, "/a", c.URI)
	assert.Equal(t, "ua", c.UserAgent)
}

func TestHTTPRequest(t *testing.T) {
	c := &Content{
		Payload: "a=1",
		URI:     "/login",
		Method:  "POST",
		DestIP:  "172.28.2.40",
		Headers: map[string]string{"Host": "ignored", "Content-Type": "text/plain", "Accept": "*/*"},
	}

	assert.Equal(t, "POST /login HTTP/1.1\r\n"+
		"Host: 172.28.2.40\r\n"+
		"User-Agent: Mozilla/5.0\r\n"+
		"Accept: */*\r\n"+
		"Content-Type: text/plain\r\n"+
		"\r\n"+
		"a=1", c.HTTPRequest())

	assert.True(t, strings.HasPrefix((&Content{}).HTTPRequest(), "GET / HTTP/1.1\r\nHost: unknown\r\n"))
}

func TestCombinedAndFingerprint(t *testing.T) {
	c := &Content{Payload: "ABC", URI: "/X", UserAgent: "UA"}
	assert.Equal(t, "abc /x ua", c.Combined())
	assert.Len(t, c.Fingerprint(), 16)
	assert.False(t, c.Empty())

	assert.Empty(t, (&Content{URI: "/"}).Fingerprint())
	assert.True(t, (&Content{Method: "GET"}).Empty())
}
