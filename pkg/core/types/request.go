//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package types defines the request and decision shapes shared by the
// decision pipeline, its scorer and the decision points in front of them.
package types

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/manetu/zerotrust/pkg/common"
)

// Defaults applied to fields missing from a request.
const (
	DefaultUsername = "anonymous"
	DefaultSource   = "unknown"
	DefaultResource = "unknown"
	DefaultAction   = "read"
)

// AnyRequest allows a decision request to be submitted as raw JSON (string or
// []byte) or as an already decoded map.
type AnyRequest interface{}

// RequestContext is the canonical form of a decision request.
type RequestContext struct {
	Username     string                 `json:"username"`
	Roles        []string               `json:"roles"`
	SourceIP     string                 `json:"source_ip"`
	ResourceType string                 `json:"resource"`
	Action       string                 `json:"action"`
	Context      map[string]interface{} `json:"context,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// UnmarshalRequest decodes input, if required, and normalizes it. The
// timestamp is always the supplied receipt time, never a caller claim.
func UnmarshalRequest(input AnyRequest, received time.Time) (*RequestContext, error) {
	var doc map[string]interface{}

	switch in := input.(type) {
	case string:
		if err := json.Unmarshal([]byte(in), &doc); err != nil {
			return nil, common.NewErrorf(common.InvalidParam, "malformed request: %v", err)
		}
	case []byte:
		if err := json.Unmarshal(in, &doc); err != nil {
			return nil, common.NewErrorf(common.InvalidParam, "malformed request: %v", err)
		}
	case map[string]interface{}:
		doc = in
	default:
		return nil, common.NewErrorf(common.InvalidParam, "unsupported request type %T", input)
	}

	if len(doc) == 0 {
		return nil, common.NewError(common.InvalidParam, "no data provided")
	}

	return Normalize(doc, received), nil
}

// Normalize maps either wire shape onto a RequestContext.
//
// The nested shape is selected when "subject" is an object:
//
//	{"subject": {"username", "roles"}, "device": {"ip"},
//	 "resource": {"type", "action"} | "<type>", "context": {...}}
//
// Otherwise the flat shape is read:
//
//	{"username", "user_roles" | "roles", "source_ip" | "ip",
//	 "resource", "action", "context"}
func Normalize(doc map[string]interface{}, received time.Time) *RequestContext {
	rc := &RequestContext{
		Username:     DefaultUsername,
		Roles:        []string{},
		SourceIP:     DefaultSource,
		ResourceType: DefaultResource,
		Action:       DefaultAction,
		Timestamp:    received,
	}

	if subject, ok := doc["subject"].(map[string]interface{}); ok {
		device, _ := doc["device"].(map[string]interface{})

		rc.Username = stringOr(subject["username"], rc.Username)
		rc.Roles = toRoles(subject["roles"])
		rc.SourceIP = stringOr(device["ip"], rc.SourceIP)

		switch res := doc["resource"].(type) {
		case map[string]interface{}:
			rc.ResourceType = stringOr(res["type"], rc.ResourceType)
			rc.Action = stringOr(res["action"], rc.Action)
		case nil:
		default:
			rc.ResourceType = fmt.Sprint(res)
		}
	} else {
		rc.Username = stringOr(doc["username"], rc.Username)
		if v, ok := doc["user_roles"]; ok {
			rc.Roles = toRoles(v)
		} else {
			rc.Roles = toRoles(doc["roles"])
		}
		rc.SourceIP = stringOr(first(doc, "source_ip", "ip"), rc.SourceIP)
		rc.ResourceType = stringOr(doc["resource"], rc.ResourceType)
		rc.Action = stringOr(doc["action"], rc.Action)
	}

	if c, ok := doc["context"].(map[string]interface{}); ok {
		rc.Context = c
	}

	return rc
}

func first(doc map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := doc[k]; ok {
			return v
		}
	}
	return nil
}

func stringOr(v interface{}, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

// toRoles accepts a list of strings or a single string and drops blanks and
// duplicates while keeping order.
func toRoles(v interface{}) []string {
	var raw []string
	switch r := v.(type) {
	case string:
		raw = []string{r}
	case []string:
		raw = r
	case []interface{}:
		for _, x := range r {
			if s, ok := x.(string); ok {
				raw = append(raw, s)
			}
		}
	}

	roles := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		roles = append(roles, s)
	}
	return roles
}
