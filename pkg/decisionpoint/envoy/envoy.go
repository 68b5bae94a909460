//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package envoy enforces decisions for an Envoy proxy through the ext_authz
// gRPC API. Each check runs signature analysis first and then asks the
// decision engine.
package envoy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/manetu/zerotrust/internal/logging"
	"github.com/manetu/zerotrust/pkg/core"
	"github.com/manetu/zerotrust/pkg/core/types"
	"github.com/manetu/zerotrust/pkg/decisionpoint"
	"github.com/manetu/zerotrust/pkg/ids"
	"github.com/pkg/errors"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"
)

var logger = logging.GetLogger("zerotrust.decisionpoint")

const agent string = "envoy"

// Headers read from the check request. The identity headers are expected to
// be set by an upstream JWT filter after token verification.
const (
	UsernameHeader  = "x-zt-username"
	RolesHeader     = "x-zt-roles"
	RealIPHeader    = "x-real-ip"
	ForwardedHeader = "x-forwarded-for"
)

// Headers added to the check response.
const (
	resultHeader      = "x-zt-decision"
	trustHeader       = "x-zt-trust-score"
	accessLevelHeader = "x-zt-access-level"
	blockedByHeader   = "x-zt-blocked-by"
)

// BlockedBy names the signature engine in denials it caused.
const BlockedBy = "signature-engine"

// ExtAuthzServer implements the ext_authz v3 gRPC check API.
type ExtAuthzServer struct {
	grpcServer *grpc.Server
	listener   net.Listener
	de         core.DecisionEngine
	ids        *ids.Engine
}

// NewExtAuthzServer creates the check handler. engine may be nil, in which
// case requests go straight to the decision engine.
func NewExtAuthzServer(de core.DecisionEngine, engine *ids.Engine) *ExtAuthzServer {
	return &ExtAuthzServer{de: de, ids: engine}
}

// SourceIP picks the client address: X-Real-IP, then the first
// X-Forwarded-For entry, then the socket peer.
func SourceIP(headers map[string]string, peer string) string {
	ip := headers[RealIPHeader]
	if ip == "" {
		if fwd := headers[ForwardedHeader]; fwd != "" {
			ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	if ip == "" {
		ip = peer
	}
	if ip == "" {
		return types.DefaultSource
	}
	return strings.TrimPrefix(ip, "::ffff:")
}

// Resource is the first path segment after an optional /api prefix.
func Resource(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	segments := strings.FieldsFunc(path, func(r rune) bool { return r == '/' })
	if len(segments) > 0 && segments[0] == "api" {
		segments = segments[1:]
	}
	if len(segments) == 0 {
		return types.DefaultResource
	}
	return segments[0]
}

// Action maps an HTTP method onto a policy action.
func Action(method string) string {
	switch strings.ToUpper(method) {
	case "POST", "PUT", "PATCH":
		return "write"
	case "DELETE":
		return "delete"
	default:
		return types.DefaultAction
	}
}

func roles(header string) []string {
	out := []string{}
	for _, r := range strings.Split(header, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

func peerAddress(p *authv3.AttributeContext_Peer) (string, int) {
	sa := p.GetAddress().GetSocketAddress()
	return sa.GetAddress(), int(sa.GetPortValue())
}

// requestContext builds the decision request for a check.
func requestContext(request *authv3.CheckRequest) *types.RequestContext {
	httpAttrs := request.GetAttributes().GetRequest().GetHttp()
	headers := httpAttrs.GetHeaders()
	peer, _ := peerAddress(request.GetAttributes().GetSource())

	username := headers[UsernameHeader]
	if username == "" {
		username = types.DefaultUsername
	}

	return &types.RequestContext{
		Username:     username,
		Roles:        roles(headers[RolesHeader]),
		SourceIP:     SourceIP(headers, peer),
		ResourceType: Resource(httpAttrs.GetPath()),
		Action:       Action(httpAttrs.GetMethod()),
		Context: map[string]interface{}{
			"host":       httpAttrs.GetHost(),
			"path":       httpAttrs.GetPath(),
			"user_agent": headers["user-agent"],
		},
	}
}

// content builds the signature engine input for a check.
func content(request *authv3.CheckRequest, sourceIP string) *ids.Content {
	attrs := request.GetAttributes()
	httpAttrs := attrs.GetRequest().GetHttp()
	dest, destPort := peerAddress(attrs.GetDestination())
	_, srcPort := peerAddress(attrs.GetSource())

	return &ids.Content{
		Payload:    httpAttrs.GetBody(),
		URI:        httpAttrs.GetPath(),
		UserAgent:  httpAttrs.GetHeaders()["user-agent"],
		Method:     httpAttrs.GetMethod(),
		Headers:    httpAttrs.GetHeaders(),
		SourceIP:   sourceIP,
		DestIP:     dest,
		SourcePort: srcPort,
		DestPort:   destPort,
		Protocol:   "HTTP",
	}
}

func header(key, value string) *corev3.HeaderValueOption {
	return &corev3.HeaderValueOption{Header: &corev3.HeaderValue{Key: key, Value: value}}
}

func deny(body map[string]interface{}, headers ...*corev3.HeaderValueOption) *authv3.CheckResponse {
	data, _ := json.Marshal(body)
	return &authv3.CheckResponse{
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Status:  &typev3.HttpStatus{Code: typev3.StatusCode_Forbidden},
				Body:    string(data),
				Headers: append([]*corev3.HeaderValueOption{header(resultHeader, types.Deny), header("content-type", "application/json")}, headers...),
			},
		},
		Status: &status.Status{Code: int32(codes.PermissionDenied)},
	}
}

func allow(d *types.Decision) *authv3.CheckResponse {
	score := fmt.Sprintf("%.1f", d.TrustScore)
	metadata, err := structpb.NewStruct(map[string]interface{}{
		"decision":     d.Decision,
		"trust_score":  d.TrustScore,
		"access_level": d.AccessLevel,
	})
	if err != nil {
		logger.Warnf(agent, "allow", "dropping dynamic metadata: %v", err)
	}

	return &authv3.CheckResponse{
		HttpResponse: &authv3.CheckResponse_OkResponse{
			OkResponse: &authv3.OkHttpResponse{
				Headers: []*corev3.HeaderValueOption{
					header(resultHeader, types.Allow),
					header(trustHeader, score),
					header(accessLevelHeader, d.AccessLevel),
				},
			},
		},
		DynamicMetadata: metadata,
		Status:          &status.Status{Code: int32(codes.OK)},
	}
}

// blocked reports whether the signature engine rejects the request. Engine
// failures let the request through to the decision engine.
func (s *ExtAuthzServer) blocked(ctx context.Context, c *ids.Content) (*ids.Result, bool) {
	if s.ids == nil {
		return nil, false
	}
	r, err := s.ids.Analyze(ctx, c)
	if err != nil {
		logger.Warnf(agent, "ids", "signature analysis failed, continuing: %v", err)
		return nil, false
	}
	return r, r.Blocked
}

// Check implements gRPC v3 check request. Any failure inside the decision
// engine results in a denial.
func (s *ExtAuthzServer) Check(ctx context.Context, request *authv3.CheckRequest) (resp *authv3.CheckResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(agent, "check", "decision failure: %v", r)
			resp, err = deny(map[string]interface{}{"error": "Access denied", "reason": fmt.Sprintf("PDP error: %v", r)}), nil
		}
	}()

	rc := requestContext(request)
	path := request.GetAttributes().GetRequest().GetHttp().GetPath()

	if path != "/health" {
		if r, blocked := s.blocked(ctx, content(request, rc.SourceIP)); blocked {
			logger.Infof(agent, "check", "request from %s blocked by signature engine: %d alerts", rc.SourceIP, r.AlertsCount)
			alerts := make([]map[string]string, 0, len(r.Alerts))
			for _, a := range r.Alerts {
				alerts = append(alerts, map[string]string{"rule": a.Message, "severity": a.Severity, "category": a.Category})
			}
			return deny(map[string]interface{}{
				"error":      "Request blocked by Intrusion Detection System",
				"alerts":     alerts,
				"blocked_by": BlockedBy,
			}, header(blockedByHeader, BlockedBy)), nil
		}
	}

	d := s.de.EvaluateContext(ctx, rc)
	logger.Debugf(agent, "check", "%s %s for %s from %s: %s (%.1f)", rc.Action, rc.ResourceType, rc.Username, rc.SourceIP, d.Decision, d.TrustScore)
	if !d.Allowed() {
		return deny(map[string]interface{}{
			"error":       "Access denied",
			"reason":      d.Reason,
			"trust_score": d.TrustScore,
		}), nil
	}
	return allow(d), nil
}

// Port is the port the server listens on.
func (s *ExtAuthzServer) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// CreateServer creates and starts a new Envoy External Authorization server.
// A port of 0 selects a free port, see [ExtAuthzServer.Port].
func CreateServer(de core.DecisionEngine, engine *ids.Engine, port int) (decisionpoint.Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, errors.Wrap(err, "failed to start gRPC server")
	}

	s := NewExtAuthzServer(de, engine)
	s.listener = listener
	s.grpcServer = grpc.NewServer()
	authv3.RegisterAuthorizationServer(s.grpcServer, s)

	go func() {
		logger.SysInfof("Starting Envoy External Authorization gRPC server on %s", listener.Addr())
		if err := s.grpcServer.Serve(listener); err != nil {
			logger.SysErrorf("Failed to serve gRPC server: %v", err)
		}
		logger.SysInfof("Stopped gRPC server")
	}()

	return s, nil
}

// Stop gracefully stops the ExtAuthzServer, falling back to a hard stop
// when ctx expires first.
func (s *ExtAuthzServer) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	logger.SysInfof("GRPC server stopped")
	return nil
}
