//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package api implements the REST handlers of the generic decision point.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/manetu/zerotrust/internal/logging"
	"github.com/manetu/zerotrust/pkg/common"
	"github.com/manetu/zerotrust/pkg/core"
	"github.com/manetu/zerotrust/pkg/core/options"
	"github.com/manetu/zerotrust/pkg/ids"
	"github.com/manetu/zerotrust/pkg/session"
	"github.com/manetu/zerotrust/pkg/stream"
)

var logger = logging.GetLogger("zerotrust.decisionpoint")

const agent = "generic"

// MaxBodyBytes bounds every request body read by the handlers.
const MaxBodyBytes = 32 << 20

// ServiceName is reported by the health endpoint.
const ServiceName = "zerotrust-pdp"

// Server implements the generic decision point API.
type Server struct {
	de  core.DecisionEngine
	ids *ids.Engine
	hub *stream.Hub
}

// NewServer creates the handlers. hub may be nil, in which case the live
// alert feed is not served.
func NewServer(de core.DecisionEngine, engine *ids.Engine, hub *stream.Hub) Server {
	return Server{de: de, ids: engine, hub: hub}
}

// RegisterHandlers mounts every route on e. Decision routes fail closed with
// a deny, analysis routes with a not-analyzed result.
func RegisterHandlers(e *echo.Echo, s Server) {
	pdp := failClosed(decisionFailure)
	e.POST("/evaluate", s.Evaluate, pdp)
	e.POST("/trust-score", s.TrustScore, pdp)
	e.GET("/policies", s.Policies, pdp)

	nids := failClosed(analysisFailure)
	e.POST("/analyze", s.Analyze, nids)
	e.POST("/deep-inspect", s.DeepInspect, nids)
	e.POST("/test-attack", s.TestAttack, nids)
	e.GET("/rules", s.Rules, nids)
	e.GET("/rules/:id", s.Rule, nids)
	e.GET("/stats", s.Stats, nids)
	e.GET("/sessions", s.Sessions, nids)

	e.GET("/health", s.Health)

	if s.hub != nil {
		e.GET("/alerts/stream", echo.WrapHandler(stream.Handler(s.hub)))
	}
}

func decisionFailure(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg, "decision": "deny"}
}

func analysisFailure(msg string) map[string]interface{} {
	return map[string]interface{}{"error": msg, "analyzed": false, "blocked": false}
}

// failClosed converts a handler panic into a 500 carrying the failure body.
func failClosed(body func(string) map[string]interface{}) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf(agent, c.Path(), "handler panic: %v", r)
					err = c.JSON(http.StatusInternalServerError, body(fmt.Sprint(r)))
				}
			}()
			return next(c)
		}
	}
}

func message(err error) string {
	var de *common.DecisionError
	if errors.As(err, &de) {
		return de.Reason
	}
	return err.Error()
}

func statusOf(err error) int {
	switch common.CodeOf(err) {
	case common.InvalidParam:
		return http.StatusBadRequest
	case common.NotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error, body func(string) map[string]interface{}) error {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		logger.Errorf(agent, c.Path(), "request failed: %+v", err)
	}
	return c.JSON(status, body(message(err)))
}

func readBody(c echo.Context) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxBodyBytes))
	if err != nil {
		return nil, common.NewErrorf(common.InvalidParam, "reading body: %v", err)
	}
	return data, nil
}

// Evaluate decides a request. ?probe=true skips the audit trail.
func (s Server) Evaluate(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return fail(c, err, decisionFailure)
	}

	probe, _ := strconv.ParseBool(c.QueryParam("probe"))
	d, err := s.de.Evaluate(c.Request().Context(), body, options.SetProbeMode(probe))
	if err != nil {
		return fail(c, err, decisionFailure)
	}
	return c.JSON(http.StatusOK, d)
}

// TrustScore scores a request without deciding it.
func (s Server) TrustScore(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return fail(c, err, decisionFailure)
	}

	rc, score, components, err := s.de.TrustScore(c.Request().Context(), body)
	if err != nil {
		return fail(c, err, decisionFailure)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"username":    rc.Username,
		"trust_score": score,
		"components":  components,
	})
}

// Policies returns a copy of the active policy.
func (s Server) Policies(c echo.Context) error {
	return c.JSON(http.StatusOK, s.de.Policy().Snapshot())
}

func (s Server) content(c echo.Context) (*ids.Content, error) {
	body, err := readBody(c)
	if err != nil {
		return nil, err
	}
	return ids.UnmarshalContent(body)
}

// Analyze runs signature analysis.
func (s Server) Analyze(c echo.Context) error {
	content, err := s.content(c)
	if err != nil {
		return fail(c, err, analysisFailure)
	}

	r, err := s.ids.Analyze(c.Request().Context(), content)
	if err != nil {
		return fail(c, err, analysisFailure)
	}
	if r.Blocked {
		logger.Infof(agent, "analyze", "blocked request from %s: %d alerts", content.SourceIP, r.AlertsCount)
	}
	return c.JSON(http.StatusOK, r)
}

// DeepInspect runs signature analysis and the advisory payload inspection.
func (s Server) DeepInspect(c echo.Context) error {
	content, err := s.content(c)
	if err != nil {
		return fail(c, err, analysisFailure)
	}

	r, dpi, err := s.ids.DeepInspect(c.Request().Context(), content)
	if err != nil {
		return fail(c, err, analysisFailure)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"alerts":      r.Alerts,
		"blocked":     r.Blocked,
		"dpi_results": dpi,
		"timestamp":   r.Timestamp,
	})
}

// TestAttack analyzes a canned attack named by {"type": ...}. An empty body
// selects the default attack.
func (s Server) TestAttack(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return fail(c, err, analysisFailure)
	}

	var req struct {
		Type string `json:"type"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return fail(c, common.NewErrorf(common.InvalidParam, "invalid test request: %v", err), analysisFailure)
		}
	}

	r, err := s.ids.TestAttack(c.Request().Context(), req.Type)
	if err != nil {
		return fail(c, err, analysisFailure)
	}
	return c.JSON(http.StatusOK, r)
}

// Rules lists the active rule table.
func (s Server) Rules(c echo.Context) error {
	t := s.ids.Rules()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"rules_count": t.Len(),
		"rules":       t.Rules(),
		"rules_file":  t.File(),
	})
}

// Rule returns one rule.
func (s Server) Rule(c echo.Context) error {
	r, ok := s.ids.Rules().Lookup(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]interface{}{"error": "Rule not found"})
	}
	return c.JSON(http.StatusOK, r)
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	ids.Stats
	ActiveSessions int `json:"active_sessions"`
}

// Stats returns the engine counters.
func (s Server) Stats(c echo.Context) error {
	return c.JSON(http.StatusOK, StatsResponse{
		Stats:          s.ids.Stats(),
		ActiveSessions: s.ids.Sessions().Count(),
	})
}

// SessionsResponse is the body of GET /sessions.
type SessionsResponse struct {
	SessionCount int                `json:"session_count"`
	Sessions     []session.Snapshot `json:"sessions"`
}

// Sessions lists the tracked sessions.
func (s Server) Sessions(c echo.Context) error {
	list := s.ids.Sessions().List()
	return c.JSON(http.StatusOK, SessionsResponse{SessionCount: len(list), Sessions: list})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string     `json:"status"`
	Service   string     `json:"service"`
	Timestamp time.Time  `json:"timestamp"`
	IDS       ids.Health `json:"ids"`
}

// Health reports degraded while the signature engine runs on its fallback.
func (s Server) Health(c echo.Context) error {
	h := s.ids.Health()
	return c.JSON(http.StatusOK, HealthResponse{
		Status:    h.Status,
		Service:   ServiceName,
		Timestamp: time.Now().UTC(),
		IDS:       h,
	})
}
