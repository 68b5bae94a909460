//
//  Copyright © Manetu Inc. All rights reserved.
//

package generic

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/manetu/zerotrust/internal/logging"
	"github.com/manetu/zerotrust/pkg/core"
	"github.com/manetu/zerotrust/pkg/decisionpoint"
	"github.com/manetu/zerotrust/pkg/decisionpoint/generic/api"
	"github.com/manetu/zerotrust/pkg/ids"
	"github.com/manetu/zerotrust/pkg/stream"
)

var logger = logging.GetLogger("zerotrust.decisionpoint")

// Server represents a generic decision point server that serves the REST API.
type Server struct {
	echo *echo.Echo
}

// NewHandler builds the REST API without starting a listener.
func NewHandler(de core.DecisionEngine, engine *ids.Engine, hub *stream.Hub) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	api.RegisterHandlers(e, api.NewServer(de, engine, hub))
	return e
}

// CreateServer creates and starts a new generic decision point server on port.
func CreateServer(de core.DecisionEngine, engine *ids.Engine, hub *stream.Hub, port int) (decisionpoint.Server, error) {
	e := NewHandler(de, engine, hub)

	// Start server in goroutine since e.Start() blocks
	go func() {
		logger.SysInfof("Starting REST decision point on :%d", port)
		if err := e.Start(fmt.Sprintf(":%d", port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.SysErrorf("REST decision point failed: %v", err)
		}
	}()

	return &Server{
		echo: e,
	}, nil
}

// Stop gracefully stops the Server by shutting down the Echo HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
