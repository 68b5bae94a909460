//
//  Copyright © Manetu Inc. All rights reserved.
//

package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/manetu/zerotrust/cmd/ztpdp/common"
	"github.com/manetu/zerotrust/internal/logging"
	"github.com/manetu/zerotrust/pkg/core"
	"github.com/manetu/zerotrust/pkg/core/accesslog"
	"github.com/manetu/zerotrust/pkg/decisionpoint"
	"github.com/manetu/zerotrust/pkg/decisionpoint/envoy"
	"github.com/manetu/zerotrust/pkg/decisionpoint/generic"
	"github.com/manetu/zerotrust/pkg/ids"
	"github.com/manetu/zerotrust/pkg/stream"
	"github.com/urfave/cli/v3"
)

var logger = logging.GetLogger("zerotrust")

const agent string = "serve"

// ShutdownTimeout bounds the graceful stop of every server.
const ShutdownTimeout = 10 * time.Second

// Execute runs the serve command: the REST decision point on --port and,
// when --envoy-port is set, the Envoy external authorization server. Both
// share one decision engine and one signature engine. It returns after an
// interrupt or when ctx is cancelled.
func Execute(ctx context.Context, cmd *cli.Command) error {
	if err := common.ApplyFlags(cmd); err != nil {
		return err
	}

	de, err := core.NewDecisionEngineFromConfig()
	if err != nil {
		return err
	}
	defer de.Close()

	audit, err := accesslog.NewFromConfig()
	if err != nil {
		return err
	}

	hub := stream.NewHub()
	feed, err := accesslog.NewMultiFactory(audit, stream.NewHubFactory(hub)).NewStream()
	if err != nil {
		return err
	}

	engine, err := ids.NewFromConfig(ids.WithAccessLog(feed))
	if err != nil {
		feed.Close()
		return err
	}
	defer engine.Close()

	logger.Infof(agent, "start", "signature engine %s in %s mode, %d rules", engine.Health().Engine, engine.Mode(), engine.Rules().Len())

	var servers []decisionpoint.Server

	server, err := generic.CreateServer(de, engine, hub, int(cmd.Int("port")))
	if err != nil {
		return err
	}
	servers = append(servers, server)

	if port := int(cmd.Int("envoy-port")); port > 0 {
		server, err = envoy.CreateServer(de, engine, port)
		if err != nil {
			stop(servers)
			return err
		}
		servers = append(servers, server)
	}

	// Wait for interrupt signal to gracefully shutdown the servers
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
	logger.Info(agent, "shutdown", "Shutting down servers...")

	if err := stop(servers); err != nil {
		return err
	}

	logger.Info(agent, "shutdown", "Servers exited gracefully.")
	return nil
}

func stop(servers []decisionpoint.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	var first error
	for _, s := range servers {
		if err := s.Stop(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
