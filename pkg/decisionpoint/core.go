//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package decisionpoint provides the network front ends of the zero-trust
// decision engine.
//
// # Available Implementations
//
//   - [generic]: HTTP/REST server for decisions, signature analysis and stats
//   - [envoy]: External authorization server for Envoy proxy
//
// # Usage
//
//	de, _ := core.NewDecisionEngineFromConfig()
//	engine, _ := ids.NewFromConfig()
//	server, _ := generic.CreateServer(de, engine, nil, 5000)
//	defer server.Stop(ctx)
package decisionpoint

import "context"

// Server is the interface for PDP servers that can be gracefully stopped.
//
// Implementations must ensure that [Stop] completes any in-flight requests
// before returning.
type Server interface {
	// Stop gracefully shuts down the server, waiting for active requests
	// to complete or until the context is cancelled.
	Stop(context.Context) error
}
