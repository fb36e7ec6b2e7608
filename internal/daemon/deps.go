// SPDX-License-Identifier: MIT

package daemon

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// APIHandler is the HTTP handler for the API server
	APIHandler http.Handler

	// Listener is used instead of listening on ServerConfig.ListenAddr when set.
	Listener net.Listener

	// Drain runs before the HTTP server shuts down. It stops job intake and
	// waits for running jobs, which ends their response streams.
	Drain ShutdownHook

	// DrainTimeout bounds Drain; zero means ServerConfig.ShutdownTimeout.
	DrainTimeout time.Duration
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	return nil
}
