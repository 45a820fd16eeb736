// Package querier implements the GameSpy1 probe with its port-23000
// fallback: a server that fails to answer on its configured port is
// retried once on the protocol's conventional default port before the
// probe is considered a failure.
package querier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bf1942ingest/scoutd/internal/errs"
	"github.com/bf1942ingest/scoutd/internal/model"
)

// fallbackPort is the GameSpy1 protocol's conventional query port, tried
// when a server's configured port doesn't answer.
const fallbackPort = 23000

// QueryFunc performs a single GameSpy1 status query against ip:port,
// bounded by ctx. It is the seam tests substitute a fake transport at;
// gamespy1.Query is the production implementation.
type QueryFunc func(ctx context.Context, ip string, port int) (model.RawProbeResult, error)

// Querier probes a single server, trying its configured port first and
// falling back to the protocol's default port on failure.
type Querier struct {
	query   QueryFunc
	timeout time.Duration
	logger  *slog.Logger
}

// New builds a Querier. timeout is the total probe budget
// (spec.md's SERVER_QUERY_TIMEOUT_S); each of the up-to-two attempts
// gets half of it, matching the source system's halved per-attempt
// timeout.
func New(query QueryFunc, timeout time.Duration, logger *slog.Logger) *Querier {
	return &Querier{query: query, timeout: timeout, logger: logger}
}

// Query probes addr, trying the fallback port only when the primary
// attempt fails and the configured port isn't already the fallback port.
func (q *Querier) Query(ctx context.Context, addr model.Address) (model.RawProbeResult, error) {
	attemptTimeout := q.timeout / 2

	primaryCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	result, primaryErr := q.query(primaryCtx, addr.IP, addr.Port)
	cancel()
	if primaryErr == nil {
		return result, nil
	}

	if addr.Port == fallbackPort {
		q.logger.Debug("probe failed, already on fallback port",
			"ip", addr.IP, "port", addr.Port, "error", primaryErr)
		return model.RawProbeResult{}, fmt.Errorf("%w: %s", errs.ErrTransient, primaryErr)
	}

	q.logger.Debug("primary probe failed, trying fallback port",
		"ip", addr.IP, "primary_port", addr.Port, "error", primaryErr)

	fallbackCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	result, fallbackErr := q.query(fallbackCtx, addr.IP, fallbackPort)
	cancel()
	if fallbackErr == nil {
		q.logger.Debug("fallback probe succeeded",
			"ip", addr.IP, "primary_port", addr.Port)
		return result, nil
	}

	q.logger.Debug("fallback probe also failed",
		"ip", addr.IP, "primary_port", addr.Port, "primary_error", primaryErr, "fallback_error", fallbackErr)
	return model.RawProbeResult{}, fmt.Errorf("%w: primary %s, fallback %s", errs.ErrTransient, primaryErr, fallbackErr)
}
