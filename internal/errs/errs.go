// Package errs defines the error kinds the scheduler, querier, and store
// classify on, so callers branch on errors.Is rather than string matching.
package errs

import "errors"

var (
	// ErrTransient marks a probe failure the caller should retry later at
	// the offline backoff interval rather than treat as fatal.
	ErrTransient = errors.New("transient network error")

	// ErrExcluded names the exclusion-hit outcome, which is not a failure
	// and must never be logged as an error. The Store Adapter does not
	// return it: ProcessSuccess drops an excluded result by returning nil.
	ErrExcluded = errors.New("server or content excluded")

	// ErrStoreTransient marks a write failure the scheduler reschedules at
	// the offline interval, like a probe failure, but without recording a
	// failure against the server.
	ErrStoreTransient = errors.New("transient store error")

	// ErrStoreFatal marks a store failure that can only occur during
	// startup (for example, failed migrations or an unreachable
	// database) and should abort the process rather than be retried.
	ErrStoreFatal = errors.New("fatal store error")
)
