// Package retry decides whether a failed downstream call may be
// attempted again. The policy is deliberately narrow: at most one
// retry, only for idempotent methods, and only when the failure was at
// the connection level. A call that produced any HTTP response is
// never retried, whatever its status.
package retry
