package llm

import "errors"

// Sentinel errors for planner transport failures. The orchestration loop
// retries ErrUnavailable and ErrRateLimited with backoff; ErrUnauthorized
// aborts the run as a configuration failure.
var (
	ErrUnauthorized = errors.New("llm unauthorized")
	ErrUnavailable  = errors.New("llm unavailable")
	ErrRateLimited  = errors.New("llm rate limited")
)
