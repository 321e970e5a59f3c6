// Package flows implements the prompt flows backed by the remote model
// gateway: text extraction, spelling correction, proofreading, and question
// answering. Each flow validates its input, builds one prompt, performs one
// gateway call, and returns a typed result. Flows persist nothing.
package flows

import (
	"time"

	"keenscan/internal/redis"
	"keenscan/internal/service/ai"
)

const defaultCacheTTL = 24 * time.Hour

type Service struct {
	caller   ai.Caller
	cache    *redis.Client
	cacheTTL time.Duration
}

// NewService builds the flow service. cache may be nil, in which case
// extraction results are never cached.
func NewService(caller ai.Caller, cache *redis.Client, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	return &Service{caller: caller, cache: cache, cacheTTL: cacheTTL}
}
