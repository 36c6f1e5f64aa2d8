package cache

import (
	"fmt"

	"github.com/google/uuid"
)

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

// RateLimitPrefix namespaces token buckets, e.g. "ratelimit:submit".
func RateLimitPrefix(scope string) string {
	return fmt.Sprintf("ratelimit:%s", scope)
}
