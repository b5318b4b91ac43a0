package memory_service

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lewisedginton/chat_memory/internal/model"
)

const day = 24 * time.Hour

// ParseTTL accepts Go durations ("90m", "24h") plus a day suffix ("7d").
// The empty string means no TTL. Bad input is a *model.ValidationError.
func ParseTTL(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, model.NewValidationError("ttl", "%q is not a duration such as 90m, 24h or 7d", s)
		}
		if int64(n) > math.MaxInt64/int64(day) {
			return 0, model.NewValidationError("ttl", "%q is longer than the maximum of %dd", s, math.MaxInt64/int64(day))
		}
		return time.Duration(n) * day, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, model.NewValidationError("ttl", "%q is not a duration such as 90m, 24h or 7d", s)
	}
	return d, nil
}
