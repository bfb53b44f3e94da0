package items

import "errors"

type RateLimitError struct {
	RetryAfterSec int64
}

func (e RateLimitError) Error() string {
	return "item creation rate limit reached"
}

func (e RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

func IsRateLimited(err error) (RateLimitError, bool) {
	var rl RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return RateLimitError{}, false
}
