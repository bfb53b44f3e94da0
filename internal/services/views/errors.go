package views

import "errors"

var ErrRateLimited = errors.New("view rate limit reached")

type RateLimitError struct {
	RetryAfterSec int64
}

func (e RateLimitError) Error() string {
	return "view rate limit reached"
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
