package rate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	minuteWindow = time.Minute
	tenSecWindow = 10 * time.Second
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	WindowState(ctx context.Context, key string) (int64, time.Duration, error)
}

// Limits caps an action per user in two sliding windows. Zero disables a
// window.
type Limits struct {
	PerMinute int
	Per10Sec  int
}

type Limiter struct {
	store   WindowStore
	actions map[string]Limits
	logger  *zap.Logger
}

func NewLimiter(store WindowStore, actions map[string]Limits, logger *zap.Logger) *Limiter {
	normalized := make(map[string]Limits, len(actions))
	for action, limits := range actions {
		if limits.PerMinute < 0 {
			limits.PerMinute = 0
		}
		if limits.Per10Sec < 0 {
			limits.Per10Sec = 0
		}
		normalized[action] = limits
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Limiter{
		store:   store,
		actions: normalized,
		logger:  logger,
	}
}

// Allow consumes one slot of the action's budget. Unknown actions are not
// limited.
func (l *Limiter) Allow(ctx context.Context, action string, userID int64) (int64, bool, error) {
	if userID <= 0 {
		return 0, false, fmt.Errorf("invalid user id")
	}
	if action == "" {
		return 0, false, fmt.Errorf("invalid rate action")
	}

	limits, ok := l.actions[action]
	if !ok || (limits.PerMinute == 0 && limits.Per10Sec == 0) {
		return 0, true, nil
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)

	// A window store outage fails open: the backends behind the limiter
	// already degrade with a warning, and a redis blip must not turn every
	// request into a 5xx.
	if limits.PerMinute > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, minuteKey(action, userID), minuteWindow)
		if err != nil {
			l.logger.Warn("rate window unavailable, allowing", zap.Error(err), zap.String("action", action))
		} else if count > int64(limits.PerMinute) {
			retryAfterSec = maxInt64(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if limits.Per10Sec > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, tenSecKey(action, userID), tenSecWindow)
		if err != nil {
			l.logger.Warn("rate window unavailable, allowing", zap.Error(err), zap.String("action", action))
		} else if count > int64(limits.Per10Sec) {
			retryAfterSec = maxInt64(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if retryAfterSec > 0 {
		return retryAfterSec, false, nil
	}

	return 0, true, nil
}

// RetryAfter inspects the action's budget without consuming anything.
func (l *Limiter) RetryAfter(ctx context.Context, action string, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, fmt.Errorf("invalid user id")
	}

	limits, ok := l.actions[action]
	if !ok {
		return 0, nil
	}
	if l.store == nil {
		return 0, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)

	if limits.PerMinute > 0 {
		count, ttl, err := l.store.WindowState(ctx, minuteKey(action, userID))
		if err != nil {
			l.logger.Warn("rate window unavailable", zap.Error(err), zap.String("action", action))
		} else if count >= int64(limits.PerMinute) {
			retryAfterSec = maxInt64(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if limits.Per10Sec > 0 {
		count, ttl, err := l.store.WindowState(ctx, tenSecKey(action, userID))
		if err != nil {
			l.logger.Warn("rate window unavailable", zap.Error(err), zap.String("action", action))
		} else if count >= int64(limits.Per10Sec) {
			retryAfterSec = maxInt64(retryAfterSec, ceilSeconds(ttl))
		}
	}

	return retryAfterSec, nil
}

func minuteKey(action string, userID int64) string {
	return "rate:" + action + ":min:" + strconv.FormatInt(userID, 10)
}

func tenSecKey(action string, userID int64) string {
	return "rate:" + action + ":10s:" + strconv.FormatInt(userID, 10)
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
