package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redrepo "github.com/avoronin/peek/backend/internal/repo/redis"
)

func TestLimiterBlocksOn10SecondWindow(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := redrepo.NewRateRepo(client)
	limiter := NewLimiter(repo, map[string]Limits{
		"create": {PerMinute: 100, Per10Sec: 2},
	}, nil)

	ctx := context.Background()
	userID := int64(42)

	for i := 0; i < 2; i++ {
		retryAfter, allowed, err := limiter.Allow(ctx, "create", userID)
		if err != nil {
			t.Fatalf("allow create #%d: %v", i+1, err)
		}
		if !allowed || retryAfter != 0 {
			t.Fatalf("unexpected result on allow #%d: allowed=%v retry_after=%d", i+1, allowed, retryAfter)
		}
	}

	retryAfter, allowed, err := limiter.Allow(ctx, "create", userID)
	if err != nil {
		t.Fatalf("allow create #3: %v", err)
	}
	if allowed {
		t.Fatalf("expected limiter block on third action in 10s window")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %d", retryAfter)
	}

	currentRetry, err := limiter.RetryAfter(ctx, "create", userID)
	if err != nil {
		t.Fatalf("retry_after state: %v", err)
	}
	if currentRetry <= 0 {
		t.Fatalf("expected positive retry_after state, got %d", currentRetry)
	}

	mr.FastForward(11 * time.Second)

	retryAfter, allowed, err = limiter.Allow(ctx, "create", userID)
	if err != nil {
		t.Fatalf("allow create after 10s window: %v", err)
	}
	if !allowed || retryAfter != 0 {
		t.Fatalf("unexpected result after fast forward: allowed=%v retry_after=%d", allowed, retryAfter)
	}
}

func TestLimiterBlocksOnMinuteWindow(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := redrepo.NewRateRepo(client)
	limiter := NewLimiter(repo, map[string]Limits{
		"view": {PerMinute: 3, Per10Sec: 100},
	}, nil)

	ctx := context.Background()
	userID := int64(77)

	for i := 0; i < 3; i++ {
		retryAfter, allowed, err := limiter.Allow(ctx, "view", userID)
		if err != nil {
			t.Fatalf("allow view #%d: %v", i+1, err)
		}
		if !allowed || retryAfter != 0 {
			t.Fatalf("unexpected result on allow #%d: allowed=%v retry_after=%d", i+1, allowed, retryAfter)
		}
	}

	retryAfter, allowed, err := limiter.Allow(ctx, "view", userID)
	if err != nil {
		t.Fatalf("allow view #4: %v", err)
	}
	if allowed {
		t.Fatalf("expected limiter block on fourth action in minute window")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retry_after, got %d", retryAfter)
	}
}

func TestLimiterKeepsActionsIndependent(t *testing.T) {
	mr, client := newMiniRedisClient(t)
	defer mr.Close()
	defer func() { _ = client.Close() }()

	repo := redrepo.NewRateRepo(client)
	limiter := NewLimiter(repo, map[string]Limits{
		"create": {Per10Sec: 1},
		"view":   {Per10Sec: 10},
	}, nil)

	ctx := context.Background()
	userID := int64(11)

	if _, allowed, err := limiter.Allow(ctx, "create", userID); err != nil || !allowed {
		t.Fatalf("first create should pass: allowed=%v err=%v", allowed, err)
	}
	if _, allowed, err := limiter.Allow(ctx, "create", userID); err != nil || allowed {
		t.Fatalf("second create should block: allowed=%v err=%v", allowed, err)
	}
	if _, allowed, err := limiter.Allow(ctx, "view", userID); err != nil || !allowed {
		t.Fatalf("view must not share the create budget: allowed=%v err=%v", allowed, err)
	}
}

func TestLimiterFailsOpenOnStoreOutage(t *testing.T) {
	limiter := NewLimiter(downWindowStore{}, map[string]Limits{
		"create": {PerMinute: 3, Per10Sec: 1},
	}, nil)

	retryAfter, allowed, err := limiter.Allow(context.Background(), "create", 42)
	if err != nil {
		t.Fatalf("store outage must not surface as an error: %v", err)
	}
	if !allowed || retryAfter != 0 {
		t.Fatalf("store outage must fail open: allowed=%v retry_after=%d", allowed, retryAfter)
	}

	currentRetry, err := limiter.RetryAfter(context.Background(), "create", 42)
	if err != nil {
		t.Fatalf("retry_after during outage: %v", err)
	}
	if currentRetry != 0 {
		t.Fatalf("no block can be in effect during an outage, got %d", currentRetry)
	}
}

func TestLimiterIgnoresUnknownActions(t *testing.T) {
	limiter := NewLimiter(nil, map[string]Limits{}, nil)

	_, allowed, err := limiter.Allow(context.Background(), "unknown", 1)
	if err != nil {
		t.Fatalf("unknown action: %v", err)
	}
	if !allowed {
		t.Fatalf("unknown actions must not be limited")
	}
}

type downWindowStore struct{}

func (downWindowStore) IncrementWindow(_ context.Context, _ string, _ time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func (downWindowStore) WindowState(_ context.Context, _ string) (int64, time.Duration, error) {
	return 0, 0, errors.New("connection refused")
}

func newMiniRedisClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{
		Addr: mr.Addr(),
	})

	return mr, client
}
