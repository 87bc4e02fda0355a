package support

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestGenerateLockIDUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := generateLockID()
		if _, dup := seen[id]; dup {
			t.Fatalf("generateLockID returned duplicate %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestRunExclusiveRejectsNilRun(t *testing.T) {
	if _, err := RunExclusive(context.Background(), nil, "key", time.Second, nil); err == nil {
		t.Fatal("RunExclusive accepted a nil run function")
	}
}

func TestRunExclusiveUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })

	called := false
	acquired, err := RunExclusive(context.Background(), client, "despeed:test", time.Second, func(context.Context) error {
		called = true
		return nil
	})
	if err == nil {
		t.Fatal("RunExclusive returned nil error for unreachable redis")
	}
	if acquired || called {
		t.Fatal("RunExclusive ran the function without holding the lock")
	}
}
