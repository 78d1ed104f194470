package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/iconidentify/vidyodl/internal/config"
)

// Redis tests need a live server: REDIS_ADDR=localhost:6379 go test ./...
func newRedisRepo(t *testing.T) *RedisJobRepository {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	prefix := fmt.Sprintf("vidyodl-test:%d:", time.Now().UnixNano())
	repo, err := NewRedisJobRepository(context.Background(), config.RedisConfig{Addr: addr, KeyPrefix: prefix})
	if err != nil {
		t.Fatalf("NewRedisJobRepository failed: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		keys, _ := repo.client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			repo.client.Del(ctx, keys...)
		}
		repo.Close()
	})
	return repo
}

func TestRedisJobRepository(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) JobRepository {
		return newRedisRepo(t)
	})
}

func TestRedisJobRepository_Keys(t *testing.T) {
	repo := NewRedisJobRepositoryWithClient(nil, "p:")

	if got := repo.jobKey("abc"); got != "p:job:abc" {
		t.Errorf("jobKey = %q", got)
	}
	if got := repo.queueKey(); got != "p:queue" {
		t.Errorf("queueKey = %q", got)
	}
}

func TestNewRedisJobRepository_RequiresAddr(t *testing.T) {
	if _, err := NewRedisJobRepository(context.Background(), config.RedisConfig{}); err == nil {
		t.Error("expected error for empty addr")
	}
}
