package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Locker 为同一份排班的写操作提供互斥租约
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// 只有持有者才能释放租约，避免租约过期后误删别人的
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
}

func writeLeaseKey(scheduleID int64) string {
	return fmt.Sprintf("schedule_%d_write", scheduleID)
}

// acquireWriteLease 获取排班的写租约，失败时已经写好响应，调用方直接返回即可
func (h *Handler) acquireWriteLease(w http.ResponseWriter, r *http.Request, scheduleID int64) (release func(), ok bool) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(h.config.Redis.OperationExpiration)*time.Second)
	defer cancel()

	key := writeLeaseKey(scheduleID)
	token, ok, err := h.leases.Acquire(ctx, key, time.Duration(h.config.Redis.WriteLease)*time.Second)
	if err != nil {
		h.internalServerError(w, r, err)
		return nil, false
	}
	if !ok {
		h.errorResponse(w, r, "排班正在被其他人修改，请稍后重试")
		return nil, false
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(h.config.Redis.OperationExpiration)*time.Second)
		defer cancel()
		if err := h.leases.Release(ctx, key, token); err != nil {
			h.logInternalServerError(r, err)
		}
	}, true
}
