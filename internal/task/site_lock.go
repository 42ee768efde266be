package task

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"woo_sync_v1_202610/internal/config"
)

// ==================== 站点运行锁 ====================

// SiteLocker 同一站点同时只允许一次运行
type SiteLocker interface {
	// TryLock 站点已被占用时立即返回 ErrSiteBusy
	TryLock(ctx context.Context, siteID int64) (unlock func(), err error)
}

// NewSiteLocker redis.enabled 时使用 redis 锁，否则进程内锁
func NewSiteLocker(ctx context.Context, cfg config.RedisConfig, log *zap.Logger) (SiteLocker, error) {
	if !cfg.Enabled {
		return NewMemoryLocker(), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisLocker(client, cfg.LockTTL, log), nil
}

// ==================== 进程内 ====================

// MemoryLocker 单进程部署使用
type MemoryLocker struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[int64]struct{})}
}

func (l *MemoryLocker) TryLock(_ context.Context, siteID int64) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[siteID]; ok {
		return nil, ErrSiteBusy
	}
	l.held[siteID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, siteID)
			l.mu.Unlock()
		})
	}, nil
}

// ==================== Redis ====================

const redisLockPrefix = "woo-sync:site-lock:"

// 只删除 / 续期自己持有的锁
var (
	unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker 多实例部署共享同一把站点锁
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{client: client, ttl: ttl, log: log.Named("lock")}
}

func lockKey(siteID int64) string {
	return redisLockPrefix + strconv.FormatInt(siteID, 10)
}

func (l *RedisLocker) TryLock(ctx context.Context, siteID int64) (func(), error) {
	key := lockKey(siteID)
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSiteBusy
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.refresh(key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
				l.log.Warn("释放站点锁失败", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

// refresh 持有期间每 ttl/3 续期一次
func (l *RedisLocker) refresh(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := refreshScript.Run(ctx, l.client, []string{key}, token, l.ttl.Milliseconds()).Int64()
			cancel()
			switch {
			case err != nil && !errors.Is(err, redis.Nil):
				l.log.Warn("站点锁续期失败", zap.String("key", key), zap.Error(err))
			case n == 0:
				l.log.Error("站点锁已丢失", zap.String("key", key))
				return
			}
		}
	}
}
