package media

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"feedline.org/internal/feed"
	"feedline.org/internal/obs"
)

// QueueKey is the Redis list holding pending cleanup jobs.
const QueueKey = "feedline:media:cleanup"

// NewRedisClient returns a configured go-redis client from URL (e.g., redis://localhost:6379/0).
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, errors.New("empty redis url")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// QueueCleaner defers removal to a worker by pushing the reference onto a
// Redis list (LPUSH).
type QueueCleaner struct {
	client redis.Cmdable
	key    string
}

var _ feed.Cleaner = (*QueueCleaner)(nil)

func NewQueueCleaner(client redis.Cmdable) *QueueCleaner {
	return &QueueCleaner{client: client, key: QueueKey}
}

func (q *QueueCleaner) Clean(ctx context.Context, ref string) (err error) {
	defer func() { obs.ObserveCleanup("queue", err) }()

	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil
	}
	return q.client.LPush(ctx, q.key, ref).Err()
}

// Worker drains the cleanup queue (BRPOP) into a DiskCleaner.
type Worker struct {
	client  redis.Cmdable
	cleaner feed.Cleaner
	logger  *zap.Logger
	key     string
	wait    time.Duration
}

func NewWorker(client redis.Cmdable, cleaner feed.Cleaner, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{client: client, cleaner: cleaner, logger: logger, key: QueueKey, wait: 2 * time.Second}
}

// Run processes jobs until ctx is cancelled. Failed removals are logged and
// dropped.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := w.Step(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Warn("media queue read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
		}
	}
}

// Step waits for at most one job and handles it. It reports whether a job
// was taken.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	res, err := w.client.BRPop(ctx, w.wait, w.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(res) != 2 {
		return false, errors.New("media: unexpected BRPOP reply")
	}
	ref := res[1]
	if err := w.cleaner.Clean(ctx, ref); err != nil {
		w.logger.Warn("media cleanup failed", zap.String("image", ref), zap.Error(err))
		return true, nil
	}
	w.logger.Debug("media removed", zap.String("image", ref))
	return true, nil
}
