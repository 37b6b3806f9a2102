package audit

import (
	"context"
	"fmt"
	"time"

	"enrollsync/internal/config"
	"enrollsync/internal/constants"
	"enrollsync/internal/logger"
	"enrollsync/internal/notification"
	"enrollsync/pkg/metrics"
)

// ProcessedIndex answers "was this enrollment action already processed".
// Redis holds a TTL-bounded copy of the answer; the audit table is the
// source of truth and is consulted on every cache miss. A nil cache makes
// every lookup a miss.
type ProcessedIndex struct {
	cache  Cache
	store  Store
	ttl    time.Duration
	onFail string
	logger logger.Logger
}

func NewProcessedIndex(cache Cache, store Store, cfg config.ProcessingConfig, log logger.Logger) *ProcessedIndex {
	onFail := cfg.OnRedisError
	if onFail == "" {
		onFail = constants.OnRedisErrorFallback
	}
	return &ProcessedIndex{
		cache:  cache,
		store:  store,
		ttl:    time.Duration(cfg.ProcessedIndexTTLSeconds) * time.Second,
		onFail: onFail,
		logger: log,
	}
}

func ProcessedKey(hbxEnrollmentID string, action notification.Action) string {
	return constants.CacheKeyPrefixProcessed + hbxEnrollmentID + ":" + string(action)
}

func (p *ProcessedIndex) IsProcessed(ctx context.Context, hbxEnrollmentID string, action notification.Action) (bool, error) {
	key := ProcessedKey(hbxEnrollmentID, action)
	if p.cache == nil {
		return p.storeLookup(ctx, key, hbxEnrollmentID, action)
	}

	hit, err := p.cache.Exists(ctx, key)
	switch {
	case err != nil:
		metrics.IncProcessedIndexLookup("redis", "error")
		if ferr := p.redisFailure(ctx, "lookup", err); ferr != nil {
			return false, ferr
		}
	case hit:
		metrics.IncProcessedIndexLookup("redis", "hit")
		return true, nil
	default:
		metrics.IncProcessedIndexLookup("redis", "miss")
	}

	return p.storeLookup(ctx, key, hbxEnrollmentID, action)
}

func (p *ProcessedIndex) storeLookup(ctx context.Context, key, hbxEnrollmentID string, action notification.Action) (bool, error) {
	processed, err := p.store.HasProcessed(ctx, hbxEnrollmentID, string(action))
	if err != nil {
		metrics.IncProcessedIndexLookup("postgres", "error")
		return false, err
	}
	if !processed {
		metrics.IncProcessedIndexLookup("postgres", "miss")
		return false, nil
	}

	metrics.IncProcessedIndexLookup("postgres", "hit")
	if err := p.set(ctx, key); err != nil {
		p.logger.DebugwCtx(ctx, "Failed to warm processed index", "key", key, "error", err)
	}
	return true, nil
}

// MarkProcessed records a processed enrollment action in the cache. The
// audit record written before it stays authoritative, so with the fallback
// policy a Redis failure is only logged.
func (p *ProcessedIndex) MarkProcessed(ctx context.Context, hbxEnrollmentID string, action notification.Action) error {
	if err := p.set(ctx, ProcessedKey(hbxEnrollmentID, action)); err != nil {
		return p.redisFailure(ctx, "mark", err)
	}
	return nil
}

func (p *ProcessedIndex) set(ctx context.Context, key string) error {
	if p.cache == nil {
		return nil
	}
	_, err := p.cache.SetNX(ctx, key, time.Now().Unix(), p.ttl)
	return err
}

func (p *ProcessedIndex) redisFailure(ctx context.Context, op string, err error) error {
	if p.onFail == constants.OnRedisErrorFail {
		metrics.FallbackUsageTotal.WithLabelValues("processed_index", "fail_on_error", op).Inc()
		return fmt.Errorf("processed index %s failed: %w", op, err)
	}

	metrics.FallbackUsageTotal.WithLabelValues("processed_index", "fallback_on_error", op).Inc()
	p.logger.WarnwCtx(ctx, "Redis error in processed index, falling back to audit store",
		"operation", op,
		"error", err,
	)
	return nil
}
