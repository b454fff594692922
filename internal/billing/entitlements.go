package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"cvforge/internal/database"
	"cvforge/internal/draft"
)

var _ draft.Entitlements = (*Entitlements)(nil)

// Subscription statuses that grant premium templates.
var activeStatuses = map[string]bool{
	"active":   true,
	"trialing": true,
}

// SubscriptionStore is the subset of the subscription repository entitlements need.
type SubscriptionStore interface {
	GetByUser(ctx context.Context, userID uint) (database.Subscription, bool, error)
	Upsert(ctx context.Context, sub database.Subscription) error
}

// Entitlements answers premium checks from the subscriptions table, cached in
// redis for a short while. A nil redis client disables the cache.
type Entitlements struct {
	subs   SubscriptionStore
	cache  redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

func NewEntitlements(subs SubscriptionStore, cache redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *Entitlements {
	if logger == nil {
		logger = slog.Default()
	}
	return &Entitlements{subs: subs, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

func cacheKey(userID uint) string {
	return fmt.Sprintf("entitlement:user:%d", userID)
}

// IsActive reports whether sub currently grants premium access.
func IsActive(sub database.Subscription, now time.Time) bool {
	if !activeStatuses[sub.Status] {
		return false
	}
	return sub.CurrentPeriodEnd == nil || now.Before(*sub.CurrentPeriodEnd)
}

func (e *Entitlements) HasActiveSubscription(ctx context.Context, userID uint) (bool, error) {
	if e.cache != nil && e.ttl > 0 {
		cached, err := e.cache.Get(ctx, cacheKey(userID)).Result()
		switch {
		case err == nil:
			return cached == "1", nil
		case !errors.Is(err, redis.Nil):
			e.logger.Warn("entitlement cache read failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
		}
	}

	sub, found, err := e.subs.GetByUser(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load subscription: %w", err)
	}
	active := found && IsActive(sub, e.now())

	if e.cache != nil && e.ttl > 0 {
		value := "0"
		if active {
			value = "1"
		}
		ttl := e.ttl
		if active && sub.CurrentPeriodEnd != nil {
			if left := sub.CurrentPeriodEnd.Sub(e.now()); left < ttl {
				ttl = left
			}
		}
		if err := e.cache.Set(ctx, cacheKey(userID), value, ttl).Err(); err != nil {
			e.logger.Warn("entitlement cache write failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
		}
	}
	return active, nil
}

// Record stores a subscription change and drops the cached answer.
func (e *Entitlements) Record(ctx context.Context, sub database.Subscription) error {
	if err := e.subs.Upsert(ctx, sub); err != nil {
		return err
	}
	e.Invalidate(ctx, sub.UserID)
	return nil
}

// Invalidate drops the cached answer for userID.
func (e *Entitlements) Invalidate(ctx context.Context, userID uint) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Del(ctx, cacheKey(userID)).Err(); err != nil {
		e.logger.Warn("entitlement cache invalidate failed", slog.Uint64("user_id", uint64(userID)), slog.Any("error", err))
	}
}
