package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cvforge/internal/database"
)

// SubscriptionRepository keeps one subscription row per user.
type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// Upsert stores the latest known billing state for sub.UserID.
func (r *SubscriptionRepository) Upsert(ctx context.Context, sub database.Subscription) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"stripe_customer_id",
			"stripe_subscription_id",
			"status",
			"current_period_end",
			"updated_at",
		}),
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// GetByUser returns the subscription for userID, or found=false.
func (r *SubscriptionRepository) GetByUser(ctx context.Context, userID uint) (database.Subscription, bool, error) {
	var sub database.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return database.Subscription{}, false, nil
	}
	if err != nil {
		return database.Subscription{}, false, fmt.Errorf("get subscription: %w", err)
	}
	return sub, true, nil
}

// GetByStripeSubscription resolves a provider subscription id to our row.
func (r *SubscriptionRepository) GetByStripeSubscription(ctx context.Context, stripeID string) (database.Subscription, bool, error) {
	var sub database.Subscription
	err := r.db.WithContext(ctx).Where("stripe_subscription_id = ?", stripeID).Take(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return database.Subscription{}, false, nil
	}
	if err != nil {
		return database.Subscription{}, false, fmt.Errorf("get subscription by stripe id: %w", err)
	}
	return sub, true, nil
}
