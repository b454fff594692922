package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Draft lifecycle states. Converted is terminal.
const (
	DraftStatusDraft     = "draft"
	DraftStatusClaimed   = "claimed"
	DraftStatusConverted = "converted"
)

// User is an authenticated account.
type User struct {
	gorm.Model
	Username     string `gorm:"uniqueIndex;size:64"`
	PasswordHash string `gorm:"size:255"`
	CVs          []CV   `gorm:"constraint:OnDelete:CASCADE"`
}

// Subscription mirrors the billing provider's view of a user's plan.
type Subscription struct {
	ID                   uint   `gorm:"primaryKey"`
	UserID               uint   `gorm:"uniqueIndex;not null"`
	StripeCustomerID     string `gorm:"size:255"`
	StripeSubscriptionID string `gorm:"size:255;index"`
	Status               string `gorm:"size:32;not null"`
	CurrentPeriodEnd     *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// CV is a permanent resume owned by a user.
type CV struct {
	gorm.Model
	UserID          uint           `gorm:"index;not null"`
	User            User           `gorm:"constraint:OnDelete:CASCADE"`
	Title           string         `gorm:"size:255"`
	TemplateID      string         `gorm:"size:64;not null"`
	MainColor       string         `gorm:"size:16;not null"`
	Data            datatypes.JSON `gorm:"type:jsonb"`
	PhotoKey        string         `gorm:"size:255"`
	Subdomain       *string        `gorm:"size:63;uniqueIndex:idx_cvs_subdomain,where:subdomain IS NOT NULL"`
	IsPublished     bool           `gorm:"default:false"`
	PublishedAt     *time.Time
	IsPremiumLocked bool    `gorm:"default:false"`
	SourceDraftID   *string `gorm:"size:36;uniqueIndex:idx_cvs_source_draft,where:source_draft_id IS NOT NULL"`
}

// Draft is a short-lived, possibly anonymous CV payload awaiting conversion.
// content_hash is unique only among rows still in the draft state.
type Draft struct {
	ID               string         `gorm:"primaryKey;size:36"`
	OwnerAnonymousID *string        `gorm:"size:64;index"`
	OwnerUserID      *uint          `gorm:"index"`
	Payload          datatypes.JSON `gorm:"type:jsonb;not null"`
	ContentHash      string         `gorm:"size:64;not null;uniqueIndex:idx_drafts_active_hash,where:status = 'draft'"`
	Status           string         `gorm:"size:16;not null;default:draft;index"`
	ConvertedCVID    *uint
	ConvertedVia     *string   `gorm:"size:16"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time
	ExpiresAt        time.Time `gorm:"not null;index"`
}
