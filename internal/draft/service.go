package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"cvforge/internal/database"
	"cvforge/internal/metrics"
)

// Store persists drafts. Every method that mutates a draft runs in a single
// transaction holding the draft row, and calls back into the service for policy.
type Store interface {
	Write(ctx context.Context, candidate database.Draft, resolve ConflictResolver) (database.Draft, WriteOutcome, error)
	Get(ctx context.Context, id string) (database.Draft, error)
	Claim(ctx context.Context, id string, userID uint, authorize Authorizer) error
	Convert(ctx context.Context, id string, req ConversionRequest) (ConvertResult, error)
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// Authorizer rejects a caller for the locked draft row, or returns nil.
type Authorizer func(d database.Draft) error

// ConversionRequest carries the caller-specific parts of a conversion.
type ConversionRequest struct {
	UserID    uint
	Trigger   Trigger
	Authorize Authorizer
	BuildCV   func(d database.Draft) (database.CV, error)
}

// ConvertResult identifies the CV a draft became.
type ConvertResult struct {
	CVID         uint `json:"cv_id"`
	Deduplicated bool `json:"deduplicated"`
}

// Entitlements answers whether a user currently pays for premium templates.
type Entitlements interface {
	HasActiveSubscription(ctx context.Context, userID uint) (bool, error)
}

// TemplateCatalog knows which templates need a paid tier.
type TemplateCatalog interface {
	IsPremium(templateID string) bool
}

// SaveResult is returned by Save.
type SaveResult struct {
	ID        string
	Outcome   WriteOutcome
	ExpiresAt time.Time
}

// Reused reports whether the caller got back a draft it already had.
func (r SaveResult) Reused() bool {
	return r.Outcome == ConflictReused
}

// View is the owner-facing representation of a draft.
type View struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Payload   Payload   `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
	CVID      *uint     `json:"cv_id,omitempty"`
}

// Options tunes a Service.
type Options struct {
	TTL time.Duration
	// PermissiveClaim lets an authenticated user claim an unowned draft
	// without presenting the anonymous id that created it.
	PermissiveClaim bool
	Clock           func() time.Time
}

// Service implements the draft lifecycle: save, claim and convert.
type Service struct {
	store           Store
	entitlements    Entitlements
	catalog         TemplateCatalog
	logger          *slog.Logger
	ttl             time.Duration
	permissiveClaim bool
	now             func() time.Time
}

func NewService(store Store, entitlements Entitlements, catalog TemplateCatalog, logger *slog.Logger, opts Options) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Service{
		store:           store,
		entitlements:    entitlements,
		catalog:         catalog,
		logger:          logger,
		ttl:             ttl,
		permissiveClaim: opts.PermissiveClaim,
		now:             func() time.Time { return clock().UTC() },
	}
}

// Save turns a validated payload into exactly one active draft for anonID.
// Resubmitting identical content before expiry returns the same id.
func (s *Service) Save(ctx context.Context, anonID string, p Payload) (SaveResult, error) {
	if anonID == "" {
		return SaveResult{}, fmt.Errorf("%w: missing anonymous id", ErrInvalidDraft)
	}

	hash, err := Hash(p)
	if err != nil {
		return SaveResult{}, err
	}
	body, err := json.Marshal(p)
	if err != nil {
		return SaveResult{}, fmt.Errorf("encode payload: %w", err)
	}

	now := s.now()
	owner := anonID
	candidate := database.Draft{
		ID:               uuid.NewString(),
		OwnerAnonymousID: &owner,
		Payload:          body,
		ContentHash:      hash,
		Status:           database.DraftStatusDraft,
		CreatedAt:        now,
		UpdatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}

	saved, outcome, err := s.store.Write(ctx, candidate, func(existing database.Draft) Resolution {
		return ResolveConflict(existing, candidate, now)
	})
	if err != nil {
		s.logger.Error("save draft failed",
			slog.String("content_hash", hash),
			slog.String("anonymous_id", anonID),
			slog.Any("error", err),
		)
		return SaveResult{}, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}

	metrics.ObserveDraftWrite(outcome.String())
	s.logger.Debug("draft saved",
		slog.String("draft_id", saved.ID),
		slog.String("outcome", outcome.String()),
	)
	return SaveResult{ID: saved.ID, Outcome: outcome, ExpiresAt: saved.ExpiresAt}, nil
}

// Get returns a draft to the identity that owns it.
func (s *Service) Get(ctx context.Context, id string, caller Caller) (View, error) {
	d, err := s.store.Get(ctx, id)
	if err != nil {
		return View{}, err
	}
	if !s.now().Before(d.ExpiresAt) {
		return View{}, ErrExpired
	}
	if !ownedBy(d, caller) {
		return View{}, ErrForbidden
	}

	var p Payload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		s.logger.Error("decode stored draft payload failed",
			slog.String("draft_id", d.ID),
			slog.String("content_hash", d.ContentHash),
			slog.Any("error", err),
		)
		return View{}, ErrInvalidDraft
	}
	return View{
		ID:        d.ID,
		Status:    d.Status,
		Payload:   p,
		ExpiresAt: d.ExpiresAt,
		CVID:      d.ConvertedCVID,
	}, nil
}

// Claim binds an unowned draft to the authenticated caller. Claiming a draft
// the caller already owns succeeds without changes.
func (s *Service) Claim(ctx context.Context, id string, caller Caller) error {
	var hash string
	authorize := s.authorizer(caller)
	err := s.store.Claim(ctx, id, caller.UserID, func(d database.Draft) error {
		hash = d.ContentHash
		return authorize(d)
	})
	if err == nil || IsTerminal(err) {
		return err
	}
	s.logger.Error("claim draft failed",
		slog.String("draft_id", id),
		slog.Uint64("user_id", uint64(caller.UserID)),
		slog.String("content_hash", hash),
		slog.Any("error", err),
	)
	return ErrInvalidDraft
}

// Convert turns a draft into a permanent CV owned by the caller. Every entry
// point converges here, and a draft yields at most one CV however many times
// or from however many triggers this runs.
func (s *Service) Convert(ctx context.Context, id string, caller Caller, trigger Trigger) (ConvertResult, error) {
	// Resolved outside the transaction; a failed lookup locks rather than blocks.
	subscribed := false
	if caller.Authenticated() && s.entitlements != nil {
		active, err := s.entitlements.HasActiveSubscription(ctx, caller.UserID)
		if err != nil {
			s.logger.Warn("entitlement lookup failed, treating as free tier",
				slog.Uint64("user_id", uint64(caller.UserID)),
				slog.Any("error", err),
			)
		}
		subscribed = active && err == nil
	}

	var hash string
	authorize := s.authorizer(caller)
	res, err := s.store.Convert(ctx, id, ConversionRequest{
		UserID:  caller.UserID,
		Trigger: trigger,
		Authorize: func(d database.Draft) error {
			hash = d.ContentHash
			return authorize(d)
		},
		BuildCV: func(d database.Draft) (database.CV, error) {
			return s.buildCV(d, caller.UserID, subscribed)
		},
	})
	if err != nil {
		if IsTerminal(err) {
			metrics.ObserveConversion(string(trigger), "rejected")
			return ConvertResult{}, err
		}
		metrics.ObserveConversion(string(trigger), "failed")
		s.logger.Error("convert draft failed",
			slog.String("draft_id", id),
			slog.Uint64("user_id", uint64(caller.UserID)),
			slog.String("content_hash", hash),
			slog.String("trigger", string(trigger)),
			slog.Any("error", err),
		)
		return ConvertResult{}, ErrInvalidDraft
	}

	outcome := "created"
	if res.Deduplicated {
		outcome = "deduplicated"
	}
	metrics.ObserveConversion(string(trigger), outcome)
	s.logger.Info("draft converted",
		slog.String("draft_id", id),
		slog.Uint64("user_id", uint64(caller.UserID)),
		slog.Uint64("cv_id", uint64(res.CVID)),
		slog.String("trigger", string(trigger)),
		slog.Bool("deduplicated", res.Deduplicated),
	)
	return res, nil
}

// PurgeExpired deletes drafts whose expiry passed more than retention ago.
func (s *Service) PurgeExpired(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.store.PurgeExpired(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	metrics.ObservePurge(n)
	return n, nil
}

// authorizer applies the precondition order shared by claim and convert:
// expiry, then authentication, then ownership. NotFound is the store's.
// authorizer reads the clock when invoked so expiry is judged under the row lock.
func (s *Service) authorizer(caller Caller) Authorizer {
	return func(d database.Draft) error {
		if !s.now().Before(d.ExpiresAt) {
			return ErrExpired
		}
		if !caller.Authenticated() {
			return ErrAuthenticationRequired
		}
		if d.OwnerUserID != nil {
			if *d.OwnerUserID != caller.UserID {
				return ErrForbidden
			}
			return nil
		}
		if ownedBy(d, caller) || caller.ServerSide || s.permissiveClaim {
			return nil
		}
		return ErrForbidden
	}
}

func ownedBy(d database.Draft, caller Caller) bool {
	if d.OwnerUserID != nil {
		return caller.Authenticated() && *d.OwnerUserID == caller.UserID
	}
	return d.OwnerAnonymousID != nil && caller.AnonymousID != "" && *d.OwnerAnonymousID == caller.AnonymousID
}

func (s *Service) buildCV(d database.Draft, userID uint, subscribed bool) (database.CV, error) {
	var p Payload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return database.CV{}, fmt.Errorf("decode draft payload: %w", err)
	}
	cv, err := NewCV(p, userID, s.catalog, subscribed)
	if err != nil {
		return database.CV{}, err
	}
	source := d.ID
	cv.SourceDraftID = &source
	return cv, nil
}

// NewCV builds the CV row for p. Premium templates are locked unless the
// owner is subscribed.
func NewCV(p Payload, userID uint, catalog TemplateCatalog, subscribed bool) (database.CV, error) {
	doc, err := p.Document()
	if err != nil {
		return database.CV{}, fmt.Errorf("encode cv data: %w", err)
	}
	title, templateID, mainColor := p.CVFields()
	premium := catalog != nil && catalog.IsPremium(templateID)
	return database.CV{
		UserID:          userID,
		Title:           title,
		TemplateID:      templateID,
		MainColor:       mainColor,
		Data:            doc,
		PhotoKey:        p.PhotoKey,
		IsPremiumLocked: premium && !subscribed,
	}, nil
}

// ErrorIsRetryable reports whether a failed conversion may succeed later.
func ErrorIsRetryable(err error) bool {
	return err != nil && !IsTerminal(err) && !errors.Is(err, context.Canceled)
}
