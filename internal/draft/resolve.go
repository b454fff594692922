package draft

import (
	"time"

	"cvforge/internal/database"
)

// WriteOutcome reports how a draft write was satisfied.
type WriteOutcome int

const (
	// Inserted means a fresh row was created.
	Inserted WriteOutcome = iota + 1
	// ConflictRecycled means a stale row holding the same hash was reset for the caller.
	ConflictRecycled
	// ConflictReused means the caller's own active draft already held this content.
	ConflictReused
)

func (o WriteOutcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case ConflictRecycled:
		return "recycled"
	case ConflictReused:
		return "reused"
	default:
		return "unknown"
	}
}

// Resolution is the change a conflicting row must undergo.
type Resolution struct {
	Outcome WriteOutcome
	Draft   database.Draft
}

// ConflictResolver decides what happens to the row that blocked an insert.
type ConflictResolver func(existing database.Draft) Resolution

// ResolveConflict settles a hash collision between candidate and existing.
// A row the caller still actively owns is reused with a refreshed expiry.
// Any other row is recycled under a new id so a dead draft id never comes back.
func ResolveConflict(existing, candidate database.Draft, now time.Time) Resolution {
	if reusable(existing, candidate, now) {
		reused := existing
		reused.ExpiresAt = candidate.ExpiresAt
		reused.UpdatedAt = now
		return Resolution{Outcome: ConflictReused, Draft: reused}
	}

	recycled := existing
	recycled.ID = candidate.ID
	recycled.OwnerAnonymousID = candidate.OwnerAnonymousID
	recycled.OwnerUserID = nil
	recycled.Status = database.DraftStatusDraft
	recycled.Payload = candidate.Payload
	recycled.ContentHash = candidate.ContentHash
	recycled.ConvertedCVID = nil
	recycled.ConvertedVia = nil
	recycled.CreatedAt = now
	recycled.UpdatedAt = now
	recycled.ExpiresAt = candidate.ExpiresAt
	return Resolution{Outcome: ConflictRecycled, Draft: recycled}
}

func reusable(existing, candidate database.Draft, now time.Time) bool {
	if !now.Before(existing.ExpiresAt) {
		return false
	}
	if existing.Status != database.DraftStatusDraft || existing.OwnerUserID != nil {
		return false
	}
	if existing.OwnerAnonymousID == nil || candidate.OwnerAnonymousID == nil {
		return false
	}
	return *existing.OwnerAnonymousID == *candidate.OwnerAnonymousID
}
