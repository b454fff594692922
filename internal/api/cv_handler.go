package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"

	"cvforge/internal/api/middleware"
	"cvforge/internal/database"
	"cvforge/internal/draft"
	"cvforge/internal/repository"
)

const photoURLTTL = 15 * time.Minute

var subdomainPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{1,61}[a-z0-9])$`)

// CVStore is the permanent CV repository as used by the handler.
type CVStore interface {
	Create(ctx context.Context, cv *database.CV) error
	ListByUser(ctx context.Context, userID uint) ([]database.CV, error)
	GetForUser(ctx context.Context, id, userID uint) (database.CV, error)
	Update(ctx context.Context, cv *database.CV) error
	Delete(ctx context.Context, id, userID uint) error
	Publish(ctx context.Context, id, userID uint, subdomain string, at time.Time) error
	Unpublish(ctx context.Context, id, userID uint) error
}

// ObjectStorage holds uploaded CV photos.
type ObjectStorage interface {
	GeneratePresignedURL(ctx context.Context, objectKey string, ttl time.Duration) (string, error)
	DeleteObject(ctx context.Context, objectKey string) error
}

// CVHandler serves CRUD and publishing for a user's permanent CVs.
type CVHandler struct {
	cvs          CVStore
	entitlements draft.Entitlements
	catalog      draft.TemplateCatalog
	storage      ObjectStorage
	now          func() time.Time
}

func NewCVHandler(cvs CVStore, entitlements draft.Entitlements, catalog draft.TemplateCatalog, storage ObjectStorage) *CVHandler {
	return &CVHandler{
		cvs:          cvs,
		entitlements: entitlements,
		catalog:      catalog,
		storage:      storage,
		now:          time.Now,
	}
}

type cvResponse struct {
	ID              uint           `json:"id"`
	Title           string         `json:"title"`
	TemplateID      string         `json:"templateId"`
	MainColor       string         `json:"mainColor"`
	Data            datatypes.JSON `json:"data"`
	PhotoKey        string         `json:"photoKey,omitempty"`
	Subdomain       *string        `json:"subdomain,omitempty"`
	IsPublished     bool           `json:"isPublished"`
	IsPremiumLocked bool           `json:"isPremiumLocked"`
	SourceDraftID   *string        `json:"sourceDraftId,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

func newCVResponse(cv database.CV) cvResponse {
	return cvResponse{
		ID:              cv.ID,
		Title:           cv.Title,
		TemplateID:      cv.TemplateID,
		MainColor:       cv.MainColor,
		Data:            cv.Data,
		PhotoKey:        cv.PhotoKey,
		Subdomain:       cv.Subdomain,
		IsPublished:     cv.IsPublished,
		IsPremiumLocked: cv.IsPremiumLocked,
		SourceDraftID:   cv.SourceDraftID,
		CreatedAt:       cv.CreatedAt,
		UpdatedAt:       cv.UpdatedAt,
	}
}

// Create stores a CV directly for an authenticated user. The body has the
// same shape and rules as a draft payload.
func (h *CVHandler) Create(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cv, ok := h.bindCV(c, userID)
	if !ok {
		return
	}
	if err := h.cvs.Create(c.Request.Context(), &cv); err != nil {
		middleware.LoggerFromContext(c).Error("create cv failed", slog.Any("error", err))
		Internal(c, "failed to create cv")
		return
	}
	c.JSON(http.StatusCreated, newCVResponse(cv))
}

func (h *CVHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	cvs, err := h.cvs.ListByUser(c.Request.Context(), userID)
	if err != nil {
		middleware.LoggerFromContext(c).Error("list cvs failed", slog.Any("error", err))
		Internal(c, "failed to list cvs")
		return
	}
	items := make([]cvResponse, 0, len(cvs))
	for _, cv := range cvs {
		items = append(items, newCVResponse(cv))
	}
	c.JSON(http.StatusOK, items)
}

func (h *CVHandler) Get(c *gin.Context) {
	cv, ok := h.loadOwned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newCVResponse(cv))
}

// Update replaces the CV content. The premium lock is recomputed for the
// new template.
func (h *CVHandler) Update(c *gin.Context) {
	existing, ok := h.loadOwned(c)
	if !ok {
		return
	}
	cv, ok := h.bindCV(c, existing.UserID)
	if !ok {
		return
	}
	cv.ID = existing.ID
	if err := h.cvs.Update(c.Request.Context(), &cv); err != nil {
		h.storeError(c, err)
		return
	}
	if existing.PhotoKey != "" && existing.PhotoKey != cv.PhotoKey {
		h.deletePhoto(c, existing.PhotoKey)
	}
	updated, err := h.cvs.GetForUser(c.Request.Context(), existing.ID, existing.UserID)
	if err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCVResponse(updated))
}

// Delete soft-deletes the CV and removes its photo object.
func (h *CVHandler) Delete(c *gin.Context) {
	existing, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if err := h.cvs.Delete(c.Request.Context(), existing.ID, existing.UserID); err != nil {
		h.storeError(c, err)
		return
	}
	if existing.PhotoKey != "" {
		h.deletePhoto(c, existing.PhotoKey)
	}
	c.Status(http.StatusNoContent)
}

type publishRequest struct {
	Subdomain string `json:"subdomain" binding:"required"`
}

// Publish exposes the CV under a unique subdomain. Locked premium CVs cannot
// be published until the owner subscribes.
func (h *CVHandler) Publish(c *gin.Context) {
	var req publishRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	subdomain := strings.ToLower(strings.TrimSpace(req.Subdomain))
	if !subdomainPattern.MatchString(subdomain) {
		BadRequest(c, "invalid subdomain")
		return
	}

	existing, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if existing.IsPremiumLocked && !h.subscribed(c, existing.UserID) {
		Forbidden(c, "premium template requires an active subscription")
		return
	}

	if err := h.cvs.Publish(c.Request.Context(), existing.ID, existing.UserID, subdomain, h.now().UTC()); err != nil {
		h.storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"subdomain": subdomain})
}

func (h *CVHandler) Unpublish(c *gin.Context) {
	existing, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if err := h.cvs.Unpublish(c.Request.Context(), existing.ID, existing.UserID); err != nil {
		h.storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PhotoURL returns a short-lived link to the CV photo.
func (h *CVHandler) PhotoURL(c *gin.Context) {
	existing, ok := h.loadOwned(c)
	if !ok {
		return
	}
	if existing.PhotoKey == "" || h.storage == nil {
		NotFound(c, "cv has no photo")
		return
	}
	url, err := h.storage.GeneratePresignedURL(c.Request.Context(), existing.PhotoKey, photoURLTTL)
	if err != nil {
		middleware.LoggerFromContext(c).Error("presign photo failed", slog.Any("error", err))
		Internal(c, "failed to generate photo url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url, "expires_in": int(photoURLTTL.Seconds())})
}

func (h *CVHandler) bindCV(c *gin.Context, userID uint) (database.CV, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		BadRequest(c, "unreadable body")
		return database.CV{}, false
	}
	payload, err := draft.ParsePayload(raw)
	if err != nil {
		DraftError(c, err)
		return database.CV{}, false
	}
	cv, err := draft.NewCV(payload, userID, h.catalog, h.subscribed(c, userID))
	if err != nil {
		middleware.LoggerFromContext(c).Error("build cv failed", slog.Any("error", err))
		Internal(c, "internal error")
		return database.CV{}, false
	}
	return cv, true
}

func (h *CVHandler) subscribed(c *gin.Context, userID uint) bool {
	if h.entitlements == nil {
		return false
	}
	active, err := h.entitlements.HasActiveSubscription(c.Request.Context(), userID)
	if err != nil {
		middleware.LoggerFromContext(c).Warn("entitlement lookup failed", slog.Any("error", err))
		return false
	}
	return active
}

func (h *CVHandler) loadOwned(c *gin.Context) (database.CV, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return database.CV{}, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		BadRequest(c, "invalid cv id")
		return database.CV{}, false
	}
	cv, err := h.cvs.GetForUser(c.Request.Context(), uint(id), userID)
	if err != nil {
		h.storeError(c, err)
		return database.CV{}, false
	}
	return cv, true
}

func (h *CVHandler) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrCVNotFound):
		NotFound(c, "cv not found")
	case errors.Is(err, repository.ErrSubdomainTaken):
		Conflict(c, "subdomain already taken")
	default:
		middleware.LoggerFromContext(c).Error("cv store failed", slog.Any("error", err))
		Internal(c, "internal error")
	}
}

func (h *CVHandler) deletePhoto(c *gin.Context, key string) {
	if h.storage == nil {
		return
	}
	if err := h.storage.DeleteObject(c.Request.Context(), key); err != nil {
		middleware.LoggerFromContext(c).Warn("delete cv photo failed",
			slog.String("photo_key", key),
			slog.Any("error", err),
		)
	}
}
