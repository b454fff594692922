package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"cvforge/internal/api/middleware"
	"cvforge/internal/auth"
	"cvforge/internal/catalog"
	"cvforge/internal/draft"
	"cvforge/internal/repository"
	"cvforge/internal/testutil"
)

const (
	cookieName = "cvf_anon"
	draftTTL   = 30 * time.Minute
	classicCV  = `{"title":"Dev CV","templateId":"template-classic","mainColor":"#0076d1","cvData":{"name":"Ada"}}`
	premiumCV  = `{"title":"Exec","templateId":"template-executive","mainColor":"#112233","cvData":{"name":"Ada"}}`
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubEntitlements struct {
	mu     sync.Mutex
	active map[uint]bool
}

func (s *stubEntitlements) HasActiveSubscription(_ context.Context, userID uint) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active[userID], nil
}

func (s *stubEntitlements) set(userID uint, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[userID] = active
}

type fakeStorage struct {
	mu      sync.Mutex
	deleted []string
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://assets.example.invalid/" + objectKey, nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, objectKey)
	return nil
}

type testEnv struct {
	t       *testing.T
	db      *gorm.DB
	router  *gin.Engine
	auth    *auth.AuthService
	clock   *testutil.Clock
	redis   *redis.Client
	ents    *stubEntitlements
	storage *fakeStorage
	service *draft.Service
	alice   uint
	bob     uint
}

type envOption func(*Handlers)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	db := testutil.NewDB(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clock := testutil.NewClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	ents := &stubEntitlements{active: map[uint]bool{}}
	store := &fakeStorage{}
	tokens := testutil.NewAuthService(t)
	cat := catalog.Default()

	svc := draft.NewService(repository.NewDraftRepository(db), ents, cat, logger, draft.Options{
		TTL:             draftTTL,
		PermissiveClaim: true,
		Clock:           clock.Now,
	})

	h := Handlers{
		Tokens:      tokens,
		AnonymousID: middleware.AnonymousIDOptions{CookieName: cookieName, TTL: draftTTL},
		Drafts:      NewDraftHandler(svc, rdb, 100),
		CVs:         NewCVHandler(repository.NewCVRepository(db), ents, cat, store),
		Templates:   NewTemplateHandler(cat),
		Auth:        NewAuthHandler(repository.NewUserRepository(db), tokens, rdb, logger, ""),
	}
	for _, opt := range opts {
		opt(&h)
	}

	router := NewRouter(logger)
	RegisterRoutes(router, h)

	return &testEnv{
		t:       t,
		db:      db,
		router:  router,
		auth:    tokens,
		clock:   clock,
		redis:   rdb,
		ents:    ents,
		storage: store,
		service: svc,
		alice:   testutil.SeedUser(t, db, "alice"),
		bob:     testutil.SeedUser(t, db, "bob"),
	}
}

type request struct {
	method string
	path   string
	body   string
	userID uint
	anonID string
	header map[string]string
}

func (e *testEnv) do(r request) *httptest.ResponseRecorder {
	e.t.Helper()
	var body io.Reader
	if r.body != "" {
		body = bytes.NewBufferString(r.body)
	}
	req := httptest.NewRequest(r.method, r.path, body)
	req.Header.Set("Content-Type", "application/json")
	if r.userID != 0 {
		req.Header.Set("Authorization", testutil.BearerFor(e.t, e.auth, r.userID))
	}
	if r.anonID != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: r.anonID})
	}
	for k, v := range r.header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func cookieFrom(rec *httptest.ResponseRecorder, name string) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
