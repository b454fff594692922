//go:build integration

package repository_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"cvforge/internal/catalog"
	"cvforge/internal/database"
	"cvforge/internal/draft"
	"cvforge/internal/repository"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "cvforge",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "cvforge_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic(err)
	}
	dsn = fmt.Sprintf("host=%s port=%s user=cvforge password=password dbname=cvforge_test sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func openPostgres(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.Open(dsn), database.Options(logger.Silent))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, db.Exec("TRUNCATE drafts, cvs, subscriptions, users RESTART IDENTITY CASCADE").Error)
	return db
}

type noEntitlements struct{}

func (noEntitlements) HasActiveSubscription(context.Context, uint) (bool, error) { return false, nil }

func newService(db *gorm.DB) *draft.Service {
	return draft.NewService(repository.NewDraftRepository(db), noEntitlements{}, catalog.Default(),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		draft.Options{TTL: 30 * time.Minute, PermissiveClaim: true})
}

func mustParse(t *testing.T, body string) draft.Payload {
	t.Helper()
	p, err := draft.ParsePayload([]byte(body))
	require.NoError(t, err)
	return p
}

func TestConcurrentSavesYieldOneDraft(t *testing.T) {
	db := openPostgres(t)
	svc := newService(db)
	p := mustParse(t, `{"templateId":"template-classic","mainColor":"#fff","cvData":{"n":1}}`)

	const workers = 8
	ids := make([]string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Save(context.Background(), "anon-1", p)
			assert.NoError(t, err)
			ids[i] = res.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	var n int64
	require.NoError(t, db.Model(&database.Draft{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestConcurrentConvertsYieldOneCV(t *testing.T) {
	db := openPostgres(t)
	svc := newService(db)
	user := database.User{Username: "payer", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)

	saved, err := svc.Save(context.Background(), "anon-1", mustParse(t, `{"templateId":"template-classic","mainColor":"#fff","cvData":{"n":2}}`))
	require.NoError(t, err)

	triggers := []draft.Trigger{draft.TriggerDirect, draft.TriggerBilling, draft.TriggerPolling, draft.TriggerRetry}
	results := make([]draft.ConvertResult, len(triggers))
	var wg sync.WaitGroup
	for i, trigger := range triggers {
		wg.Add(1)
		go func(i int, trigger draft.Trigger) {
			defer wg.Done()
			caller := draft.Caller{UserID: user.ID, AnonymousID: "anon-1", ServerSide: trigger != draft.TriggerDirect}
			res, err := svc.Convert(context.Background(), saved.ID, caller, trigger)
			assert.NoError(t, err)
			results[i] = res
		}(i, trigger)
	}
	wg.Wait()

	created := 0
	for _, res := range results {
		assert.Equal(t, results[0].CVID, res.CVID)
		if !res.Deduplicated {
			created++
		}
	}
	assert.Equal(t, 1, created)

	n, err := repository.NewCVRepository(db).CountBySourceDraft(context.Background(), saved.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestActiveHashIndexIgnoresConvertedDrafts(t *testing.T) {
	db := openPostgres(t)
	svc := newService(db)
	user := database.User{Username: "writer", PasswordHash: "x"}
	require.NoError(t, db.Create(&user).Error)
	p := mustParse(t, `{"templateId":"template-classic","mainColor":"#fff","cvData":{"n":3}}`)

	first, err := svc.Save(context.Background(), "anon-1", p)
	require.NoError(t, err)
	_, err = svc.Convert(context.Background(), first.ID, draft.Caller{UserID: user.ID, AnonymousID: "anon-1"}, draft.TriggerDirect)
	require.NoError(t, err)

	second, err := svc.Save(context.Background(), "anon-1", p)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, draft.Inserted, second.Outcome)
}
