package enrichment

import (
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"formbase/internal/api"
	"formbase/internal/crypto"
	"formbase/internal/database"
	"formbase/internal/models"
	"formbase/internal/services/locations"
	syncsvc "formbase/internal/services/sync"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestMain(m *testing.M) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	if err := crypto.InitEncryption(base64.StdEncoding.EncodeToString(key)); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	// A single connection keeps every query on the same in-memory database
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.AutoMigrate(db))
	return db
}

func seedInstance(t *testing.T, db *gorm.DB, key, baseURL string) {
	t.Helper()

	enc, err := crypto.EncryptPassword("district")
	require.NoError(t, err)
	require.NoError(t, db.Create(&models.Dhis2Instance{
		Key:         key,
		BaseURL:     baseURL,
		Username:    "admin",
		PasswordEnc: enc,
	}).Error)
}

// unitServer serves /api/organisationUnits/{uid}.json from a uid -> JSON map.
func unitServer(responses map[string]string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/organisationUnits/"), ".json")
		body, ok := responses[uid]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func newTestService(t *testing.T, db *gorm.DB) *Service {
	t.Helper()

	log := zap.NewNop()
	resolver := api.NewResolver(db, 5*time.Second, log)
	store := locations.NewStore(db, log)
	sync := syncsvc.NewService(db, resolver, store, syncsvc.NewStaging(t.TempDir()), 20, log)
	return NewService(resolver, store, sync, log)
}

func TestEnrichOrgUnits(t *testing.T) {
	t.Run("Should build the breadcrumb from the ancestors chain", func(t *testing.T) {
		server := unitServer(map[string]string{
			"U3": `{"id":"U3","displayName":"Bo CHC","path":"/U1/U2/U3","ancestors":[{"displayName":"National"},{"displayName":"Bo District"}]}`,
		})
		defer server.Close()

		db := newTestDB(t)
		seedInstance(t, db, "hmis", server.URL)
		svc := newTestService(t, db)

		units, err := svc.EnrichOrgUnits("hmis", []string{"U3"})
		require.NoError(t, err)
		require.Len(t, units, 1)
		assert.Equal(t, "National > Bo District > Bo CHC", units[0].HierarchyPath)
		assert.False(t, units[0].Cached)
	})

	t.Run("Should fall back to the parent name", func(t *testing.T) {
		server := unitServer(map[string]string{
			"U3": `{"id":"U3","displayName":"Bo CHC","parent":{"id":"U2","displayName":"Bo District"}}`,
		})
		defer server.Close()

		db := newTestDB(t)
		seedInstance(t, db, "hmis", server.URL)
		svc := newTestService(t, db)

		units, err := svc.EnrichOrgUnits("hmis", []string{"U3"})
		require.NoError(t, err)
		assert.Equal(t, "Bo District > Bo CHC", units[0].HierarchyPath)
	})

	t.Run("Should resolve path segments from the location cache", func(t *testing.T) {
		server := unitServer(map[string]string{
			"U3": `{"id":"U3","displayName":"Bo CHC","path":"/U1/U2/U3"}`,
		})
		defer server.Close()

		db := newTestDB(t)
		seedInstance(t, db, "hmis", server.URL)
		svc := newTestService(t, db)

		_, err := svc.store.ImportStaged([]locations.StagedUnit{
			{InstanceKey: "hmis", UID: "U1", Name: "National", Path: "/U1", Level: 1},
			{InstanceKey: "hmis", UID: "U2", Name: "Bo District", Path: "/U1/U2", Level: 2, ParentUID: "U1"},
		})
		require.NoError(t, err)

		units, err := svc.EnrichOrgUnits("hmis", []string{"U3"})
		require.NoError(t, err)
		assert.Equal(t, "National > Bo District > Bo CHC", units[0].HierarchyPath)
		assert.True(t, units[0].Cached)
	})

	t.Run("Should backfill unknown path segments once", func(t *testing.T) {
		server := unitServer(map[string]string{
			"U3": `{"id":"U3","displayName":"Bo CHC","path":"/U1/U2/U3"}`,
			"U1": `{"id":"U1","name":"National","displayName":"National","level":1,"path":"/U1"}`,
			"U2": `{"id":"U2","name":"Bo District","displayName":"Bo District","level":2,"path":"/U1/U2","parent":{"id":"U1"}}`,
		})
		defer server.Close()

		db := newTestDB(t)
		seedInstance(t, db, "hmis", server.URL)
		svc := newTestService(t, db)

		units, err := svc.EnrichOrgUnits("hmis", []string{"U3"})
		require.NoError(t, err)
		assert.Equal(t, "National > Bo District > Bo CHC", units[0].HierarchyPath)
		assert.True(t, units[0].Cached)

		// The backfill lands in the location cache
		var count int64
		require.NoError(t, db.Model(&models.Location{}).Where("instance_key = ?", "hmis").Count(&count).Error)
		assert.Equal(t, int64(2), count)
	})

	t.Run("Should fall back to cached single-name lookups for unimportable segments", func(t *testing.T) {
		var nameLookups int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/organisationUnits/"), ".json")
			if r.URL.Query().Get("fields") == "id,name,displayName" {
				atomic.AddInt32(&nameLookups, 1)
			}
			w.Header().Set("Content-Type", "application/json")
			switch uid {
			case "U3":
				w.Write([]byte(`{"id":"U3","displayName":"Bo CHC","path":"/U1/U3"}`))
			case "U1":
				// No path or level: the backfill import rejects this unit,
				// only its display name is obtainable
				w.Write([]byte(`{"id":"U1","displayName":"National"}`))
			default:
				w.WriteHeader(http.StatusNotFound)
			}
		}))
		defer server.Close()

		db := newTestDB(t)
		seedInstance(t, db, "hmis", server.URL)
		svc := newTestService(t, db)

		units, err := svc.EnrichOrgUnits("hmis", []string{"U3"})
		require.NoError(t, err)
		assert.Equal(t, "National > Bo CHC", units[0].HierarchyPath)
		assert.True(t, units[0].Cached)

		// The second round hits the client's name cache instead of DHIS2
		units, err = svc.EnrichOrgUnits("hmis", []string{"U3"})
		require.NoError(t, err)
		assert.Equal(t, "National > Bo CHC", units[0].HierarchyPath)
		assert.Equal(t, int32(1), atomic.LoadInt32(&nameLookups))
	})

	t.Run("Should serve from the local cache when the remote is down", func(t *testing.T) {
		server := unitServer(nil) // every lookup 404s
		defer server.Close()

		db := newTestDB(t)
		seedInstance(t, db, "hmis", server.URL)
		svc := newTestService(t, db)

		_, err := svc.store.ImportStaged([]locations.StagedUnit{
			{InstanceKey: "hmis", UID: "U1", Name: "National", Path: "/U1", Level: 1},
			{InstanceKey: "hmis", UID: "U2", Name: "Bo District", Path: "/U1/U2", Level: 2, ParentUID: "U1"},
		})
		require.NoError(t, err)

		units, err := svc.EnrichOrgUnits("hmis", []string{"U2"})
		require.NoError(t, err)
		assert.Equal(t, "National > Bo District", units[0].HierarchyPath)
		assert.True(t, units[0].Cached)
	})

	t.Run("Should degrade to the uid when nothing resolves", func(t *testing.T) {
		server := unitServer(nil)
		defer server.Close()

		db := newTestDB(t)
		seedInstance(t, db, "hmis", server.URL)
		svc := newTestService(t, db)

		units, err := svc.EnrichOrgUnits("hmis", []string{"UX"})
		require.NoError(t, err)
		assert.Equal(t, "UX", units[0].Name)
		assert.Equal(t, "UX", units[0].HierarchyPath)
	})
}
