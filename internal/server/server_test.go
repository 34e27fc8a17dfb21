package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"livecommerce/internal/config"
	"livecommerce/internal/middleware"
	"livecommerce/internal/testutil"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func healthApp(s *Server) *fiber.App {
	app := fiber.New()
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	return app
}

func TestLivenessCheck(t *testing.T) {
	app := healthApp(&Server{config: &config.Config{}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestReadinessCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		db, mock := newMockDB(t)
		_, rdb := testutil.NewRedis(t)
		mock.ExpectPing()

		app := healthApp(&Server{config: &config.Config{}, db: db, redis: rdb})
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database down", func(t *testing.T) {
		db, mock := newMockDB(t)
		_, rdb := testutil.NewRedis(t)
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		app := healthApp(&Server{config: &config.Config{}, db: db, redis: rdb})
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("redis missing", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectPing()

		app := healthApp(&Server{config: &config.Config{}, db: db})
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	})

	t.Run("redis down", func(t *testing.T) {
		db, mock := newMockDB(t)
		mr, rdb := testutil.NewRedis(t)
		mock.ExpectPing()
		mr.Close()

		app := healthApp(&Server{config: &config.Config{}, db: db, redis: rdb})
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil), -1)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()

		assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestGetFeatureFlags(t *testing.T) {
	ts := newTestServer(t, "job_vod_purge=off,event_stream=100%,auto_recording=0%")
	admin := signToken(t, 100, middleware.RoleAdmin)

	var plain struct {
		Flags map[string]string `json:"flags"`
	}
	resp := ts.do(t, http.MethodGet, "/api/admin/feature-flags", admin, nil, &plain)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "off", plain.Flags["job_vod_purge"])
	assert.Len(t, plain.Flags, 3)

	var evaluated struct {
		Evaluated map[string]bool `json:"evaluated"`
	}
	resp = ts.do(t, http.MethodGet, "/api/admin/feature-flags?seller_id=9", admin, nil, &evaluated)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.True(t, evaluated.Evaluated["event_stream"])
	assert.False(t, evaluated.Evaluated["auto_recording"])

	resp = ts.do(t, http.MethodGet, "/api/admin/feature-flags?seller_id=x", admin, nil, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/admin/feature-flags", signToken(t, 9, middleware.RoleSeller), nil, nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}
