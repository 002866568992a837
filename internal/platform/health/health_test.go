package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(t *testing.T, h *Handler, path string) (int, map[string]interface{}) {
	t.Helper()
	r := gin.New()
	h.RegisterRoutes(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func mockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
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

func TestLive(t *testing.T) {
	code, body := serve(t, NewHandler(nil, nil, "svc"), "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "svc", body["service"])
}

func TestReady_NoDependencies(t *testing.T) {
	code, body := serve(t, NewHandler(nil, nil, "svc"), "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["ready"])
}

func TestReady_Database(t *testing.T) {
	db, mock := mockDB(t)
	mock.ExpectPing()
	code, body := serve(t, NewHandler(db, nil, "svc"), "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["checks"].(map[string]interface{})["database"])

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	code, body = serve(t, NewHandler(db, nil, "svc"), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, false, body["ready"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]interface{})["database"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReady_RedisDown(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	code, body := serve(t, NewHandler(nil, rdb, "svc"), "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.NotEqual(t, "ok", body["checks"].(map[string]interface{})["redis"])
}
