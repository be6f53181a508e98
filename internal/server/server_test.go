package server_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fieldvault "github.com/mkaverti/fieldvault"
	"github.com/mkaverti/fieldvault/internal/bag"
	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/events"
	"github.com/mkaverti/fieldvault/internal/importer"
	"github.com/mkaverti/fieldvault/internal/queue"
	"github.com/mkaverti/fieldvault/internal/server"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, fieldvault.MigrationFS))

	archive := t.TempDir()
	require.NoError(t, db.SetSetting(database, db.ArchiveFolderKey, archive))

	hub := events.New()
	q := queue.New(database)
	sync := &bag.Synchronizer{Archive: archive}
	validator := &bag.Validator{DB: database, Sync: sync}
	orch := importer.New(database, q, sync, hub)

	srv := httptest.NewServer(server.New(database, orch, q, validator, hub).Routes())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestLocationLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/v1/locations", "application/json",
		strings.NewReader(`{"locid":"loc-001","name":"North Mill","category":"industrial"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// duplicate locid is a conflict
	resp, err = http.Post(srv.URL+"/api/v1/locations", "application/json",
		strings.NewReader(`{"locid":"loc-001","name":"North Mill"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/locations/loc-001")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/v1/locations/loc-404")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestImportValidation(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		body string
		want int
	}{
		{`not json`, http.StatusBadRequest},
		{`{"paths":[],"locid":"loc-001"}`, http.StatusBadRequest},
		{`{"paths":["/tmp/x"],"locid":""}`, http.StatusBadRequest},
		{`{"paths":["/tmp/x"],"locid":"loc-404"}`, http.StatusNotFound},
	}
	for _, c := range cases {
		resp, err := http.Post(srv.URL+"/api/v1/imports", "application/json", strings.NewReader(c.body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, c.want, resp.StatusCode, "body %s", c.body)
	}
}

func TestDeadLetterEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/v1/dead-letters")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/api/v1/dead-letters/ack", "application/json",
		strings.NewReader(`{"ids":[]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestArchiveSettingValidation(t *testing.T) {
	srv := newTestServer(t)
	client := &http.Client{}

	put := func(body string) int {
		req, err := http.NewRequest(http.MethodPut, srv.URL+"/api/v1/settings/archive", strings.NewReader(body))
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusBadRequest, put(`{"path":"relative/path"}`))
	assert.Equal(t, http.StatusBadRequest, put(`{"path":"/does/not/exist"}`))
	assert.Equal(t, http.StatusOK, put(`{"path":"`+t.TempDir()+`"}`))

	resp, err := http.Get(srv.URL + "/api/v1/settings/archive")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
