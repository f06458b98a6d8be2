package rag

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rostilos/codecrow/internal/events"
	"github.com/rostilos/codecrow/internal/models"
)

func ragProject(enabled bool) *models.Project {
	return &models.Project{
		ID:     1,
		Name:   "demo",
		Config: models.ProjectConfig{Rag: models.RagConfig{Enabled: enabled}},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestIsEnabled(t *testing.T) {
	b := NewBridge("http://indexer", "s", time.Second, discardLogger())
	assert.True(t, b.IsEnabled(ragProject(true)))
	assert.False(t, b.IsEnabled(ragProject(false)))

	disabled := NewBridge("", "s", time.Second, discardLogger())
	assert.False(t, disabled.IsEnabled(ragProject(true)))
}

func TestTriggerIncrementalUpdateShipsChangeSets(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/index/incremental", r.URL.Path)
		assert.Equal(t, "s", r.Header.Get("x-service-secret"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	diff := `diff --git a/a.go b/a.go
index 1111111..2222222 100644
--- a/a.go
+++ b/a.go
@@ -1,1 +1,2 @@
+func Added() {}
diff --git a/b.go b/b.go
deleted file mode 100644
index 3333333..0000000
--- a/b.go
+++ /dev/null
@@ -1,1 +0,0 @@
-func Old() {}
`

	b := NewBridge(srv.URL, "s", time.Second, discardLogger())
	collector := &events.Collector{}
	err := b.TriggerIncrementalUpdate(context.Background(), ragProject(true), "main", "c1", diff, collector)
	require.NoError(t, err)

	assert.Equal(t, []interface{}{"a.go"}, got["addedOrModified"])
	assert.Equal(t, []interface{}{"b.go"}, got["deleted"])
	assert.Equal(t, "c1", got["commitHash"])
	assert.NotEmpty(t, collector.OfType("status"))
}

func TestTriggerSkipsDisabledProject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("indexer must not be called for a disabled project")
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, "s", time.Second, discardLogger())
	err := b.TriggerIncrementalUpdate(context.Background(), ragProject(false), "main", "c1", "", events.Discard)
	assert.NoError(t, err)
}

func TestEnsureIndexSurfacesUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index corrupt", http.StatusInternalServerError)
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, "s", time.Second, discardLogger())
	err := b.EnsureIndexUpToDate(context.Background(), ragProject(true), "main", events.Discard)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestIsReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/index/status", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]bool{"ready": true})
	}))
	defer srv.Close()

	b := NewBridge(srv.URL, "s", time.Second, discardLogger())
	ready, err := b.IsReady(context.Background(), ragProject(true), "main")
	require.NoError(t, err)
	assert.True(t, ready)
}
