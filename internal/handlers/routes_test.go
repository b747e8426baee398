package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ledger-service/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPanickingRequestIsAccessLogged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "access.log")
	log := logger.New("INFO")
	require.NoError(t, log.SetLogFile(path))

	router := newRouter(log)
	router.HandleFunc("/boom", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	_ = log.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var accessLine map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(raw)), "\n") {
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		if entry["msg"] == "Request failed" {
			accessLine = entry
		}
	}

	require.NotNil(t, accessLine, "recovered panics must still produce an access log line")
	assert.Equal(t, float64(http.StatusInternalServerError), accessLine["status"])
	assert.Equal(t, "/boom", accessLine["path"])
	assert.NotEmpty(t, accessLine["request_id"])
}
