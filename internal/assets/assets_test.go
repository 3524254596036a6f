package assets

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/models"
)

func setupTree(t *testing.T) (root, outside string) {
	t.Helper()
	base := t.TempDir()
	root = filepath.Join(base, "public")
	outside = filepath.Join(base, "secret")

	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo"), 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>root</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "overlay.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "demo", "index.html"), []byte("<html>demo</html>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "key.txt"), []byte("top secret"), 0o644))
	return root, outside
}

func serve(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, "/", nil)
	req.URL.Path = target
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, req)
	return rr
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body.Error
}

func TestServe_Files(t *testing.T) {
	root, _ := setupTree(t)
	s, err := New(root, nil)
	require.NoError(t, err)

	rr := serve(t, s, http.MethodGet, "/overlay.js")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "console.log(1)", rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Contains(t, rr.Header().Get("Content-Type"), "javascript")

	rr = serve(t, s, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<html>root</html>", rr.Body.String())

	rr = serve(t, s, http.MethodGet, "/demo/")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "<html>demo</html>", rr.Body.String())
}

func TestServe_Missing(t *testing.T) {
	root, _ := setupTree(t)
	s, err := New(root, nil)
	require.NoError(t, err)

	rr := serve(t, s, http.MethodGet, "/nope.js")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestServe_Traversal(t *testing.T) {
	root, _ := setupTree(t)
	s, err := New(root, nil)
	require.NoError(t, err)

	rr := serve(t, s, http.MethodGet, "/../secret/key.txt")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, errcode.Forbidden, errorCode(t, rr))
	assert.NotContains(t, rr.Body.String(), "top secret")
}

func TestServe_SymlinkEscape(t *testing.T) {
	root, outside := setupTree(t)
	if err := os.Symlink(filepath.Join(outside, "key.txt"), filepath.Join(root, "leak.txt")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	s, err := New(root, nil)
	require.NoError(t, err)

	rr := serve(t, s, http.MethodGet, "/leak.txt")
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.NotContains(t, rr.Body.String(), "top secret")
}

func TestServe_MethodNotAllowed(t *testing.T) {
	root, _ := setupTree(t)
	s, err := New(root, nil)
	require.NoError(t, err)

	rr := serve(t, s, http.MethodPost, "/overlay.js")
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestNew_RejectsFile(t *testing.T) {
	root, _ := setupTree(t)
	_, err := New(filepath.Join(root, "overlay.js"), nil)
	assert.Error(t, err)
}
