// Package assets serves the static widget bundle and demo pages from a
// directory tree, refusing anything that resolves outside of it.
package assets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"giftcard-overlay/internal/errcode"
	"giftcard-overlay/internal/models"
)

const indexFile = "index.html"

// Server serves files beneath a root directory.
type Server struct {
	root   string
	logger *zap.Logger
}

// New resolves root and checks that it is a directory.
func New(root string, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve assets root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve assets root: %w", err)
	}
	info, err := os.Stat(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to stat assets root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("assets root %s is not a directory", resolved)
	}

	return &Server{root: resolved, logger: logger}, nil
}

// Root returns the resolved root directory.
func (s *Server) Root() string { return s.root }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeError(w, http.StatusMethodNotAllowed, errcode.MethodNotAllowed)
		return
	}

	file, err := s.resolve(r.URL.Path)
	switch {
	case errors.Is(err, errForbidden):
		s.logger.Warn("asset request outside root", zap.String("path", r.URL.Path))
		writeError(w, http.StatusForbidden, errcode.Forbidden)
		return
	case err != nil:
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("asset lookup failed", zap.String("path", r.URL.Path), zap.Error(err))
		}
		writeError(w, http.StatusNotFound, errcode.NotFound)
		return
	}

	f, err := os.Open(file)
	if err != nil {
		writeError(w, http.StatusNotFound, errcode.NotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, errcode.Internal)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

var errForbidden = errors.New("assets: path outside root")

// resolve maps a URL path to a regular file beneath the root.
func (s *Server) resolve(urlPath string) (string, error) {
	for _, seg := range strings.Split(filepath.ToSlash(urlPath), "/") {
		if seg == ".." {
			return "", errForbidden
		}
	}

	rel := strings.TrimPrefix(path.Clean("/"+urlPath), "/")
	resolved, err := s.within(filepath.Join(s.root, filepath.FromSlash(rel)))
	if err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		resolved, err = s.within(filepath.Join(resolved, indexFile))
		if err != nil {
			return "", err
		}
		if info, err = os.Stat(resolved); err != nil {
			return "", err
		}
	}
	if !info.Mode().IsRegular() {
		return "", fs.ErrNotExist
	}
	return resolved, nil
}

// within evaluates symlinks in p and checks the result is under the root.
func (s *Server) within(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(s.root, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errForbidden
	}
	return resolved, nil
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{Error: code})
}
