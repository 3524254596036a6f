package widget

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultMountID is used when a host mounts without naming a mount point.
const DefaultMountID = "gift-overlay-root"

// Registry holds one controller per mount point so that including the
// widget twice on a page yields a single instance.
type Registry struct {
	httpClient *http.Client
	logger     *zap.Logger
	probeDelay time.Duration

	mu        sync.Mutex
	instances map[string]*Controller
}

// NewRegistry creates an empty registry. probeDelay is passed through to
// Options.PassiveProbeDelay.
func NewRegistry(hc *http.Client, logger *zap.Logger, probeDelay time.Duration) *Registry {
	if hc == nil {
		hc = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		httpClient: hc,
		logger:     logger,
		probeDelay: probeDelay,
		instances:  make(map[string]*Controller),
	}
}

// Mount creates and starts a controller for mountID, or returns the one
// already mounted there. The boolean reports whether a new instance was
// created.
func (r *Registry) Mount(ctx context.Context, mountID string, attrs map[string]string, pageOrigin string, renderer Renderer) (*Controller, bool) {
	if mountID == "" {
		mountID = DefaultMountID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.instances[mountID]; ok {
		r.logger.Debug("overlay already mounted", zap.String("mount_id", mountID))
		return c, false
	}

	logger := r.logger.With(zap.String("mount_id", mountID))
	cfg := ParseEmbedConfig(attrs, pageOrigin, logger)
	c := NewFromEmbed(cfg, r.httpClient, Options{
		Renderer:          renderer,
		Logger:            logger,
		PassiveProbeDelay: r.probeDelay,
	})
	c.Start(ctx)

	r.instances[mountID] = c
	logger.Info("overlay mounted", zap.String("api_base", cfg.APIBase))
	return c, true
}

// Get returns the controller mounted at mountID.
func (r *Registry) Get(mountID string) (*Controller, bool) {
	if mountID == "" {
		mountID = DefaultMountID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.instances[mountID]
	return c, ok
}

// Unmount stops and removes the controller at mountID.
func (r *Registry) Unmount(mountID string) bool {
	if mountID == "" {
		mountID = DefaultMountID
	}

	r.mu.Lock()
	c, ok := r.instances[mountID]
	delete(r.instances, mountID)
	r.mu.Unlock()

	if ok {
		c.Stop()
	}
	return ok
}

// Close stops every mounted controller.
func (r *Registry) Close() {
	r.mu.Lock()
	all := r.instances
	r.instances = make(map[string]*Controller)
	r.mu.Unlock()

	for _, c := range all {
		c.Stop()
	}
}
