package widget

import (
	"strings"

	"go.uber.org/zap"
)

// Attribute names read from the including element.
const (
	AttrMerchantID = "data-merchant-id"
	AttrAPIKey     = "data-api-key"
	AttrAPIBase    = "data-api-base"
)

// EmbedConfig is read once at initialization.
type EmbedConfig struct {
	MerchantID string
	APIKey     string
	APIBase    string
}

// ParseEmbedConfig reads the embed attributes. A missing merchant id is
// logged but does not block initialization; the API base defaults to the
// including page's origin.
func ParseEmbedConfig(attrs map[string]string, pageOrigin string, logger *zap.Logger) EmbedConfig {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg := EmbedConfig{
		MerchantID: strings.TrimSpace(attrs[AttrMerchantID]),
		APIKey:     strings.TrimSpace(attrs[AttrAPIKey]),
		APIBase:    strings.TrimSpace(attrs[AttrAPIBase]),
	}
	if cfg.APIBase == "" {
		cfg.APIBase = pageOrigin
	}
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")

	if cfg.MerchantID == "" {
		logger.Warn("overlay embedded without merchant id", zap.String("attribute", AttrMerchantID))
	}
	return cfg
}
