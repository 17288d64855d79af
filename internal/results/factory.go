package results

import (
	"fmt"
	"strings"
	"time"

	"github.com/ricesearch/oltr-sim/internal/config"
	"github.com/ricesearch/oltr-sim/internal/pkg/errors"
)

// NewStore creates a Store based on the configuration.
func NewStore(cfg config.ResultsConfig, runID string) (Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "memory", "":
		return NewMemoryStore(), nil

	case "redis":
		store, err := NewRedisStore(cfg.RedisURL, runID)
		if err != nil {
			return nil, errors.Wrap(errors.CodeUnavailable, "results store unavailable", err)
		}
		if cfg.TTLHours > 0 {
			store.SetTTL(time.Duration(cfg.TTLHours) * time.Hour)
		}
		return store, nil

	default:
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown results store type: %s", cfg.Type))
	}
}
