package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"venuebook/internal/metrics"
)

// ApplyFunc applies a loaded catalog. A returned error means the catalog was
// refused and the stored windows are unchanged.
type ApplyFunc func(ctx context.Context, cat *Catalog) error

// WatchCatalog loads catalog.yaml, applies it and then polls the file,
// applying every version that loads and validates. A file that fails to load
// or an apply that is refused is counted as a failed sync and the previous
// catalog stays in force until the file changes again. Only a failed initial
// load is returned.
func WatchCatalog(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, apply ApplyFunc) error {
	if path == "" {
		path = "configs/catalog.yaml"
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	cat, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	lastMod := info.ModTime()
	applyCatalog(ctx, path, cat, logger, apply)

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		statFailing := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				info, err := os.Stat(path)
				if err != nil {
					if !statFailing {
						logger.Warn().Err(err).Str("path", path).Msg("catalog file unavailable, keeping current version")
					}
					statFailing = true
					continue
				}
				statFailing = false
				if !info.ModTime().After(lastMod) {
					continue
				}
				lastMod = info.ModTime()

				cat, err := LoadCatalog(path)
				if err != nil {
					metrics.IncCatalogSync(false)
					logger.Warn().Err(err).Str("path", path).Msg("catalog reload rejected, keeping previous version")
					continue
				}
				logger.Info().Str("path", path).Msg("catalog reloaded")
				applyCatalog(ctx, path, cat, logger, apply)
			}
		}
	}()

	return nil
}

func applyCatalog(ctx context.Context, path string, cat *Catalog, logger *zerolog.Logger, apply ApplyFunc) {
	if apply == nil {
		return
	}
	if err := apply(ctx, cat); err != nil {
		metrics.IncCatalogSync(false)
		logger.Error().Err(err).Str("path", path).Msg("catalog refused, keeping previous version")
		return
	}
	metrics.IncCatalogSync(true)
}
