package config

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/farmstay/imageurl"
)

// ResolveOrigin returns the origin requests and image URLs are built on. An
// origin on the stale list is swapped for canonical; rebased reports when
// that happened.
func ResolveOrigin(origin, canonical string, stale []string) (resolved string, rebased bool, err error) {
	resolved, err = parseOrigin(origin)
	if err != nil {
		return "", false, err
	}
	if !isStale(resolved, stale) {
		return resolved, false, nil
	}

	if canonical == "" {
		return "", false, fmt.Errorf("origin %s is stale and no canonical origin is set", resolved)
	}
	c, err := parseOrigin(canonical)
	if err != nil {
		return "", false, fmt.Errorf("canonical origin: %w", err)
	}
	if isStale(c, stale) {
		return "", false, fmt.Errorf("canonical origin %s is itself on the stale list", c)
	}
	return c, true, nil
}

// FixOrigins settles cfg's API origin once at startup and returns the
// normalizer every service shares. Calling it again on its own output
// changes nothing.
func FixOrigins(cfg *Config, log zerolog.Logger) (imageurl.Normalizer, error) {
	resolved, rebased, err := ResolveOrigin(cfg.APIOrigin, cfg.CanonicalOrigin, cfg.StaleOrigins)
	if err != nil {
		return imageurl.Normalizer{}, fmt.Errorf("resolve api origin: %w", err)
	}
	if rebased {
		log.Warn().Str("configured", cfg.APIOrigin).Str("origin", resolved).Msg("api origin is stale, using canonical origin")
	}
	cfg.APIOrigin = resolved

	n := imageurl.New(resolved, cfg.StaleOrigins...)
	if cfg.DefaultImage != "" {
		n.Default = cfg.DefaultImage
	}
	return n, nil
}

func isStale(origin string, stale []string) bool {
	for _, s := range stale {
		if strings.EqualFold(strings.TrimRight(strings.TrimSpace(s), "/"), origin) {
			return true
		}
	}
	return false
}
