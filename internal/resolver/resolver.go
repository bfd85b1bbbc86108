// Package resolver decides which version override modules apply to a build.
package resolver

import (
	"github.com/rs/zerolog/log"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/version"
)

// Override is an override module chosen for one target
type Override struct {
	Key     string
	Path    string
	Version string
	Target  string
}

// Resolver selects at most one override module per target
type Resolver struct {
	registry *version.Registry
}

func New(registry *version.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve picks, for the main module and each selected overlay, the newest
// override rule whose declared version is not newer than the requested one.
// Rules are considered in lexicographic key order, so on equal declared
// versions the first key wins.
func (r *Resolver) Resolve(cfg *domain.PackConfig, requested string, selected []domain.ModuleDescriptor) (map[string]Override, error) {
	if _, err := r.registry.Lookup(requested); err != nil {
		return nil, err
	}

	targets := make(map[string]bool, len(selected)+1)
	targets[cfg.MainModule] = true
	for _, m := range selected {
		targets[m.Key] = true
	}

	chosen := make(map[string]Override)
	for _, key := range cfg.OverrideKeys() {
		rule := cfg.VersionModules[key]
		target := rule.Target
		if target == "" {
			target = cfg.MainModule
		}
		if !targets[target] {
			continue
		}

		if !r.registry.Contains(rule.Version) {
			log.Warn().
				Str("override", key).
				Str("version", rule.Version).
				Msg("Skipping override with a version missing from the registry")
			continue
		}

		cmp, err := r.registry.Compare(requested, rule.Version)
		if err != nil {
			return nil, err
		}
		if cfg.VersionReverse {
			cmp = -cmp
		}
		if cmp < 0 || (rule.Strict && cmp != 0) {
			continue
		}

		if current, ok := chosen[target]; ok {
			newer, err := r.registry.Compare(current.Version, rule.Version)
			if err != nil {
				return nil, err
			}
			if newer >= 0 {
				if newer == 0 {
					log.Debug().
						Str("target", target).
						Str("kept", current.Key).
						Str("ignored", key).
						Msg("Override rules tie on version")
				}
				continue
			}
		}

		chosen[target] = Override{
			Key:     key,
			Path:    cfg.ModulePath(key),
			Version: rule.Version,
			Target:  target,
		}
	}

	for target, o := range chosen {
		log.Debug().Str("target", target).Str("override", o.Key).Str("version", o.Version).Msg("Override selected")
	}

	return chosen, nil
}
