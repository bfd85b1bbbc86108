package project

import (
	"net/http"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/version"
)

// Selection is what a caller asked to include on top of the main module
type Selection struct {
	Modules []string `json:"modules"`
	Sets    []string `json:"sets"`
}

// Supports reports whether module key declares support for target.
// Modules without support_version support every version. A support_version
// the registry cannot resolve marks the module unsupported.
func (p *Project) Supports(reg *version.Registry, key, target string) (bool, error) {
	mc, ok := p.Modules[key]
	if !ok {
		return false, unknownModule(key)
	}
	if !reg.Contains(target) {
		return false, domain.UnknownVersion(target)
	}
	rg, err := reg.ParseRange(mc.SupportVersion)
	if err != nil {
		log.Warn().
			Err(err).
			Str("repo", p.Repo).
			Str("module", key).
			Str("support_version", mc.SupportVersion).
			Msg("Module declares an unresolvable support_version, treating as unsupported")
		return false, nil
	}
	return rg.Contains(target)
}

// Available returns the module keys usable with target, sorted
func (p *Project) Available(reg *version.Registry, target string) ([]string, error) {
	var out []string
	for _, key := range p.ModuleKeys() {
		ok, err := p.Supports(reg, key, target)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, key)
		}
	}
	return out, nil
}

// Select expands sets, drops modules that do not support target and checks
// that no selected module breaks another. The result feeds BuildRequest.Modules.
func (p *Project) Select(reg *version.Registry, target string, sel Selection) ([]domain.ModuleDescriptor, error) {
	if !reg.Contains(target) {
		return nil, domain.UnknownVersion(target)
	}

	keys := make([]string, 0, len(sel.Modules))
	seen := make(map[string]bool)
	add := func(key string) {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}

	for _, name := range sel.Sets {
		set, ok := p.Sets[name]
		if !ok {
			return nil, domain.NewAppError(domain.ErrValidationFailed, "Unknown module set", http.StatusUnprocessableEntity, map[string]any{"set": name})
		}
		for _, key := range set.Modules {
			add(key)
		}
	}
	for _, key := range sel.Modules {
		add(key)
	}

	selected := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == p.Config.MainModule {
			continue
		}
		ok, err := p.Supports(reg, key, target)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.Debug().Str("repo", p.Repo).Str("module", key).Str("version", target).Msg("Module does not support version, skipping")
			continue
		}
		selected = append(selected, key)
	}

	for _, key := range selected {
		for _, broken := range p.Modules[key].Breaks {
			if broken != key && slices.Contains(selected, broken) {
				return nil, domain.NewAppError(domain.ErrModuleConflict, "Selected modules are incompatible", http.StatusConflict, map[string]any{
					"module": key,
					"breaks": broken,
				})
			}
		}
	}

	out := make([]domain.ModuleDescriptor, 0, len(selected))
	for _, key := range selected {
		out = append(out, domain.ModuleDescriptor{
			Key:    key,
			Path:   p.Config.ModulePath(key),
			Weight: p.Modules[key].Weight,
		})
	}
	return out, nil
}

func unknownModule(key string) error {
	return domain.NewAppError(domain.ErrValidationFailed, "Unknown module", http.StatusUnprocessableEntity, map[string]any{"module": key})
}
