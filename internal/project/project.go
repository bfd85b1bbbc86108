// Package project reads the configuration of a pack repository: config.json,
// the module.config.json of every selectable module and the optional sets.
package project

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/xekr/packsmith/internal/domain"
)

// ConfigFile is the pack configuration at the repository root
const ConfigFile = "config.json"

// ModuleConfigFile is the per-module configuration inside each module folder
const ModuleConfigFile = "module.config.json"

// DefaultMaxConcurrentReads bounds parallel source calls while loading
const DefaultMaxConcurrentReads = 8

// LoadError records a module or set file that could not be read
type LoadError struct {
	FilePath string `json:"file_path"`
	Error    string `json:"error"`
}

// Project is a loaded pack repository
type Project struct {
	Repo       string                         `json:"repo"`
	Config     *domain.PackConfig             `json:"config"`
	Modules    map[string]domain.ModuleConfig `json:"modules"`
	Sets       map[string]domain.SetConfig    `json:"sets"`
	LoadErrors []LoadError                    `json:"load_errors,omitempty"`
}

// ModuleKeys returns the selectable module keys in lexicographic order
func (p *Project) ModuleKeys() []string {
	keys := make([]string, 0, len(p.Modules))
	for k := range p.Modules {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Loader reads projects from a content source
type Loader struct {
	validator *domain.PackValidator
	limit     int
}

// NewLoader creates a Loader; maxConcurrent <= 0 uses DefaultMaxConcurrentReads
func NewLoader(maxConcurrent int) *Loader {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentReads
	}
	return &Loader{
		validator: domain.NewPackValidator(),
		limit:     maxConcurrent,
	}
}

// LoadConfig reads and validates config.json
func (l *Loader) LoadConfig(ctx context.Context, src domain.ContentSource) (*domain.PackConfig, error) {
	data, err := readFile(ctx, src, ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ConfigFile, err)
	}

	var cfg domain.PackConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrInvalidConfig, "config.json is not valid JSON", http.StatusUnprocessableEntity, err, map[string]any{
			"path": ConfigFile,
		})
	}
	for key, rule := range cfg.VersionModules {
		rule.Key = key
		cfg.VersionModules[key] = rule
	}

	if err := l.validator.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the whole project. Module and set files that fail to read are
// recorded in LoadErrors and skipped; a missing or invalid config.json or an
// unreadable base path fails the load.
func (l *Loader) Load(ctx context.Context, src domain.ContentSource, repo string) (*Project, error) {
	cfg, err := l.LoadConfig(ctx, src)
	if err != nil {
		return nil, err
	}

	p := &Project{
		Repo:    repo,
		Config:  cfg,
		Modules: make(map[string]domain.ModuleConfig),
		Sets:    make(map[string]domain.SetConfig),
	}

	var mu sync.Mutex
	record := func(file string, err error) {
		mu.Lock()
		defer mu.Unlock()
		p.LoadErrors = append(p.LoadErrors, LoadError{FilePath: file, Error: err.Error()})
		log.Warn().Err(err).Str("repo", repo).Str("file", file).Msg("Skipping unreadable project file")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return l.loadModules(gctx, src, p, &mu, record)
	})
	if cfg.SetsPath != "" {
		g.Go(func() error {
			return l.loadSets(gctx, src, p, &mu, record)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(p.LoadErrors, func(a, b LoadError) int {
		switch {
		case a.FilePath < b.FilePath:
			return -1
		case a.FilePath > b.FilePath:
			return 1
		}
		return 0
	})

	log.Debug().
		Str("repo", repo).
		Int("modules", len(p.Modules)).
		Int("sets", len(p.Sets)).
		Int("load_errors", len(p.LoadErrors)).
		Msg("Project loaded")

	return p, nil
}

func (l *Loader) loadModules(ctx context.Context, src domain.ContentSource, p *Project, mu *sync.Mutex, record func(string, error)) error {
	cfg := p.Config
	basePath := cfg.NormalizedBasePath()

	listing, err := fetchListing(ctx, src, basePath)
	if err != nil {
		return fmt.Errorf("failed to list base path %q: %w", cfg.BasePath, err)
	}
	if listing.IsFile() {
		return domain.NewAppError(domain.ErrInvalidConfig, "base_path must be a folder", http.StatusUnprocessableEntity, map[string]any{
			"base_path": cfg.BasePath,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.limit)
	for _, e := range listing.Entries {
		if e.Type != domain.EntryDir || e.Name == cfg.MainModule {
			continue
		}
		if _, isOverride := cfg.VersionModules[e.Name]; isOverride {
			continue
		}

		g.Go(func() error {
			file := path.Join(e.Path, ModuleConfigFile)
			data, err := readFile(gctx, src, file)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				record(file, err)
				return nil
			}

			var mc domain.ModuleConfig
			if err := json.Unmarshal(data, &mc); err != nil {
				record(file, err)
				return nil
			}

			mu.Lock()
			p.Modules[e.Name] = mc
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (l *Loader) loadSets(ctx context.Context, src domain.ContentSource, p *Project, mu *sync.Mutex, record func(string, error)) error {
	setsPath := domain.CleanPath(p.Config.SetsPath)

	listing, err := fetchListing(ctx, src, setsPath)
	if err != nil {
		return fmt.Errorf("failed to list sets path %q: %w", p.Config.SetsPath, err)
	}
	if listing.IsFile() {
		return domain.NewAppError(domain.ErrInvalidConfig, "sets_path must be a folder", http.StatusUnprocessableEntity, map[string]any{
			"sets_path": p.Config.SetsPath,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.limit)
	for _, e := range listing.Entries {
		if e.Type != domain.EntryFile {
			continue
		}

		g.Go(func() error {
			data, err := readFile(gctx, src, e.Path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				record(e.Path, err)
				return nil
			}

			var sc domain.SetConfig
			if err := json.Unmarshal(data, &sc); err != nil {
				record(e.Path, err)
				return nil
			}
			if sc.SetName == "" {
				record(e.Path, fmt.Errorf("set_name is required"))
				return nil
			}

			mu.Lock()
			p.Sets[sc.SetName] = sc
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func fetchListing(ctx context.Context, src domain.ContentSource, p string) (*domain.Listing, error) {
	listing, err := src.Fetch(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := listing.Validate(); err != nil {
		return nil, err
	}
	return listing, nil
}

func readFile(ctx context.Context, src domain.ContentSource, p string) ([]byte, error) {
	listing, err := fetchListing(ctx, src, p)
	if err != nil {
		return nil, err
	}
	if !listing.IsFile() {
		return nil, domain.UnexpectedContentShape(p)
	}
	return listing.File.Content, nil
}
