// Package builder assembles pack archives: it resolves override modules,
// fetches and translates module trees concurrently, merges them in weight
// order and emits the result as a zip archive.
package builder

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/filetree"
	"github.com/xekr/packsmith/internal/resolver"
	"github.com/xekr/packsmith/internal/translate"
	"github.com/xekr/packsmith/internal/version"
)

// DefaultMaxConcurrentFetches bounds in-flight content source calls per build
const DefaultMaxConcurrentFetches = 16

// IconFile is where the configured icon lands in the archive
const IconFile = "pack.png"

// Options tunes a Builder
type Options struct {
	MaxConcurrentFetches int64
	Paths                *translate.PathTranslator
}

// Builder runs builds against a shared, read-only version registry
type Builder struct {
	registry   *version.Registry
	resolver   *resolver.Resolver
	paths      *translate.PathTranslator
	recipes    *translate.RecipeTranslator
	validator  *domain.PackValidator
	maxFetches int64
}

// New creates a Builder
func New(registry *version.Registry, opts Options) *Builder {
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = DefaultMaxConcurrentFetches
	}
	if opts.Paths == nil {
		opts.Paths = translate.DefaultPathTranslator()
	}
	return &Builder{
		registry:   registry,
		resolver:   resolver.New(registry),
		paths:      opts.Paths,
		recipes:    translate.NewRecipeTranslator(),
		validator:  domain.NewPackValidator(),
		maxFetches: opts.MaxConcurrentFetches,
	}
}

// Registry returns the version registry builds are checked against
func (b *Builder) Registry() *version.Registry {
	return b.registry
}

// Result is a finished build
type Result struct {
	ID        string
	FileName  string
	Archive   []byte
	Tree      *filetree.Tree
	Version   version.Entry
	Type      domain.PackType
	Overrides map[string]resolver.Override
	Duration  time.Duration
}

// Build produces the archive described by req. Any failure aborts the whole
// build; no partial archive is returned.
func (b *Builder) Build(ctx context.Context, req domain.BuildRequest) (*Result, error) {
	start := time.Now()
	buildID := uuid.New().String()

	if req.Type == "" && req.Config != nil {
		req.Type = req.Config.Type
	}
	packType, ok := domain.ParsePackType(string(req.Type))
	if !ok {
		return nil, domain.NewAppError(domain.ErrValidationFailed, "Invalid pack type", http.StatusUnprocessableEntity, map[string]any{"type": req.Type})
	}
	req.Type = packType

	if err := b.validator.ValidateRequest(&req); err != nil {
		return nil, err
	}
	cfg := req.Config

	entry, err := b.registry.Lookup(req.Version)
	if err != nil {
		return nil, err
	}

	overlays := orderOverlays(cfg, req.Modules)

	overrides, err := b.resolver.Resolve(cfg, req.Version, overlays)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("build_id", buildID).Str("repo", req.RepoRef).Logger()
	logger.Info().
		Str("version", entry.ID).
		Str("type", string(packType)).
		Int("overlays", len(overlays)).
		Int("overrides", len(overrides)).
		Msg("Starting build")

	f := &fetcher{
		source:   req.Source,
		basePath: cfg.NormalizedBasePath(),
		entry:    entry,
		exclude:  packType.Excludes(),
		paths:    b.paths,
		recipes:  b.recipes,
		sem:      semaphore.NewWeighted(b.maxFetches),
	}

	var (
		base             *filetree.Tree
		baseOverride     *filetree.Tree
		overlayTrees     = make([]*filetree.Tree, len(overlays))
		overlayOverrides = make([]*filetree.Tree, len(overlays))
		icon             []byte
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		t, err := f.fetchModule(gctx, cfg.ModulePath(cfg.MainModule))
		if err != nil {
			return domain.NewAppErrorWithCause(domain.ErrMissingRequiredModule, "Base module could not be fetched", http.StatusUnprocessableEntity, err, map[string]any{
				"module": cfg.MainModule,
			})
		}
		base = t
		return nil
	})
	if o, ok := overrides[cfg.MainModule]; ok {
		g.Go(func() error {
			t, err := f.fetchModule(gctx, o.Path)
			if err != nil {
				return fmt.Errorf("failed to fetch override %s: %w", o.Key, err)
			}
			baseOverride = t
			return nil
		})
	}
	for i, m := range overlays {
		g.Go(func() error {
			t, err := f.fetchModule(gctx, m.Path)
			if err != nil {
				return fmt.Errorf("failed to fetch module %s: %w", m.Key, err)
			}
			overlayTrees[i] = t
			return nil
		})
		if o, ok := overrides[m.Key]; ok {
			g.Go(func() error {
				t, err := f.fetchModule(gctx, o.Path)
				if err != nil {
					return fmt.Errorf("failed to fetch override %s: %w", o.Key, err)
				}
				overlayOverrides[i] = t
				return nil
			})
		}
	}
	if cfg.Icon != "" {
		g.Go(func() error {
			content, err := f.fetchFile(gctx, cfg.Icon)
			if err != nil {
				return fmt.Errorf("failed to fetch icon: %w", err)
			}
			icon = content
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("Build failed while fetching modules")
		return nil, err
	}

	root := base
	if icon != nil {
		root, err = filetree.Upsert(root, &filetree.Leaf{Path: IconFile, Content: icon})
		if err != nil {
			return nil, err
		}
	}

	layers := make([]*filetree.Tree, 0, 1+2*len(overlays))
	layers = append(layers, baseOverride)
	for i := range overlays {
		layers = append(layers, overlayTrees[i], overlayOverrides[i])
	}
	root, err = filetree.MergeAll(root, layers...)
	if err != nil {
		return nil, err
	}

	root, err = b.finalize(root, cfg, entry, packType, req.ModLoader)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := Emit(&buf, root, packType); err != nil {
		return nil, err
	}

	result := &Result{
		ID:        buildID,
		FileName:  ArchiveName(cfg, entry, packType, req.ModLoader),
		Archive:   buf.Bytes(),
		Tree:      root,
		Version:   entry,
		Type:      packType,
		Overrides: overrides,
		Duration:  time.Since(start),
	}

	logger.Info().
		Str("file", result.FileName).
		Int("bytes", len(result.Archive)).
		Dur("duration", result.Duration).
		Msg("Build completed")

	return result, nil
}

// finalize injects pack metadata and, when requested, mod-loader descriptors
func (b *Builder) finalize(root *filetree.Tree, cfg *domain.PackConfig, entry version.Entry, t domain.PackType, modLoader bool) (*filetree.Tree, error) {
	var existing []byte
	if n, ok := root.Child(PackMetaFile); ok {
		leaf, isLeaf := n.(*filetree.Leaf)
		if !isLeaf {
			return nil, domain.MergeTypeMismatch(PackMetaFile)
		}
		existing = leaf.Content
	}

	meta, err := PackMeta(existing, cfg, entry, t)
	if err != nil {
		return nil, err
	}
	root, err = filetree.Upsert(root, &filetree.Leaf{Path: PackMetaFile, Content: meta})
	if err != nil {
		return nil, err
	}

	if !modLoader {
		return root, nil
	}

	descriptors, err := ModDescriptors(cfg)
	if err != nil {
		return nil, err
	}
	for _, d := range descriptors {
		if root, err = filetree.Upsert(root, d); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// orderOverlays drops the main module, fills in paths and sorts by weight then key
func orderOverlays(cfg *domain.PackConfig, modules []domain.ModuleDescriptor) []domain.ModuleDescriptor {
	out := make([]domain.ModuleDescriptor, 0, len(modules))
	seen := make(map[string]bool, len(modules))
	for _, m := range modules {
		if m.Key == cfg.MainModule || seen[m.Key] {
			continue
		}
		seen[m.Key] = true
		if m.Path == "" {
			m.Path = cfg.ModulePath(m.Key)
		}
		out = append(out, m)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight < out[j].Weight
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// ArchiveName is <pack_name>-<version>-<type>-mc<target>.<zip|jar>
func ArchiveName(cfg *domain.PackConfig, entry version.Entry, t domain.PackType, modLoader bool) string {
	ext := "zip"
	if modLoader {
		ext = "jar"
	}
	name := strings.NewReplacer("/", "_", `\`, "_").Replace(cfg.PackName)
	if name == "" {
		name = "pack"
	}
	return fmt.Sprintf("%s-%s-%s-mc%s.%s", name, cfg.Version, t, entry.ID, ext)
}
