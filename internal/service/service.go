// Package service runs whole pack builds: it loads the project configuration
// from a repository, upload or directory, selects modules for the target
// version, runs the builder and optionally keeps the archive.
package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/xekr/packsmith/internal/builder"
	"github.com/xekr/packsmith/internal/cache"
	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/project"
	"github.com/xekr/packsmith/internal/source"
	"github.com/xekr/packsmith/internal/storage"
	"github.com/xekr/packsmith/internal/version"
)

// UploadRepoRef names builds made from uploaded archives
const UploadRepoRef = "upload"

// BuildOptions are the caller's choices for one build
type BuildOptions struct {
	Modules   []string `json:"modules,omitempty"`
	Sets      []string `json:"sets,omitempty"`
	Version   string   `json:"version,omitempty"`
	Type      string   `json:"type,omitempty"`
	ModLoader bool     `json:"mod_loader,omitempty"`
}

// Service wires the registry, loader and builder together.
// The GitHub client, project cache and artifact store are optional.
type Service struct {
	registry *version.Registry
	builder  *builder.Builder
	loader   *project.Loader
	client   *source.Client
	projects *cache.LRU[*project.Project]
	store    *storage.Store
}

// Dependencies groups what a Service is built from
type Dependencies struct {
	Builder  *builder.Builder
	Loader   *project.Loader
	Client   *source.Client
	Projects *cache.LRU[*project.Project]
	Store    *storage.Store
}

// New creates a Service
func New(deps Dependencies) *Service {
	loader := deps.Loader
	if loader == nil {
		loader = project.NewLoader(0)
	}
	return &Service{
		registry: deps.Builder.Registry(),
		builder:  deps.Builder,
		loader:   loader,
		client:   deps.Client,
		projects: deps.Projects,
		store:    deps.Store,
	}
}

// Registry returns the version registry
func (s *Service) Registry() *version.Registry {
	return s.registry
}

// Versions lists known versions, oldest first
func (s *Service) Versions() []version.Entry {
	return s.registry.Entries()
}

// Project loads the project of a GitHub repository, using the cache when configured
func (s *Service) Project(ctx context.Context, repo, ref string) (*project.Project, error) {
	if err := domain.ValidateRepoRef(repo); err != nil {
		return nil, err
	}
	if s.client == nil {
		return nil, domain.NewAppError(domain.ErrRepoUnavailable, "Repository access is not configured", http.StatusServiceUnavailable, nil)
	}

	key := cacheKey(repo, ref)
	if s.projects != nil {
		if p, ok := s.projects.Get(key); ok {
			return p, nil
		}
	}

	p, err := s.loader.Load(ctx, source.NewRepoSource(s.client, repo, ref), repo)
	if err != nil {
		return nil, err
	}

	if s.projects != nil {
		s.projects.Set(key, p)
	}
	return p, nil
}

// InvalidateProject drops a cached project
func (s *Service) InvalidateProject(repo, ref string) {
	if s.projects != nil {
		s.projects.Invalidate(cacheKey(repo, ref))
	}
}

// BuildRepo builds from a GitHub repository. Projects in file mode are built
// from the repository zipball instead of per-file API calls.
func (s *Service) BuildRepo(ctx context.Context, repo, ref string, opts BuildOptions) (*builder.Result, error) {
	p, err := s.Project(ctx, repo, ref)
	if err != nil {
		return nil, err
	}

	repoSource := source.NewRepoSource(s.client, repo, ref)
	var src domain.ContentSource = repoSource
	if p.Config.FileMode {
		log.Debug().Str("repo", repo).Msg("Project uses file mode, downloading zipball")
		archive, err := repoSource.Archive(ctx)
		if err != nil {
			return nil, err
		}
		src = archive
	}

	return s.build(ctx, p, src, opts)
}

// BuildArchive builds from an uploaded repository zip. A single top-level
// folder, as in GitHub zipballs, is stripped.
func (s *Service) BuildArchive(ctx context.Context, data []byte, opts BuildOptions) (*builder.Result, error) {
	src, err := source.NewArchiveSource(data, true)
	if err != nil {
		return nil, err
	}
	return s.BuildSource(ctx, src, UploadRepoRef, opts)
}

// BuildSource loads the project from any content source and builds it
func (s *Service) BuildSource(ctx context.Context, src domain.ContentSource, repoRef string, opts BuildOptions) (*builder.Result, error) {
	p, err := s.loader.Load(ctx, src, repoRef)
	if err != nil {
		return nil, err
	}
	return s.build(ctx, p, src, opts)
}

func (s *Service) build(ctx context.Context, p *project.Project, src domain.ContentSource, opts BuildOptions) (*builder.Result, error) {
	target := opts.Version
	if target == "" {
		target = p.Config.SuggestedVersion
	}
	if target == "" {
		return nil, domain.NewAppError(domain.ErrValidationFailed, "Target version is required", http.StatusUnprocessableEntity, map[string]any{"field": "version"})
	}

	modules, err := p.Select(s.registry, target, project.Selection{Modules: opts.Modules, Sets: opts.Sets})
	if err != nil {
		return nil, err
	}

	result, err := s.builder.Build(ctx, domain.BuildRequest{
		RepoRef:   p.Repo,
		Source:    src,
		Config:    p.Config,
		Modules:   modules,
		Version:   target,
		Type:      domain.PackType(opts.Type),
		ModLoader: opts.ModLoader,
	})
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		if _, err := s.store.Save(ctx, storage.Artifact{
			ID:       result.ID,
			FileName: result.FileName,
			Repo:     p.Repo,
			Version:  result.Version.ID,
			Type:     result.Type,
		}, result.Archive); err != nil {
			// the archive is still returned to the caller
			log.Error().Err(err).Str("build_id", result.ID).Msg("Failed to store build")
		}
	}

	return result, nil
}

// Artifacts lists stored builds, newest first
func (s *Service) Artifacts(ctx context.Context) ([]storage.Artifact, error) {
	if s.store == nil {
		return nil, storageDisabled()
	}
	return s.store.List(ctx), nil
}

// Artifact returns a stored build and its archive
func (s *Service) Artifact(ctx context.Context, id string) (storage.Artifact, []byte, error) {
	if s.store == nil {
		return storage.Artifact{}, nil, storageDisabled()
	}
	return s.store.Open(ctx, id)
}

func storageDisabled() error {
	return domain.NewAppError(domain.ErrNotFound, "Build storage is disabled", http.StatusNotFound, nil)
}

func cacheKey(repo, ref string) string {
	return strings.ToLower(repo) + "@" + ref
}
