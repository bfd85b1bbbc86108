package builder

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/filetree"
	"github.com/xekr/packsmith/internal/translate"
	"github.com/xekr/packsmith/internal/version"
)

// File names never copied from a module into the pack
var skippedNames = map[string]bool{
	"config.json":        true,
	"module.config.json": true,
}

// fetcher turns one module folder of a content source into a translated tree
type fetcher struct {
	source   domain.ContentSource
	basePath string
	entry    version.Entry
	exclude  string
	paths    *translate.PathTranslator
	recipes  *translate.RecipeTranslator
	sem      *semaphore.Weighted
}

// fetchModule fetches the folder at modulePath; the module itself must be a folder
func (f *fetcher) fetchModule(ctx context.Context, modulePath string) (*filetree.Tree, error) {
	n, err := f.fetch(ctx, modulePath)
	if err != nil {
		return nil, err
	}
	t, ok := n.(*filetree.Tree)
	if !ok {
		return nil, domain.UnexpectedContentShape(modulePath)
	}
	log.Debug().Str("module", modulePath).Int("entries", len(filetree.Leaves(t))).Msg("Module fetched")
	return t, nil
}

// fetchFile fetches a single file without translation
func (f *fetcher) fetchFile(ctx context.Context, p string) ([]byte, error) {
	listing, err := f.list(ctx, p)
	if err != nil {
		return nil, err
	}
	if !listing.IsFile() {
		return nil, domain.UnexpectedContentShape(p)
	}
	return listing.File.Content, nil
}

func (f *fetcher) list(ctx context.Context, p string) (*domain.Listing, error) {
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer f.sem.Release(1)

	listing, err := f.source.Fetch(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := listing.Validate(); err != nil {
		return nil, err
	}
	return listing, nil
}

func (f *fetcher) fetch(ctx context.Context, p string) (filetree.Node, error) {
	listing, err := f.list(ctx, p)
	if err != nil {
		return nil, err
	}

	target := f.paths.Translate(relativePath(f.basePath, p), f.entry)

	if listing.IsFile() {
		content := listing.File.Content
		if translate.IsRecipePath(target) {
			content, err = f.recipes.Translate(content, f.entry)
			if err != nil {
				return nil, fmt.Errorf("failed to translate %s: %w", p, err)
			}
		}
		return &filetree.Leaf{Path: target, Content: content}, nil
	}

	kept := make([]domain.Entry, 0, len(listing.Entries))
	for _, e := range listing.Entries {
		if !f.skip(e) {
			kept = append(kept, e)
		}
	}

	children := make([]filetree.Node, len(kept))
	g, gctx := errgroup.WithContext(ctx)
	for i, e := range kept {
		g.Go(func() error {
			n, err := f.fetch(gctx, e.Path)
			if err != nil {
				return err
			}
			children[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tree := &filetree.Tree{Path: target}
	tree.Children, err = collapse(children)
	if err != nil {
		return nil, err
	}
	tree.SortChildren()
	return tree, nil
}

// skip drops config files and entries outside the requested pack type
func (f *fetcher) skip(e domain.Entry) bool {
	name := e.Name
	if name == "" {
		name = path.Base(e.Path)
	}
	if skippedNames[name] {
		return true
	}
	if f.exclude == "" {
		return false
	}
	rel := relativePath(f.basePath, e.Path)
	return rel == f.exclude || strings.HasPrefix(rel, f.exclude+"/")
}

// collapse folds children that translated onto the same path, later ones winning
func collapse(children []filetree.Node) ([]filetree.Node, error) {
	out := make([]filetree.Node, 0, len(children))
	index := make(map[string]int, len(children))
	for _, c := range children {
		i, dup := index[c.NodePath()]
		if !dup {
			index[c.NodePath()] = len(out)
			out = append(out, c)
			continue
		}
		switch existing := out[i].(type) {
		case *filetree.Tree:
			merged, err := filetree.Merge(existing, c)
			if err != nil {
				return nil, err
			}
			out[i] = merged
		case *filetree.Leaf:
			if _, ok := c.(*filetree.Leaf); !ok {
				return nil, domain.MergeTypeMismatch(c.NodePath())
			}
			out[i] = c
		}
	}
	return out, nil
}

// relativePath strips the base path and the module folder from a source path:
// "packs/main/data/x" with base "packs" becomes "data/x". Paths outside the
// base path are returned cleaned but otherwise unchanged.
func relativePath(basePath, p string) string {
	p = domain.CleanPath(p)
	rest := p
	if basePath != "" {
		if p != basePath && !strings.HasPrefix(p, basePath+"/") {
			return p
		}
		rest = strings.TrimPrefix(strings.TrimPrefix(p, basePath), "/")
	}
	_, after, found := strings.Cut(rest, "/")
	if !found {
		return ""
	}
	return after
}
