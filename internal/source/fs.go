package source

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"

	"github.com/xekr/packsmith/internal/domain"
)

// FSSource is a ContentSource over any fs.FS: a local directory, a zip archive
// or an in-memory tree
type FSSource struct {
	fsys fs.FS
}

// NewFSSource wraps fsys
func NewFSSource(fsys fs.FS) *FSSource {
	return &FSSource{fsys: fsys}
}

// NewDirSource reads modules from a directory on disk
func NewDirSource(dir string) (*FSSource, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source %s is not a directory", dir)
	}
	return NewFSSource(os.DirFS(dir)), nil
}

// NewArchiveSource opens zip data. With stripRoot, a single top-level folder
// (as in GitHub zipballs) is removed from every path.
func NewArchiveSource(data []byte, stripRoot bool) (*FSSource, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Archive is not a valid zip file", http.StatusBadRequest, err, nil)
	}
	if err != nil {
		return nil, domain.NewAppErrorWithCause(domain.ErrInvalidInput, "Archive contains paths outside its root", http.StatusBadRequest, err, nil)
	}

	var fsys fs.FS = zr
	if stripRoot {
		fsys, err = stripSingleRoot(zr)
		if err != nil {
			return nil, err
		}
	}
	return NewFSSource(fsys), nil
}

// OpenArchive reads a zip file from disk
func OpenArchive(file string, stripRoot bool) (*FSSource, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return NewArchiveSource(data, stripRoot)
}

func stripSingleRoot(fsys fs.FS) (fs.FS, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read archive root: %w", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return fsys, nil
	}
	return fs.Sub(fsys, entries[0].Name())
}

// Fetch implements domain.ContentSource
func (s *FSSource) Fetch(ctx context.Context, p string) (*domain.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name := domain.CleanPath(p)
	if name == "" {
		name = "."
	}
	if !fs.ValidPath(name) {
		return nil, domain.NewAppError(domain.ErrInvalidInput, "Invalid source path", http.StatusBadRequest, map[string]any{"path": p})
	}

	info, err := fs.Stat(s.fsys, name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.NewAppError(domain.ErrNotFound, "Source content not found", http.StatusNotFound, map[string]any{"path": p})
		}
		return nil, fmt.Errorf("failed to stat %s: %w", name, err)
	}

	if info.IsDir() {
		dirEntries, err := fs.ReadDir(s.fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", name, err)
		}
		listing := &domain.Listing{Path: name, IsDir: true, Entries: make([]domain.Entry, 0, len(dirEntries))}
		for _, e := range dirEntries {
			entryType := domain.EntryFile
			if e.IsDir() {
				entryType = domain.EntryDir
			}
			entryPath := e.Name()
			if name != "." {
				entryPath = path.Join(name, e.Name())
			}
			listing.Entries = append(listing.Entries, domain.Entry{Name: e.Name(), Path: entryPath, Type: entryType})
		}
		return listing, nil
	}

	if !info.Mode().IsRegular() && info.Mode()&fs.ModeSymlink == 0 {
		return nil, domain.UnexpectedContentShape(name)
	}

	content, err := fs.ReadFile(s.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return &domain.Listing{Path: name, File: &domain.File{Name: path.Base(name), Path: name, Content: content}}, nil
}
