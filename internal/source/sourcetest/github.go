// Package sourcetest serves a file system through a fake GitHub contents API
// for tests of code that reads repositories.
package sourcetest

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"path"
	"strings"
	"sync/atomic"
	"testing"
)

// GitHub is a fake GitHub API serving one repository
type GitHub struct {
	*httptest.Server
	Repo string
	FS   fs.FS

	contentCalls atomic.Int64
	zipballCalls atomic.Int64
}

type contentItem struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Content  string `json:"content,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

// NewGitHub starts a fake API for repo ("owner/name") backed by fsys. The
// server is closed when the test finishes.
func NewGitHub(t testing.TB, repo string, fsys fs.FS) *GitHub {
	t.Helper()
	g := &GitHub{Repo: repo, FS: fsys}
	g.Server = httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(g.Server.Close)
	return g
}

// ContentCalls counts contents API requests served
func (g *GitHub) ContentCalls() int64 { return g.contentCalls.Load() }

// ZipballCalls counts zipball downloads served
func (g *GitHub) ZipballCalls() int64 { return g.zipballCalls.Load() }

func (g *GitHub) serve(w http.ResponseWriter, r *http.Request) {
	prefix := "/repos/" + g.Repo
	switch {
	case r.URL.Path == "/":
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	case strings.HasPrefix(r.URL.Path, prefix+"/contents"):
		g.contentCalls.Add(1)
		g.serveContents(w, strings.Trim(strings.TrimPrefix(r.URL.Path, prefix+"/contents"), "/"))
	case strings.HasPrefix(r.URL.Path, prefix+"/zipball"):
		g.zipballCalls.Add(1)
		g.serveZipball(w)
	default:
		http.NotFound(w, r)
	}
}

func (g *GitHub) serveContents(w http.ResponseWriter, p string) {
	name := p
	if name == "" {
		name = "."
	}

	info, err := fs.Stat(g.FS, name)
	if errors.Is(err, fs.ErrNotExist) {
		http.Error(w, `{"message": "Not Found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if info.IsDir() {
		entries, err := fs.ReadDir(g.FS, name)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		items := make([]contentItem, 0, len(entries))
		for _, e := range entries {
			kind := "file"
			if e.IsDir() {
				kind = "dir"
			}
			items = append(items, contentItem{Type: kind, Name: e.Name(), Path: path.Join(p, e.Name())})
		}
		_ = json.NewEncoder(w).Encode(items)
		return
	}

	data, err := fs.ReadFile(g.FS, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_ = json.NewEncoder(w).Encode(contentItem{
		Type:     "file",
		Name:     path.Base(p),
		Path:     p,
		Content:  base64.StdEncoding.EncodeToString(data),
		Encoding: "base64",
	})
}

func (g *GitHub) serveZipball(w http.ResponseWriter) {
	data, err := Zip(g.FS, strings.ReplaceAll(g.Repo, "/", "-")+"-abc123/")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	_, _ = w.Write(data)
}

// Zip archives fsys with every entry placed under root ("" for none)
func Zip(fsys fs.FS, root string) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	if root != "" {
		if _, err := zw.Create(root); err != nil {
			return nil, err
		}
	}
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == "." {
			return err
		}
		if d.IsDir() {
			_, err := zw.Create(root + p + "/")
			return err
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		fw, err := zw.Create(root + p)
		if err != nil {
			return err
		}
		_, err = fw.Write(data)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
