package domain

import "context"

// EntryType distinguishes listing entries
type EntryType string

const (
	EntryFile EntryType = "file"
	EntryDir  EntryType = "dir"
)

// Entry is one child of a directory listing
type Entry struct {
	Name string    `json:"name"`
	Path string    `json:"path"`
	Type EntryType `json:"type"`
}

// File is decoded file content returned by a ContentSource
type File struct {
	Name    string
	Path    string
	Content []byte
}

// Listing is the answer to a ContentSource fetch: either Entries (a directory) or File
type Listing struct {
	Path    string
	Entries []Entry
	File    *File
	IsDir   bool
}

// IsFile reports whether the listing carries file content
func (l *Listing) IsFile() bool {
	return l != nil && l.File != nil && !l.IsDir
}

// Validate rejects listings that are neither a directory nor a file
func (l *Listing) Validate() error {
	if l == nil {
		return UnexpectedContentShape("")
	}
	if l.IsDir == (l.File != nil) {
		return UnexpectedContentShape(l.Path)
	}
	return nil
}

// ContentSource resolves repository paths to directory listings or file content
type ContentSource interface {
	Fetch(ctx context.Context, path string) (*Listing, error)
}

// HealthChecker defines the interface for system health monitoring
type HealthChecker interface {
	CheckHealth(ctx context.Context) SystemHealth
	CheckComponent(ctx context.Context, component string) HealthStatus
}

// ComponentChecker is implemented by anything that can report its own health
type ComponentChecker interface {
	HealthCheck(ctx context.Context) HealthStatus
}
