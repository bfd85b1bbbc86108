package domain

import (
	"slices"
	"strings"
)

// PackType selects which namespaces end up in the archive
type PackType string

const (
	PackTypeAll      PackType = "all"
	PackTypeResource PackType = "resource"
	PackTypeData     PackType = "data"
)

// Namespace roots inside a pack
const (
	DataNamespace     = "data"
	ResourceNamespace = "assets"
)

// ParsePackType maps a user supplied string to a PackType, defaulting to all
func ParsePackType(s string) (PackType, bool) {
	switch PackType(strings.ToLower(strings.TrimSpace(s))) {
	case "", PackTypeAll:
		return PackTypeAll, true
	case PackTypeResource:
		return PackTypeResource, true
	case PackTypeData:
		return PackTypeData, true
	}
	return "", false
}

// Excludes reports the namespace root this pack type drops, or "" when nothing is dropped
func (t PackType) Excludes() string {
	switch t {
	case PackTypeData:
		return ResourceNamespace
	case PackTypeResource:
		return DataNamespace
	}
	return ""
}

// PackConfig is the config.json stored at the root of a pack repository
type PackConfig struct {
	PackName         string                  `json:"pack_name"`
	Author           string                  `json:"author"`
	Description      string                  `json:"description"`
	Version          string                  `json:"version"`
	BasePath         string                  `json:"base_path" validate:"required"`
	SetsPath         string                  `json:"sets_path,omitempty"`
	Icon             string                  `json:"icon,omitempty"`
	License          string                  `json:"license,omitempty"`
	MainModule       string                  `json:"main_module" validate:"required"`
	Type             PackType                `json:"type,omitempty" validate:"omitempty,oneof=all resource data"`
	SuggestedVersion string                  `json:"suggested_version,omitempty"`
	VersionModules   map[string]OverrideRule `json:"version_modules,omitempty" validate:"dive"`
	VersionReverse   bool                    `json:"version_reverse,omitempty"`
	FileMode         bool                    `json:"file_mode,omitempty"`
	ModGroup         string                  `json:"mod_group,omitempty"`
}

// NormalizedBasePath strips "./" prefixes and trailing slashes; "." becomes ""
func (c *PackConfig) NormalizedBasePath() string {
	return CleanPath(c.BasePath)
}

// ModulePath returns the source path of the module folder named key
func (c *PackConfig) ModulePath(key string) string {
	base := c.NormalizedBasePath()
	if base == "" {
		return key
	}
	return base + "/" + key
}

// OverrideKeys returns the version module keys in lexicographic order
func (c *PackConfig) OverrideKeys() []string {
	keys := make([]string, 0, len(c.VersionModules))
	for k := range c.VersionModules {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// OverrideRule declares a module that replaces parts of a target at and above a version
type OverrideRule struct {
	Key     string `json:"-"`
	Version string `json:"version" validate:"required"`
	Strict  bool   `json:"strict,omitempty"`
	Target  string `json:"target,omitempty"`
}

// ModuleDescriptor identifies one module folder taking part in a build
type ModuleDescriptor struct {
	Key    string `json:"key"`
	Path   string `json:"path"`
	Weight int    `json:"weight"`
}

// ModuleConfig is the module.config.json stored in each overlay folder
type ModuleConfig struct {
	ModuleName     string   `json:"module_name"`
	Description    string   `json:"description,omitempty"`
	SupportVersion string   `json:"support_version,omitempty"`
	Weight         int      `json:"weight,omitempty"`
	Breaks         []string `json:"breaks,omitempty"`
}

// SetConfig groups modules under one selectable name
type SetConfig struct {
	SetName     string   `json:"set_name"`
	Description string   `json:"description,omitempty"`
	Modules     []string `json:"modules"`
}

// BuildRequest describes one archive to produce
type BuildRequest struct {
	RepoRef   string
	Source    ContentSource
	Config    *PackConfig
	Modules   []ModuleDescriptor
	Version   string
	Type      PackType
	ModLoader bool
}

// CleanPath normalizes a slash separated source path
func CleanPath(p string) string {
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	p = strings.Trim(p, "/")
	if p == "." {
		return ""
	}
	return p
}
