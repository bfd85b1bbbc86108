package builder

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/filetree"
)

const (
	defaultLicense  = "All Rights Reserved"
	defaultModGroup = "dev.xekr"
	logoFile        = "pack.png"
)

var nonModIDChars = regexp.MustCompile(`[^a-z0-9]`)

// ModID derives a loader-safe mod id from a pack name
func ModID(name string) string {
	return nonModIDChars.ReplaceAllString(strings.ToLower(name), "_")
}

// Authors splits a comma separated author string
func Authors(author string) []string {
	var out []string
	for _, a := range strings.Split(author, ",") {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

type forgeDescriptor struct {
	ModLoader     string     `toml:"modLoader"`
	LoaderVersion string     `toml:"loaderVersion"`
	License       string     `toml:"license"`
	Mods          []forgeMod `toml:"mods"`
}

type forgeMod struct {
	ModID       string `toml:"modId"`
	Version     string `toml:"version"`
	DisplayName string `toml:"displayName"`
	Description string `toml:"description"`
	LogoFile    string `toml:"logoFile"`
	Authors     string `toml:"authors"`
}

type fabricDescriptor struct {
	SchemaVersion int               `json:"schemaVersion"`
	ID            string            `json:"id"`
	Version       string            `json:"version"`
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	Authors       []string          `json:"authors"`
	Contact       map[string]string `json:"contact"`
	Icon          string            `json:"icon"`
	License       string            `json:"license"`
	Environment   string            `json:"environment"`
	Depends       map[string]string `json:"depends"`
}

type quiltDescriptor struct {
	SchemaVersion int         `json:"schema_version"`
	QuiltLoader   quiltLoader `json:"quilt_loader"`
}

type quiltLoader struct {
	Group                string            `json:"group"`
	ID                   string            `json:"id"`
	Version              string            `json:"version"`
	Metadata             quiltMetadata     `json:"metadata"`
	IntermediateMappings string            `json:"intermediate_mappings"`
	Depends              []quiltDependency `json:"depends"`
}

type quiltMetadata struct {
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	Contributors map[string]string `json:"contributors"`
	Contact      map[string]string `json:"contact"`
	License      string            `json:"license"`
	Icon         string            `json:"icon"`
}

type quiltDependency struct {
	ID       string `json:"id"`
	Versions string `json:"versions"`
	Unless   string `json:"unless"`
}

// ModDescriptors renders the Forge, NeoForge, Fabric and Quilt descriptor files
func ModDescriptors(cfg *domain.PackConfig) ([]*filetree.Leaf, error) {
	id := ModID(cfg.PackName)
	license := cfg.License
	if license == "" {
		license = defaultLicense
	}
	group := cfg.ModGroup
	if group == "" {
		group = defaultModGroup
	}
	authors := Authors(cfg.Author)

	mod := forgeMod{
		ModID:       id,
		Version:     cfg.Version,
		DisplayName: cfg.PackName,
		Description: cfg.Description,
		LogoFile:    logoFile,
		Authors:     cfg.Author,
	}

	forge, err := toml.Marshal(forgeDescriptor{
		ModLoader:     "lowcodefml",
		LoaderVersion: "[25,)",
		License:       license,
		Mods:          []forgeMod{mod},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render mods.toml: %w", err)
	}

	neoforge, err := toml.Marshal(forgeDescriptor{
		ModLoader:     "javafml",
		LoaderVersion: "[1,)",
		License:       license,
		Mods:          []forgeMod{mod},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render neoforge.mods.toml: %w", err)
	}

	fabric, err := encode(fabricDescriptor{
		SchemaVersion: 1,
		ID:            id,
		Version:       cfg.Version,
		Name:          cfg.PackName,
		Description:   cfg.Description,
		Authors:       nonNil(authors),
		Contact:       map[string]string{},
		Icon:          logoFile,
		License:       license,
		Environment:   "*",
		Depends:       map[string]string{"fabric-resource-loader-v0": "*"},
	}, "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to render fabric.mod.json: %w", err)
	}

	contributors := make(map[string]string, len(authors))
	for _, a := range authors {
		contributors[a] = ""
	}
	quilt, err := encode(quiltDescriptor{
		SchemaVersion: 1,
		QuiltLoader: quiltLoader{
			Group:   group,
			ID:      id,
			Version: cfg.Version,
			Metadata: quiltMetadata{
				Name:         cfg.PackName,
				Description:  cfg.Description,
				Contributors: contributors,
				Contact:      map[string]string{},
				License:      license,
				Icon:         logoFile,
			},
			IntermediateMappings: "net.fabricmc:intermediary",
			Depends: []quiltDependency{
				{ID: "quilt_resource_loader", Versions: "*", Unless: "fabric-resource-loader-v0"},
			},
		},
	}, "    ")
	if err != nil {
		return nil, fmt.Errorf("failed to render quilt.mod.json: %w", err)
	}

	return []*filetree.Leaf{
		{Path: "META-INF/mods.toml", Content: forge},
		{Path: "META-INF/neoforge.mods.toml", Content: neoforge},
		{Path: "fabric.mod.json", Content: fabric},
		{Path: "quilt.mod.json", Content: quilt},
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
