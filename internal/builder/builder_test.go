package builder

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/source"
	"github.com/xekr/packsmith/internal/version"
)

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	reg, err := version.Default()
	require.NoError(t, err)
	return New(reg, Options{MaxConcurrentFetches: 4})
}

func packConfig() *domain.PackConfig {
	return &domain.PackConfig{
		PackName:    "Better Crafting",
		Author:      "xekr, friend",
		Description: "Crafting tweaks",
		Version:     "2.1.0",
		BasePath:    "packs",
		MainModule:  "main",
	}
}

func unzip(t *testing.T, data []byte) map[string]string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	out := make(map[string]string, len(zr.File))
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		out[f.Name] = string(b)
	}
	return out
}

func TestBuild_DataPackTranslatesPathsAndRecipes(t *testing.T) {
	fsys := fstest.MapFS{
		"packs/main/data/ns/recipes/table.json": {Data: []byte(`{
			"type":   "minecraft:crafting_shaped",
			"key":    {"#": {"item": "minecraft:oak_planks"}},
			"result": {"item": "minecraft:crafting_table"}
		}`)},
		"packs/main/data/ns/functions/load.mcfunction": {Data: []byte("say hi")},
		"packs/main/module.config.json":                {Data: []byte(`{}`)},
		"packs/main/assets/ns/lang/en_us.json":         {Data: []byte(`{}`)},
	}

	res, err := newBuilder(t).Build(context.Background(), domain.BuildRequest{
		RepoRef: "local",
		Source:  source.NewFSSource(fsys),
		Config:  packConfig(),
		Version: "1.21",
		Type:    domain.PackTypeData,
	})
	require.NoError(t, err)

	files := unzip(t, res.Archive)
	assert.Contains(t, files, "data/ns/recipe/table.json")
	assert.Contains(t, files, "data/ns/function/load.mcfunction")
	assert.NotContains(t, files, "data/ns/recipes/table.json")
	assert.NotContains(t, files, "module.config.json")
	assert.NotContains(t, files, "assets/")
	assert.NotContains(t, files, "assets/ns/lang/en_us.json")

	var recipe map[string]any
	require.NoError(t, json.Unmarshal([]byte(files["data/ns/recipe/table.json"]), &recipe))
	assert.Equal(t, map[string]any{"#": map[string]any{"item": "minecraft:oak_planks"}}, recipe["key"])
	assert.Equal(t, map[string]any{"id": "minecraft:crafting_table", "count": 1.0}, recipe["result"])

	var meta map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(files["pack.mcmeta"]), &meta))
	assert.Equal(t, 48.0, meta["pack"]["pack_format"])
	assert.Equal(t, []any{
		map[string]any{"text": "§6§lCrafting tweaks v2.1.0\n"},
		map[string]any{"text": "§a§lby §6§lxekr, friend"},
	}, meta["pack"]["description"])

	assert.Equal(t, "Better Crafting-2.1.0-data-mc1.21.zip", res.FileName)
	assert.Equal(t, domain.PackTypeData, res.Type)
	assert.NotEmpty(t, res.ID)
}

func TestBuild_OverlayWeightsAndIcon(t *testing.T) {
	fsys := fstest.MapFS{
		"icon.png":                       {Data: []byte("icon")},
		"packs/main/pack.png":            {Data: []byte("base")},
		"packs/main/assets/ns/a.txt":     {Data: []byte("base-a")},
		"packs/heavy/pack.png":           {Data: []byte("heavy")},
		"packs/heavy/assets/ns/a.txt":    {Data: []byte("heavy-a")},
		"packs/light/assets/ns/a.txt":    {Data: []byte("light-a")},
		"packs/light/assets/ns/b.txt":    {Data: []byte("light-b")},
		"packs/light/module.config.json": {Data: []byte(`{"weight": 1}`)},
	}

	t.Run("overlay pack.png replaces base", func(t *testing.T) {
		res, err := newBuilder(t).Build(context.Background(), domain.BuildRequest{
			Source:  source.NewFSSource(fsys),
			Config:  packConfig(),
			Version: "1.21",
			Type:    domain.PackTypeResource,
			Modules: []domain.ModuleDescriptor{
				{Key: "heavy", Weight: 10},
				{Key: "light", Weight: 1},
			},
		})
		require.NoError(t, err)

		files := unzip(t, res.Archive)
		assert.Equal(t, "heavy", files["pack.png"])
		assert.Equal(t, "heavy-a", files["assets/ns/a.txt"])
		assert.Equal(t, "light-b", files["assets/ns/b.txt"])
	})

	t.Run("icon replaces base pack.png and overlays still win", func(t *testing.T) {
		cfg := packConfig()
		cfg.Icon = "icon.png"

		res, err := newBuilder(t).Build(context.Background(), domain.BuildRequest{
			Source:  source.NewFSSource(fsys),
			Config:  cfg,
			Version: "1.21",
			Type:    domain.PackTypeResource,
			Modules: []domain.ModuleDescriptor{{Key: "light", Weight: 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, "icon", unzip(t, res.Archive)["pack.png"])

		res, err = newBuilder(t).Build(context.Background(), domain.BuildRequest{
			Source:  source.NewFSSource(fsys),
			Config:  cfg,
			Version: "1.21",
			Type:    domain.PackTypeResource,
			Modules: []domain.ModuleDescriptor{{Key: "heavy", Weight: 10}},
		})
		require.NoError(t, err)
		assert.Equal(t, "heavy", unzip(t, res.Archive)["pack.png"])
	})
}

func TestBuild_OverridesApplyInOrder(t *testing.T) {
	fsys := fstest.MapFS{
		"packs/main/assets/ns/a.txt":  {Data: []byte("main")},
		"packs/extra/assets/ns/a.txt": {Data: []byte("extra")},
		"packs/v20/assets/ns/a.txt":   {Data: []byte("v20")},
		"packs/v21/assets/ns/a.txt":   {Data: []byte("v21")},
		"packs/x21/assets/ns/a.txt":   {Data: []byte("extra-v21")},
	}
	cfg := packConfig()
	cfg.VersionModules = map[string]domain.OverrideRule{
		"v20": {Version: "1.20"},
		"v21": {Version: "1.21"},
		"x21": {Version: "1.21", Target: "extra"},
	}

	build := func(t *testing.T, v string, modules ...domain.ModuleDescriptor) string {
		res, err := newBuilder(t).Build(context.Background(), domain.BuildRequest{
			Source:  source.NewFSSource(fsys),
			Config:  cfg,
			Version: v,
			Type:    domain.PackTypeResource,
			Modules: modules,
		})
		require.NoError(t, err)
		return unzip(t, res.Archive)["assets/ns/a.txt"]
	}

	assert.Equal(t, "v21", build(t, "1.21.4"))
	assert.Equal(t, "v20", build(t, "1.20.6"))
	assert.Equal(t, "main", build(t, "1.19"))
	assert.Equal(t, "extra-v21", build(t, "1.21", domain.ModuleDescriptor{Key: "extra", Weight: 1}))
	assert.Equal(t, "extra", build(t, "1.20", domain.ModuleDescriptor{Key: "extra", Weight: 1}))
}

func TestBuild_RangedPackMeta(t *testing.T) {
	fsys := fstest.MapFS{
		"packs/main/pack.mcmeta":    {Data: []byte(`{"pack": {"pack_format": 15, "supported_formats": [15, 20], "description": "keep me"}, "filter": {"block": []}}`)},
		"packs/main/data/ns/x.json": {Data: []byte(`{}`)},
	}

	res, err := newBuilder(t).Build(context.Background(), domain.BuildRequest{
		Source:  source.NewFSSource(fsys),
		Config:  packConfig(),
		Version: "1.21.9",
		Type:    domain.PackTypeData,
	})
	require.NoError(t, err)

	var meta map[string]map[string]any
	require.NoError(t, json.Unmarshal([]byte(unzip(t, res.Archive)["pack.mcmeta"]), &meta))
	assert.Equal(t, []any{88.0, 0.0}, meta["pack"]["min_format"])
	assert.Equal(t, []any{88.0, 0.0}, meta["pack"]["max_format"])
	assert.NotContains(t, meta["pack"], "pack_format")
	assert.NotContains(t, meta["pack"], "supported_formats")
	assert.Equal(t, "keep me", meta["pack"]["description"])
	assert.Contains(t, meta, "filter")
}

func TestBuild_ModLoaderFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"packs/main/data/ns/x.json": {Data: []byte(`{}`)},
	}

	res, err := newBuilder(t).Build(context.Background(), domain.BuildRequest{
		Source:    source.NewFSSource(fsys),
		Config:    packConfig(),
		Version:   "1.21",
		ModLoader: true,
	})
	require.NoError(t, err)

	files := unzip(t, res.Archive)
	assert.Contains(t, files, "META-INF/")
	assert.Contains(t, files, "META-INF/mods.toml")
	assert.Contains(t, files, "META-INF/neoforge.mods.toml")
	assert.Contains(t, files, "fabric.mod.json")
	assert.Contains(t, files, "quilt.mod.json")
	assert.Equal(t, "Better Crafting-2.1.0-all-mc1.21.jar", res.FileName)
}

func TestBuild_Deterministic(t *testing.T) {
	fsys := fstest.MapFS{
		"packs/main/data/ns/recipes/a.json": {Data: []byte(`{"ingredient": {"tag": "minecraft:logs"}, "result": {"item": "minecraft:stick", "count": 4}}`)},
		"packs/main/data/ns/recipes/b.json": {Data: []byte(`{"ingredient": "minecraft:stone", "result": {"id": "minecraft:cobblestone"}}`)},
		"packs/main/assets/ns/c.txt":        {Data: []byte("c")},
	}
	req := domain.BuildRequest{
		Source:  source.NewFSSource(fsys),
		Config:  packConfig(),
		Version: "1.21.4",
	}

	first, err := newBuilder(t).Build(context.Background(), req)
	require.NoError(t, err)
	second, err := newBuilder(t).Build(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Archive, second.Archive)
}

func TestBuild_Errors(t *testing.T) {
	fsys := fstest.MapFS{
		"packs/main/data/ns/x.json":           {Data: []byte(`{}`)},
		"packs/broken/data/ns/recipes/r.json": {Data: []byte(`not json`)},
	}
	b := newBuilder(t)
	ctx := context.Background()

	t.Run("unknown version", func(t *testing.T) {
		_, err := b.Build(ctx, domain.BuildRequest{Source: source.NewFSSource(fsys), Config: packConfig(), Version: "0.9"})
		assert.True(t, domain.IsUnknownVersion(err))
	})

	t.Run("missing base module", func(t *testing.T) {
		cfg := packConfig()
		cfg.MainModule = "absent"
		_, err := b.Build(ctx, domain.BuildRequest{Source: source.NewFSSource(fsys), Config: cfg, Version: "1.21"})
		assert.True(t, domain.IsMissingRequiredModule(err))
	})

	t.Run("missing config fields", func(t *testing.T) {
		cfg := packConfig()
		cfg.BasePath = ""
		_, err := b.Build(ctx, domain.BuildRequest{Source: source.NewFSSource(fsys), Config: cfg, Version: "1.21"})
		assert.True(t, domain.HasCode(err, domain.ErrInvalidConfig))
	})

	t.Run("missing overlay", func(t *testing.T) {
		_, err := b.Build(ctx, domain.BuildRequest{
			Source:  source.NewFSSource(fsys),
			Config:  packConfig(),
			Version: "1.21",
			Modules: []domain.ModuleDescriptor{{Key: "ghost", Weight: 1}},
		})
		assert.True(t, domain.IsNotFound(err))
	})

	t.Run("broken recipe", func(t *testing.T) {
		_, err := b.Build(ctx, domain.BuildRequest{
			Source:  source.NewFSSource(fsys),
			Config:  packConfig(),
			Version: "1.21",
			Modules: []domain.ModuleDescriptor{{Key: "broken", Weight: 1}},
		})
		assert.True(t, domain.HasCode(err, domain.ErrTranslateFailed))
	})

	t.Run("bad pack type", func(t *testing.T) {
		_, err := b.Build(ctx, domain.BuildRequest{Source: source.NewFSSource(fsys), Config: packConfig(), Version: "1.21", Type: "behavior"})
		assert.True(t, domain.IsValidationError(err))
	})
}

// shapelessSource answers every path with an empty listing
type shapelessSource struct{}

func (shapelessSource) Fetch(_ context.Context, p string) (*domain.Listing, error) {
	return &domain.Listing{Path: p}, nil
}

func TestBuild_UnexpectedContentShape(t *testing.T) {
	_, err := newBuilder(t).Build(context.Background(), domain.BuildRequest{
		Source:  shapelessSource{},
		Config:  packConfig(),
		Version: "1.21",
	})
	assert.True(t, domain.IsUnexpectedContentShape(err))
	assert.True(t, domain.IsMissingRequiredModule(err))
}

// countingSource fails one path and counts calls made after the failure
type countingSource struct {
	inner    domain.ContentSource
	failPath string
	calls    atomic.Int64
}

func (s *countingSource) Fetch(ctx context.Context, p string) (*domain.Listing, error) {
	s.calls.Add(1)
	if p == s.failPath {
		return nil, errors.New("boom")
	}
	return s.inner.Fetch(ctx, p)
}

func TestBuild_FirstErrorAbortsBuild(t *testing.T) {
	fsys := fstest.MapFS{}
	for i := 0; i < 50; i++ {
		fsys["packs/main/assets/ns/f"+string(rune('a'+i%26))+string(rune('a'+i/26))+".txt"] = &fstest.MapFile{Data: []byte("x")}
	}
	src := &countingSource{inner: source.NewFSSource(fsys), failPath: "packs/main/assets/ns"}

	_, err := newBuilder(t).Build(context.Background(), domain.BuildRequest{
		Source:  src,
		Config:  packConfig(),
		Version: "1.21",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Less(t, src.calls.Load(), int64(50))
}

func TestOrderOverlays(t *testing.T) {
	cfg := packConfig()
	got := orderOverlays(cfg, []domain.ModuleDescriptor{
		{Key: "c", Weight: 5},
		{Key: "main", Weight: 0},
		{Key: "b", Weight: 1},
		{Key: "a", Weight: 5},
		{Key: "b", Weight: 9},
	})

	require.Len(t, got, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{got[0].Key, got[1].Key, got[2].Key})
	assert.Equal(t, "packs/b", got[0].Path)
}

func TestArchiveName(t *testing.T) {
	cfg := &domain.PackConfig{PackName: "a/b", Version: "1.0"}
	entry := version.Entry{ID: "1.21"}
	assert.Equal(t, "a_b-1.0-resource-mc1.21.zip", ArchiveName(cfg, entry, domain.PackTypeResource, false))
	assert.Equal(t, "a_b-1.0-all-mc1.21.jar", ArchiveName(cfg, entry, domain.PackTypeAll, true))
}
