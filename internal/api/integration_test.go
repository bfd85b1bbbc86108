package api

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xekr/packsmith/internal/builder"
	"github.com/xekr/packsmith/internal/cache"
	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/health"
	"github.com/xekr/packsmith/internal/project"
	"github.com/xekr/packsmith/internal/service"
	"github.com/xekr/packsmith/internal/source"
	"github.com/xekr/packsmith/internal/source/sourcetest"
	"github.com/xekr/packsmith/internal/storage"
	"github.com/xekr/packsmith/internal/version"
)

func integrationRepo() fstest.MapFS {
	return fstest.MapFS{
		"config.json": {Data: []byte(`{
			"pack_name": "Stonecutter+", "author": "xekr", "description": "More cuts", "version": "2.1",
			"base_path": "./modules/", "main_module": "core", "suggested_version": "1.21"
		}`)},
		"modules/core/pack.mcmeta":                      {Data: []byte(`{"pack": {"pack_format": 1, "description": "core"}}`)},
		"modules/core/data/cut/recipes/stone_slab.json": {Data: []byte(`{"type": "minecraft:stonecutting", "ingredient": {"item": "minecraft:stone"}, "result": {"item": "minecraft:stone_slab", "count": 2}}`)},
		"modules/core/assets/cut/lang/en_us.json":       {Data: []byte(`{"k": "core"}`)},
		"modules/wood/module.config.json":               {Data: []byte(`{"module_name": "Wood", "support_version": "[1.20,)"}`)},
		"modules/wood/data/cut/recipes/oak_slab.json":   {Data: []byte(`{"type": "minecraft:stonecutting", "ingredient": {"item": "minecraft:oak_planks"}, "result": {"item": "minecraft:oak_slab", "count": 2}}`)},
		"modules/ancient/module.config.json":            {Data: []byte(`{"module_name": "Ancient", "support_version": "<1.20"}`)},
		"modules/ancient/assets/cut/lang/en_us.json":    {Data: []byte(`{"k": "ancient"}`)},
	}
}

func setupIntegrationApp(t *testing.T) (*fiber.App, *sourcetest.GitHub) {
	t.Helper()
	gh := sourcetest.NewGitHub(t, "xekr/stonecutter", integrationRepo())

	reg, err := version.Default()
	require.NoError(t, err)

	client := source.NewClient(source.ClientConfig{APIURL: gh.URL, Timeout: 5 * time.Second})
	projects := cache.NewLRU[*project.Project](16, time.Minute)
	store := storage.NewStore(t.TempDir(), 10)
	require.NoError(t, store.Load(t.Context()))

	svc := service.New(service.Dependencies{
		Builder:  builder.New(reg, builder.Options{MaxConcurrentFetches: 4}),
		Client:   client,
		Projects: projects,
		Store:    store,
	})
	checker := health.NewSystemHealthChecker(map[string]domain.ComponentChecker{
		"github": client,
		"cache":  projects,
		"store":  store,
	})

	result := SetupRouter(RouterDependencies{Service: svc, HealthChecker: checker}, RouterConfig{
		BodyLimit:    8 << 20,
		BuildTimeout: time.Minute,
	})
	t.Cleanup(result.Cleanup)
	return result.App, gh
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	files := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		files[f.Name] = content
	}
	return files
}

func TestIntegration_BuildFromRepository(t *testing.T) {
	app, _ := setupIntegrationApp(t)

	req := httptest.NewRequest("POST", "/v1/builds", strings.NewReader(`{"repo": "xekr/stonecutter", "modules": ["wood", "ancient"], "version": "1.21"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 10000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="Stonecutter+-2.1-all-mc1.21.zip"`, resp.Header.Get("Content-Disposition"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	files := readZip(t, data)

	// 1.21 uses singular recipe folders and id based results
	require.Contains(t, files, "data/cut/recipe/oak_slab.json")
	require.Contains(t, files, "data/cut/recipe/stone_slab.json")
	assert.NotContains(t, files, "data/cut/recipes/oak_slab.json")

	var recipe map[string]any
	require.NoError(t, json.Unmarshal(files["data/cut/recipe/oak_slab.json"], &recipe))
	assert.Equal(t, map[string]any{"id": "minecraft:oak_slab", "count": float64(2)}, recipe["result"])

	// ancient does not support 1.21
	assert.JSONEq(t, `{"k": "core"}`, string(files["assets/cut/lang/en_us.json"]))

	var meta map[string]map[string]any
	require.NoError(t, json.Unmarshal(files["pack.mcmeta"], &meta))
	assert.Equal(t, float64(34), meta["pack"]["pack_format"])
	assert.Equal(t, "core", meta["pack"]["description"])

	buildID := resp.Header.Get("X-Build-ID")
	require.NotEmpty(t, buildID)

	t.Run("stored build is listed and downloadable", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/v1/builds", nil), 5000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body struct {
			Data BuildListResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, 1, body.Data.Count)
		assert.Equal(t, buildID, body.Data.Builds[0].ID)
		assert.Equal(t, "xekr/stonecutter", body.Data.Builds[0].Repo)

		resp, err = app.Test(httptest.NewRequest("GET", "/v1/builds/"+buildID, nil), 5000)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		stored, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, data, stored)
	})
}

func TestIntegration_LegacyVersionAndType(t *testing.T) {
	app, _ := setupIntegrationApp(t)

	req := httptest.NewRequest("POST", "/v1/builds", strings.NewReader(`{"repo": "xekr/stonecutter", "modules": ["wood", "ancient"], "version": "1.19.2", "type": "resource"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, 10000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	files := readZip(t, data)

	assert.JSONEq(t, `{"k": "ancient"}`, string(files["assets/cut/lang/en_us.json"]))
	for name := range files {
		assert.False(t, strings.HasPrefix(name, "data/"), name)
	}
}

func TestIntegration_ProjectAndVersions(t *testing.T) {
	app, gh := setupIntegrationApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/v1/projects/xekr/stonecutter?version=1.21", nil), 5000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			Available []string                       `json:"available"`
			Modules   map[string]domain.ModuleConfig `json:"modules"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, []string{"wood"}, body.Data.Available)
	assert.Len(t, body.Data.Modules, 2)

	calls := gh.ContentCalls()
	resp, err = app.Test(httptest.NewRequest("GET", "/v1/projects/xekr/stonecutter", nil), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, calls, gh.ContentCalls())

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/projects/xekr/unknown", nil), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/v1/versions", nil), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIntegration_Upload(t *testing.T) {
	app, _ := setupIntegrationApp(t)

	archive, err := sourcetest.Zip(integrationRepo(), "stonecutter-main/")
	require.NoError(t, err)

	req := uploadRequest(t, map[string][]string{"modules": {"wood"}, "version": {"1.20.4"}, "type": {"data"}}, archive)
	resp, err := app.Test(req, 10000)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	files := readZip(t, data)

	require.Contains(t, files, "data/cut/recipes/oak_slab.json")
	var recipe map[string]any
	require.NoError(t, json.Unmarshal(files["data/cut/recipes/oak_slab.json"], &recipe))
	assert.Equal(t, map[string]any{"item": "minecraft:oak_slab", "count": float64(2)}, recipe["result"])
	assert.Equal(t, map[string]any{"item": "minecraft:oak_planks"}, recipe["ingredient"])
	assert.NotContains(t, files, "assets/cut/lang/en_us.json")
}

func TestIntegration_Health(t *testing.T) {
	app, _ := setupIntegrationApp(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/health", nil), 5000)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, domain.HealthStatusHealthy, body["status"])
	assert.Len(t, body["components"], 3)
}
