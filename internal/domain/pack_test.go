package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopSource struct{}

func (nopSource) Fetch(context.Context, string) (*Listing, error) { return nil, nil }

func TestParsePackType(t *testing.T) {
	tests := []struct {
		in   string
		want PackType
		ok   bool
	}{
		{"", PackTypeAll, true},
		{"all", PackTypeAll, true},
		{"Data", PackTypeData, true},
		{" resource ", PackTypeResource, true},
		{"behavior", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePackType(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPackType_Excludes(t *testing.T) {
	assert.Equal(t, "assets", PackTypeData.Excludes())
	assert.Equal(t, "data", PackTypeResource.Excludes())
	assert.Equal(t, "", PackTypeAll.Excludes())
}

func TestPackConfig_ModulePath(t *testing.T) {
	cfg := &PackConfig{BasePath: "./packs/"}
	assert.Equal(t, "packs", cfg.NormalizedBasePath())
	assert.Equal(t, "packs/main", cfg.ModulePath("main"))

	cfg.BasePath = "."
	assert.Equal(t, "main", cfg.ModulePath("main"))
}

func TestPackConfig_OverrideKeysSorted(t *testing.T) {
	cfg := &PackConfig{VersionModules: map[string]OverrideRule{
		"v21": {Version: "1.21"},
		"v20": {Version: "1.20"},
		"a":   {Version: "1.19"},
	}}
	assert.Equal(t, []string{"a", "v20", "v21"}, cfg.OverrideKeys())
}

func TestPackValidator_ValidateConfig(t *testing.T) {
	v := NewPackValidator()

	t.Run("missing main module", func(t *testing.T) {
		err := v.ValidateConfig(&PackConfig{BasePath: "packs"})
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrInvalidConfig))
	})

	t.Run("missing base path", func(t *testing.T) {
		err := v.ValidateConfig(&PackConfig{MainModule: "main"})
		require.Error(t, err)
		assert.True(t, HasCode(err, ErrInvalidConfig))
	})

	t.Run("bad type", func(t *testing.T) {
		err := v.ValidateConfig(&PackConfig{MainModule: "main", BasePath: "packs", Type: "behavior"})
		require.Error(t, err)
	})

	t.Run("override without version", func(t *testing.T) {
		err := v.ValidateConfig(&PackConfig{
			MainModule:     "main",
			BasePath:       "packs",
			VersionModules: map[string]OverrideRule{"v21": {}},
		})
		require.Error(t, err)
	})

	t.Run("valid", func(t *testing.T) {
		err := v.ValidateConfig(&PackConfig{MainModule: "main", BasePath: "packs", Type: PackTypeData})
		assert.NoError(t, err)
	})
}

func TestPackValidator_ValidateRequest(t *testing.T) {
	v := NewPackValidator()
	cfg := &PackConfig{MainModule: "main", BasePath: "packs"}

	err := v.ValidateRequest(&BuildRequest{Config: cfg, Version: "1.21"})
	require.Error(t, err)
	assert.True(t, HasCode(err, ErrInvalidInput))

	err = v.ValidateRequest(&BuildRequest{Source: nopSource{}, Config: cfg})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	err = v.ValidateRequest(&BuildRequest{
		Source:  nopSource{},
		Config:  cfg,
		Version: "1.21",
		Modules: []ModuleDescriptor{{Key: "../escape"}},
	})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	err = v.ValidateRequest(&BuildRequest{
		Source:  nopSource{},
		Config:  cfg,
		Version: "1.21",
		Type:    PackTypeResource,
		Modules: []ModuleDescriptor{{Key: "extra", Weight: 2}},
	})
	assert.NoError(t, err)
}

func TestValidateRepoRef(t *testing.T) {
	assert.NoError(t, ValidateRepoRef("xekr/extra-packs"))
	assert.Error(t, ValidateRepoRef("xekr"))
	assert.Error(t, ValidateRepoRef("xekr/packs/more"))
}

func TestListing_Validate(t *testing.T) {
	assert.NoError(t, (&Listing{IsDir: true}).Validate())
	assert.NoError(t, (&Listing{File: &File{Path: "a"}}).Validate())

	err := (&Listing{Path: "x"}).Validate()
	assert.True(t, IsUnexpectedContentShape(err))

	err = (&Listing{Path: "x", IsDir: true, File: &File{}}).Validate()
	assert.True(t, IsUnexpectedContentShape(err))
}

func TestHasCode_ThroughWrapping(t *testing.T) {
	inner := UnknownVersion("1.99")
	outer := NewAppErrorWithCause(ErrMissingRequiredModule, "base failed", 422, fmt.Errorf("fetch: %w", inner), nil)
	wrapped := fmt.Errorf("build: %w", outer)

	assert.True(t, IsMissingRequiredModule(wrapped))
	assert.True(t, IsUnknownVersion(wrapped))
	assert.False(t, IsMergeTypeMismatch(wrapped))
	assert.False(t, HasCode(errors.New("plain"), ErrInternal))

	appErr, ok := AsAppError(wrapped)
	require.True(t, ok)
	assert.Equal(t, ErrMissingRequiredModule, appErr.Code)
}

func TestAppError_WithContext(t *testing.T) {
	ctx := context.WithValue(context.Background(), "request_id", "req-1")
	err := MergeTypeMismatch("data/ns").WithContext(ctx, "merge")
	assert.Equal(t, "req-1", err.RequestID)
	assert.Equal(t, "merge", err.Operation)
	assert.Contains(t, err.Error(), "MERGE_TYPE_MISMATCH")
}

// Feature: packsmith, Property 1: Path normalization is idempotent
func TestProperty_CleanPathIdempotent(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("cleaning a cleaned path changes nothing", prop.ForAll(
		func(segments []string, dotPrefix bool, trailing bool) bool {
			p := strings.Join(segments, "/")
			if dotPrefix {
				p = "./" + p
			}
			if trailing {
				p += "/"
			}
			once := CleanPath(p)
			return CleanPath(once) == once && !strings.HasPrefix(once, "./") && !strings.HasSuffix(once, "/")
		},
		gen.SliceOf(gen.Identifier()),
		gen.Bool(),
		gen.Bool(),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
