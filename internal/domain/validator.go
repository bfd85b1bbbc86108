package domain

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var repoRefPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// PackValidator checks pack configuration and build requests before any fetch happens
type PackValidator struct {
	validate *validator.Validate
}

// NewPackValidator creates a validator with the module key rule registered
func NewPackValidator() *PackValidator {
	v := validator.New()
	_ = v.RegisterValidation("modulekey", validateModuleKey)
	return &PackValidator{validate: v}
}

// ValidateConfig fails fast when the main module or base path is missing
func (v *PackValidator) ValidateConfig(cfg *PackConfig) error {
	if cfg == nil {
		return NewAppError(ErrInvalidConfig, "Pack configuration is required", http.StatusUnprocessableEntity, nil)
	}

	if err := v.validate.Struct(cfg); err != nil {
		return NewAppErrorWithCause(ErrInvalidConfig, "Invalid pack configuration", http.StatusUnprocessableEntity, err, fieldErrors(err))
	}

	if strings.Contains(cfg.MainModule, "/") {
		return NewAppError(ErrInvalidConfig, "main_module must be a folder name", http.StatusUnprocessableEntity, map[string]any{
			"field": "main_module",
			"value": cfg.MainModule,
		})
	}

	return nil
}

// ValidateRequest validates a build request including its pack configuration
func (v *PackValidator) ValidateRequest(req *BuildRequest) error {
	if req == nil {
		return NewAppError(ErrInvalidInput, "Build request is required", http.StatusBadRequest, nil)
	}
	if req.Source == nil {
		return NewAppError(ErrInvalidInput, "Build request has no content source", http.StatusBadRequest, nil)
	}
	if req.Version == "" {
		return NewAppError(ErrValidationFailed, "Target version is required", http.StatusUnprocessableEntity, map[string]any{"field": "version"})
	}
	if _, ok := ParsePackType(string(req.Type)); !ok {
		return NewAppError(ErrValidationFailed, "Invalid pack type", http.StatusUnprocessableEntity, map[string]any{
			"field":          "type",
			"value":          req.Type,
			"allowed_values": []PackType{PackTypeAll, PackTypeResource, PackTypeData},
		})
	}
	for _, m := range req.Modules {
		if err := v.validate.Var(m.Key, "required,modulekey"); err != nil {
			return NewAppErrorWithCause(ErrValidationFailed, "Invalid module key", http.StatusUnprocessableEntity, err, map[string]any{
				"field": "modules",
				"value": m.Key,
			})
		}
	}
	return v.ValidateConfig(req.Config)
}

// ValidateRepoRef checks an owner/name repository reference
func ValidateRepoRef(ref string) error {
	if !repoRefPattern.MatchString(ref) {
		return NewAppError(ErrInvalidInput, "Repository must be in owner/name form", http.StatusBadRequest, map[string]any{
			"field": "repo",
			"value": ref,
		})
	}
	return nil
}

func validateModuleKey(fl validator.FieldLevel) bool {
	key := fl.Field().String()
	return key != "" && key != "." && key != ".." && !strings.ContainsAny(key, `/\`)
}

func fieldErrors(err error) map[string]any {
	details := make(map[string]any)
	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		details["error"] = err.Error()
		return details
	}
	for _, e := range validationErrs {
		details[strings.ToLower(e.Field())] = fmt.Sprintf("failed on %s", e.Tag())
	}
	return details
}
