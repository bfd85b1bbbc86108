package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/xekr/packsmith/internal/builder"
	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/project"
	"github.com/xekr/packsmith/internal/service"
	"github.com/xekr/packsmith/internal/storage"
	"github.com/xekr/packsmith/internal/version"
)

// DefaultBuildTimeout bounds a single build when the router is not configured otherwise
const DefaultBuildTimeout = 5 * time.Minute

// BuildService is what the handlers need from the build service
type BuildService interface {
	Registry() *version.Registry
	Versions() []version.Entry
	Project(ctx context.Context, repo, ref string) (*project.Project, error)
	BuildRepo(ctx context.Context, repo, ref string, opts service.BuildOptions) (*builder.Result, error)
	BuildArchive(ctx context.Context, data []byte, opts service.BuildOptions) (*builder.Result, error)
	Artifacts(ctx context.Context) ([]storage.Artifact, error)
	Artifact(ctx context.Context, id string) (storage.Artifact, []byte, error)
}

// Handlers contains all HTTP handlers of the build API
type Handlers struct {
	service       BuildService
	healthChecker domain.HealthChecker
	buildTimeout  time.Duration
}

// NewHandlers creates a new instance of API handlers
func NewHandlers(svc BuildService, healthChecker domain.HealthChecker, buildTimeout time.Duration) *Handlers {
	if buildTimeout <= 0 {
		buildTimeout = DefaultBuildTimeout
	}
	return &Handlers{
		service:       svc,
		healthChecker: healthChecker,
		buildTimeout:  buildTimeout,
	}
}

// BuildRequest is the payload of POST /v1/builds
type BuildRequest struct {
	Repo string `json:"repo"`
	Ref  string `json:"ref,omitempty"`
	service.BuildOptions
}

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// SuccessResponse represents the standard success response format
type SuccessResponse struct {
	Status string `json:"status"`
	Data   any    `json:"data"`
}

// VersionsResponse lists the version registry
type VersionsResponse struct {
	Versions []version.Entry `json:"versions"`
	Latest   string          `json:"latest"`
	Count    int             `json:"count"`
}

// ProjectResponse describes a pack repository. Available is only filled
// when a target version was requested.
type ProjectResponse struct {
	*project.Project
	Version   string   `json:"version,omitempty"`
	Available []string `json:"available,omitempty"`
}

// BuildListResponse lists stored builds
type BuildListResponse struct {
	Builds []storage.Artifact `json:"builds"`
	Count  int                `json:"count"`
}

// BuildHandler handles POST /v1/builds requests. The archive is the response body.
func (h *Handlers) BuildHandler(c *fiber.Ctx) error {
	var req BuildRequest
	if err := c.BodyParser(&req); err != nil {
		return h.sendError(c, domain.NewAppError(
			domain.ErrInvalidInput,
			"Invalid JSON payload",
			http.StatusBadRequest,
			map[string]string{"error": err.Error()},
		))
	}

	req.Repo = strings.TrimSpace(req.Repo)
	if req.Repo == "" {
		return h.sendError(c, domain.NewAppError(
			domain.ErrValidationFailed,
			"Repository is required",
			http.StatusUnprocessableEntity,
			map[string]string{"field": "repo", "reason": "required"},
		))
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.buildTimeout)
	defer cancel()

	result, err := h.service.BuildRepo(ctx, req.Repo, strings.TrimSpace(req.Ref), req.BuildOptions)
	if err != nil {
		return h.handleError(c, err, "build_repo")
	}
	return h.sendArchive(c, result.ID, result.FileName, result.Archive)
}

// UploadBuildHandler handles POST /v1/builds/upload requests carrying a
// repository zip in the "archive" form field
func (h *Handlers) UploadBuildHandler(c *fiber.Ctx) error {
	header, err := c.FormFile("archive")
	if err != nil {
		return h.sendError(c, domain.NewAppError(
			domain.ErrInvalidInput,
			"Multipart field \"archive\" is required",
			http.StatusBadRequest,
			map[string]string{"field": "archive"},
		))
	}

	f, err := header.Open()
	if err != nil {
		return h.handleError(c, fmt.Errorf("failed to open upload: %w", err), "build_upload")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return h.handleError(c, fmt.Errorf("failed to read upload: %w", err), "build_upload")
	}

	opts := service.BuildOptions{
		Version:   strings.TrimSpace(c.FormValue("version")),
		Type:      strings.TrimSpace(c.FormValue("type")),
		ModLoader: parseBool(c.FormValue("mod_loader")),
	}
	if form, err := c.MultipartForm(); err == nil {
		opts.Modules = splitList(form.Value["modules"])
		opts.Sets = splitList(form.Value["sets"])
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), h.buildTimeout)
	defer cancel()

	result, err := h.service.BuildArchive(ctx, data, opts)
	if err != nil {
		return h.handleError(c, err, "build_upload")
	}
	return h.sendArchive(c, result.ID, result.FileName, result.Archive)
}

// ListBuildsHandler handles GET /v1/builds requests
func (h *Handlers) ListBuildsHandler(c *fiber.Ctx) error {
	builds, err := h.service.Artifacts(c.UserContext())
	if err != nil {
		return h.handleError(c, err, "list_builds")
	}
	if builds == nil {
		builds = []storage.Artifact{}
	}

	return c.Status(http.StatusOK).JSON(SuccessResponse{
		Status: "success",
		Data:   BuildListResponse{Builds: builds, Count: len(builds)},
	})
}

// GetBuildHandler handles GET /v1/builds/:id requests
func (h *Handlers) GetBuildHandler(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return h.sendError(c, domain.NewAppError(
			domain.ErrValidationFailed,
			"Build ID is required",
			http.StatusUnprocessableEntity,
			map[string]string{"field": "id", "reason": "required"},
		))
	}

	meta, data, err := h.service.Artifact(c.UserContext(), id)
	if err != nil {
		return h.handleError(c, err, "get_build")
	}
	return h.sendArchive(c, meta.ID, meta.FileName, data)
}

// VersionsHandler handles GET /v1/versions requests
func (h *Handlers) VersionsHandler(c *fiber.Ctx) error {
	versions := h.service.Versions()
	latest := ""
	if len(versions) > 0 {
		latest = versions[len(versions)-1].ID
	}

	return c.Status(http.StatusOK).JSON(SuccessResponse{
		Status: "success",
		Data: VersionsResponse{
			Versions: versions,
			Latest:   latest,
			Count:    len(versions),
		},
	})
}

// ProjectHandler handles GET /v1/projects/:owner/:repo requests
func (h *Handlers) ProjectHandler(c *fiber.Ctx) error {
	repo := c.Params("owner") + "/" + c.Params("repo")
	target := strings.TrimSpace(c.Query("version"))

	p, err := h.service.Project(c.UserContext(), repo, strings.TrimSpace(c.Query("ref")))
	if err != nil {
		return h.handleError(c, err, "load_project")
	}

	resp := ProjectResponse{Project: p}
	if target != "" {
		available, err := p.Available(h.service.Registry(), target)
		if err != nil {
			return h.handleError(c, err, "available_modules")
		}
		if available == nil {
			available = []string{}
		}
		resp.Version = target
		resp.Available = available
	}

	return c.Status(http.StatusOK).JSON(SuccessResponse{
		Status: "success",
		Data:   resp,
	})
}

// HealthHandler handles GET /health requests
func (h *Handlers) HealthHandler(c *fiber.Ctx) error {
	health := h.healthChecker.CheckHealth(c.UserContext())

	status := http.StatusOK
	if health.Status == domain.HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	return c.Status(status).JSON(map[string]any{
		"status":     health.Status,
		"timestamp":  health.Timestamp.Format(time.RFC3339),
		"components": health.Components,
		"uptime":     health.Uptime.String(),
	})
}

func (h *Handlers) sendArchive(c *fiber.Ctx, id, fileName string, data []byte) error {
	contentType := "application/zip"
	if strings.HasSuffix(fileName, ".jar") {
		contentType = "application/java-archive"
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", fileName))
	c.Set("X-Build-ID", id)
	return c.Status(http.StatusOK).Send(data)
}

// handleError maps service errors to responses. Errors without an AppError
// in their chain are reported as internal errors.
func (h *Handlers) handleError(c *fiber.Ctx, err error, operation string) error {
	if appErr, ok := domain.AsAppError(err); ok {
		appErr.Operation = operation
		return h.sendError(c, appErr)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return h.sendError(c, domain.NewAppErrorWithCause(
			domain.ErrInternal,
			"Build timed out",
			http.StatusGatewayTimeout,
			err,
			map[string]string{"timeout": h.buildTimeout.String()},
		))
	}

	appErr := domain.NewAppErrorWithCause(
		domain.ErrInternal,
		"Internal server error",
		http.StatusInternalServerError,
		err,
		nil,
	)
	appErr.Operation = operation
	return h.sendError(c, appErr)
}

// sendError sends a standardized error response
func (h *Handlers) sendError(c *fiber.Ctx, appErr *domain.AppError) error {
	if appErr.StatusCode >= http.StatusInternalServerError {
		log.Error().Err(appErr).Str("request_id", requestID(c)).Str("operation", appErr.Operation).Msg("Request failed")
	}

	return c.Status(appErr.StatusCode).JSON(ErrorResponse{
		Status:    "error",
		Code:      appErr.Code,
		Message:   appErr.Message,
		Details:   appErr.Details,
		RequestID: requestID(c),
	})
}

func requestID(c *fiber.Ctx) string {
	if rid, ok := c.Locals("requestid").(string); ok {
		return rid
	}
	return ""
}

// splitList flattens repeated and comma separated form values
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
