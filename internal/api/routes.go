package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/satriahrh/emotiscan/adapters/capture"
	"github.com/satriahrh/emotiscan/domain/entities"
	"github.com/satriahrh/emotiscan/domain/repositories"
	"github.com/satriahrh/emotiscan/internal/auth"
	"github.com/satriahrh/emotiscan/internal/health"
	"github.com/satriahrh/emotiscan/internal/metrics"
	"github.com/satriahrh/emotiscan/internal/taxonomy"
	"github.com/satriahrh/emotiscan/internal/websocket"
	"github.com/satriahrh/emotiscan/usecase"
)

const (
	serviceName        = "emotiscan"
	operatorContextKey = "operator_id"
	modelsTimeout      = 5 * time.Second

	// Allowance for multipart headers and form fields on top of the image itself.
	uploadOverhead = 1 << 20
)

// DetectionService is what the HTTP surface needs from the detection core
type DetectionService interface {
	websocket.SessionService
	AnalyzeImage(ctx context.Context, frame entities.CaptureFrame, model entities.ModelID) entities.SubmissionOutcome
	Catalog() *entities.ModelCatalog
	HealthStatus() health.Status
	Metrics() metrics.Snapshot
}

// Dependencies wires the routes to the rest of the server
type Dependencies struct {
	Service DetectionService
	Hub     *websocket.Hub

	// Models describes catalog entries in detail when the classifier supports it
	Models repositories.ModelLister

	// Issuer enables bearer token authentication when set
	Issuer *auth.Issuer

	MaxUploadBytes int64
	Logger         *zap.Logger
}

type handlers struct {
	Dependencies
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, deps Dependencies) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 10 << 20
	}
	h := &handlers{Dependencies: deps}

	// Health check
	e.GET("/health", h.health)

	// API v1 routes
	v1 := e.Group("/api/v1")
	v1.POST("/auth/token", h.issueToken)

	protected := v1.Group("")
	if deps.Issuer != nil {
		protected.Use(h.requireOperator)
	}

	protected.GET("/session", h.getSession)
	protected.POST("/session/toggle", h.toggleSession)
	protected.PUT("/session/model", h.selectModel)
	protected.POST("/health/recheck", h.recheckHealth)
	protected.GET("/models", h.listModels)
	uploadLimit := strconv.FormatInt(deps.MaxUploadBytes+uploadOverhead, 10) + "B"
	protected.POST("/detect", h.detect, middleware.BodyLimit(uploadLimit))
	protected.GET("/metrics", h.getMetrics)

	// WebSocket endpoint, authenticated the same way as the API
	e.GET("/ws", h.connectWebSocket)
}

func (h *handlers) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:         "ok",
		Service:        serviceName,
		EmotionService: h.Service.HealthStatus(),
	})
}

func (h *handlers) issueToken(c echo.Context) error {
	if h.Issuer == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "auth_disabled",
			Message: "Token authentication is not enabled",
		})
	}

	var req TokenRequest
	if err := c.Bind(&req); err != nil {
		h.Logger.Error("Failed to bind token request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Invalid request format",
		})
	}

	if req.APIKey == "" || req.OperatorID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_fields",
			Message: "API key and operator ID are required",
		})
	}

	token, expiresAt, err := h.Issuer.Exchange(req.APIKey, req.OperatorID)
	if err != nil {
		h.Logger.Warn("Token exchange failed",
			zap.String("operator_id", req.OperatorID),
			zap.Error(err))
		if errors.Is(err, auth.ErrInvalidAPIKey) {
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "authentication_failed",
				Message: "Invalid API key",
			})
		}
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "token_generation_failed",
			Message: "Failed to generate authentication token",
		})
	}

	h.Logger.Info("Operator authenticated", zap.String("operator_id", req.OperatorID))

	return c.JSON(http.StatusOK, TokenResponse{
		Token:      token,
		ExpiresAt:  expiresAt,
		OperatorID: req.OperatorID,
	})
}

func (h *handlers) getSession(c echo.Context) error {
	return c.JSON(http.StatusOK, newSessionResponse(h.Service.Snapshot(), nil))
}

func (h *handlers) toggleSession(c echo.Context) error {
	session, err := h.Service.ToggleActive(c.Request().Context())
	if err != nil {
		return h.commandError(c, session, err)
	}
	h.Logger.Info("Detection toggled",
		zap.String("operator_id", operatorID(c)),
		zap.Bool("active", session.Active))
	return c.JSON(http.StatusOK, newSessionResponse(session, nil))
}

func (h *handlers) selectModel(c echo.Context) error {
	var req SelectModelRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(string(req.Model)) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "A model is required",
		})
	}

	session, err := h.Service.SelectModel(c.Request().Context(), entities.ModelID(strings.TrimSpace(string(req.Model))))
	if err != nil {
		return h.commandError(c, session, err)
	}
	h.Logger.Info("Model selected",
		zap.String("operator_id", operatorID(c)),
		zap.String("model", string(session.SelectedModel)))
	return c.JSON(http.StatusOK, newSessionResponse(session, nil))
}

func (h *handlers) recheckHealth(c echo.Context) error {
	h.Service.RequestHealthRecheck(c.Request().Context())
	return c.JSON(http.StatusOK, h.Service.HealthStatus())
}

func (h *handlers) listModels(c echo.Context) error {
	catalog := h.Service.Catalog()
	selected := h.Service.Snapshot().SelectedModel

	details := map[entities.ModelID]repositories.ModelInfo{}
	if h.Models != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), modelsTimeout)
		infos, err := h.Models.Models(ctx)
		cancel()
		if err != nil {
			h.Logger.Warn("Failed to list classifier models", zap.Error(err))
		}
		for _, info := range infos {
			details[info.ID] = info
		}
	}

	entries := lo.Map(catalog.Models(), func(id entities.ModelID, _ int) ModelEntry {
		entry := ModelEntry{ID: id, Selected: id == selected}
		if info, ok := details[id]; ok {
			entry.Emotions = info.Emotions
			entry.Loaded = info.Loaded
			return entry
		}
		entry.Emotions, _ = taxonomy.DatasetLabels(id.Dataset())
		entry.Loaded = h.Models == nil
		return entry
	})

	return c.JSON(http.StatusOK, ModelsResponse{Default: catalog.Default(), Models: entries})
}

func (h *handlers) detect(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_file",
			Message: "An image is required in the file field",
		})
	}

	if file.Size > h.MaxUploadBytes {
		return c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "file_too_large",
			Message: "Image exceeds the upload limit",
		})
	}
	if contentType := file.Header.Get("Content-Type"); contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return c.JSON(http.StatusUnsupportedMediaType, ErrorResponse{
			Error:   "unsupported_media_type",
			Message: "Only image uploads are accepted",
		})
	}

	src, err := file.Open()
	if err != nil {
		h.Logger.Error("Failed to open upload", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_file",
			Message: "Uploaded file could not be read",
		})
	}
	defer src.Close()

	frame, err := capture.NormalizeImage(src)
	if err != nil {
		h.Logger.Warn("Rejected undecodable upload", zap.String("filename", file.Filename), zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_image",
			Message: "Uploaded file is not a supported image",
		})
	}

	model := entities.ModelID(strings.TrimSpace(c.FormValue("model")))
	outcome := h.Service.AnalyzeImage(c.Request().Context(), frame, model)
	if outcome.Kind == entities.OutcomePredicted {
		return c.JSON(http.StatusOK, newDetectResponse(outcome))
	}
	return c.JSON(statusForKind(entities.KindOf(outcome.Err)), newDetectResponse(outcome))
}

func (h *handlers) getMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.Service.Metrics())
}

func (h *handlers) connectWebSocket(c echo.Context) error {
	if h.Issuer == nil {
		return websocket.HandleWebSocket(h.Hub, c, "", h.Logger)
	}

	claims, err := h.authenticate(c)
	if err != nil {
		h.Logger.Warn("WebSocket connection rejected", zap.Error(err))
		return c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_token",
			Message: "Invalid or expired JWT token",
		})
	}

	h.Logger.Info("WebSocket connection authenticated", zap.String("operator_id", claims.OperatorID))
	return websocket.HandleWebSocket(h.Hub, c, claims.OperatorID, h.Logger)
}

// requireOperator rejects requests without a valid operator token
func (h *handlers) requireOperator(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, err := h.authenticate(c)
		if err != nil {
			h.Logger.Warn("Request rejected",
				zap.String("path", c.Path()),
				zap.Error(err))
			return c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "invalid_token",
				Message: "Invalid or expired JWT token",
			})
		}
		c.Set(operatorContextKey, claims.OperatorID)
		return next(c)
	}
}

// authenticate reads the bearer token from the Authorization header, or from the
// token query parameter for browser websocket clients that cannot set headers
func (h *handlers) authenticate(c echo.Context) (*auth.JWTClaims, error) {
	var token string
	authHeader := c.Request().Header.Get("Authorization")
	if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
		token = authHeader[7:]
	}
	if token == "" {
		token = c.QueryParam("token")
	}
	if token == "" {
		return nil, errors.New("missing token")
	}
	return h.Issuer.ValidateToken(token)
}

func (h *handlers) commandError(c echo.Context, session entities.DetectionSession, err error) error {
	if errors.Is(err, usecase.ErrServiceStopped) {
		return c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "service_stopped",
			Message: "Detection service is shutting down",
		})
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, ErrorResponse{
			Error:   "timeout",
			Message: "Detection service did not answer in time",
		})
	}

	derr := entities.AsDetectionError(err, entities.ErrorKindServiceUnavailable)
	h.Logger.Warn("Command rejected",
		zap.String("operator_id", operatorID(c)),
		zap.String("kind", string(derr.Kind)),
		zap.Error(err))
	return c.JSON(statusForKind(derr.Kind), newSessionResponse(session, derr))
}

func statusForKind(kind entities.ErrorKind) int {
	switch kind {
	case entities.ErrorKindInvalidModel:
		return http.StatusBadRequest
	case entities.ErrorKindBusy:
		return http.StatusTooManyRequests
	case entities.ErrorKindServiceUnavailable:
		return http.StatusServiceUnavailable
	case entities.ErrorKindTransport, entities.ErrorKindBadStatus, entities.ErrorKindMalformedPayload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func operatorID(c echo.Context) string {
	id, _ := c.Get(operatorContextKey).(string)
	return id
}
