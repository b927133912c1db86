// Package handlers exposes the verification pipeline, login and roster over
// HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"facerecog/internal/auth"
	"facerecog/internal/roster"
	"facerecog/internal/verification"
)

// Verifier runs one verification request.
type Verifier interface {
	Verify(ctx context.Context, req verification.Request) (verification.Outcome, error)
}

// Authenticator checks invigilator credentials.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (auth.Token, error)
}

// StudentLister lists the roster.
type StudentLister interface {
	ListStudents(ctx context.Context, filter roster.Filter) ([]roster.Student, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Handler holds the collaborators of every route.
type Handler struct {
	verifier       Verifier
	logins         Authenticator
	students       StudentLister
	logger         *zap.Logger
	maxUploadBytes int64
	checks         map[string]HealthCheck
}

// New constructs a Handler. maxUploadBytes <= 0 disables the body cap.
func New(verifier Verifier, logins Authenticator, students StudentLister, logger *zap.Logger, maxUploadBytes int64) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		verifier:       verifier,
		logins:         logins,
		students:       students,
		logger:         logger.Named("http"),
		maxUploadBytes: maxUploadBytes,
		checks:         map[string]HealthCheck{},
	}
}

// AddHealthCheck registers a dependency reported by /healthz.
func (h *Handler) AddHealthCheck(name string, check HealthCheck) {
	h.checks[name] = check
}

// RegisterRoutes wires the HTTP handlers to the Gin router. protect, when
// given, guards /verify and /students.
func (h *Handler) RegisterRoutes(router *gin.Engine, protect ...gin.HandlerFunc) {
	router.GET("/healthz", h.health)
	router.POST("/login", h.login)

	guarded := router.Group("/", protect...)
	guarded.GET("/students", h.listStudents)
	guarded.POST("/verify", h.verify)
}

func (h *Handler) health(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.checks {
		healthy := check(c.Request.Context()) == nil
		body[name] = healthy
		if !healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func (h *Handler) login(c *gin.Context) {
	var req struct {
		Username string `json:"username" form:"username"`
		Password string `json:"password" form:"password"`
	}
	// Unparseable bodies fall through as empty credentials.
	_ = c.ShouldBind(&req)

	tok, err := h.logins.Login(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials"})
	case err != nil:
		h.logger.Error("login failed", zap.String("username", req.Username), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "Database error"})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "token": tok.AccessToken})
	}
}

func (h *Handler) listStudents(c *gin.Context) {
	filter := roster.Filter{
		Department: c.Query("department"),
		Room:       c.Query("room"),
	}
	students, err := h.students.ListStudents(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("list students failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch students"})
		return
	}
	c.JSON(http.StatusOK, students)
}
