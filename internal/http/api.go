package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fluent-auth/internal/domain"
	"fluent-auth/internal/metrics"
	"fluent-auth/internal/service"
)

// TokenIssuer mints and verifies session tokens.
type TokenIssuer interface {
	Issue(subjectID int64) (string, error)
	Verify(token string) (int64, error)
}

// Pinger reports whether the credential store answers.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type Config struct {
	Users         service.UserService
	Tokens        TokenIssuer
	Store         Pinger
	Metrics       *metrics.Metrics
	Logger        logrus.FieldLogger
	Production    bool
	AllowedOrigin string
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users         service.UserService
	tokens        TokenIssuer
	store         Pinger
	cookies       SessionCookies
	metrics       *metrics.Metrics
	logger        logrus.FieldLogger
	production    bool
	allowedOrigin string
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		users:         cfg.Users,
		tokens:        cfg.Tokens,
		store:         cfg.Store,
		cookies:       NewSessionCookies(cfg.Production),
		metrics:       cfg.Metrics,
		logger:        logger,
		production:    cfg.Production,
		allowedOrigin: cfg.AllowedOrigin,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.logger))
	if h.metrics != nil {
		router.Use(h.metrics.Middleware())
		router.GET("/metrics", gin.WrapH(h.metrics.Handler()))
	}
	router.Use(corsMiddleware(h.allowedOrigin))

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		authGroup.POST("/register", h.register)
		authGroup.POST("/login", h.login)
		authGroup.POST("/logout", h.logout)

		protected := api.Group("/protected", h.requireSession())
		protected.GET("/profile", h.profile)

		api.GET("/health", h.health)
	}
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

func userToResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:       user.SequenceID,
		Username: user.Username,
		Email:    user.Email,
	}
}

func (h *Handler) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.ObserveRegistration(metrics.ResultInvalid)
		c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
		return
	}

	user, err := h.users.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	h.metrics.ObserveRegistration(outcome(err))
	if err != nil {
		h.respondError(c, err, "Registration failed")
		return
	}

	if !h.startSession(c, user, "Registration failed") {
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"message": "Registration successful",
		"user":    userToResponse(user),
	})
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.metrics.ObserveLogin(metrics.ResultInvalid)
		c.JSON(http.StatusBadRequest, errorResponse{Message: "Invalid request body"})
		return
	}

	user, err := h.users.Authenticate(c.Request.Context(), req.Email, req.Password)
	h.metrics.ObserveLogin(outcome(err))
	if err != nil {
		h.respondError(c, err, "Login failed")
		return
	}

	if !h.startSession(c, user, "Login failed") {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Login successful",
		"user":    userToResponse(user),
	})
}

func (h *Handler) logout(c *gin.Context) {
	h.cookies.Clear(c.Writer)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logout successful"})
}

func (h *Handler) profile(c *gin.Context) {
	subjectID, ok := SubjectIDFromContext(c.Request.Context())
	if !ok {
		h.abortUnauthorized(c, "Authorization required", reasonMissingToken)
		return
	}

	user, err := h.users.GetBySequenceID(c.Request.Context(), subjectID)
	if err != nil {
		h.respondError(c, err, "Failed to load profile")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"subjectId": subjectID,
		"user":      userToResponse(user),
	})
}

func (h *Handler) health(c *gin.Context) {
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.store.PingContext(ctx); err != nil {
			h.loggerFor(c).WithError(err).Warn("store ping failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// startSession mints a token for user and attaches it as the session cookie.
func (h *Handler) startSession(c *gin.Context, user *domain.User, fallback string) bool {
	token, err := h.tokens.Issue(user.SequenceID)
	if err != nil {
		h.respondError(c, err, fallback)
		return false
	}
	h.cookies.Attach(c.Writer, token)
	return true
}
