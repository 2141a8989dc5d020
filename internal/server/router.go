package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hapcat/hapcat-backend/internal/auth"
	"github.com/hapcat/hapcat-backend/internal/objects"
	"github.com/hapcat/hapcat-backend/internal/suggestions"
	"github.com/hapcat/hapcat-backend/internal/users"
	"github.com/hapcat/hapcat-backend/internal/votes"
	"go.uber.org/zap"
)

// ServerVersion is reported by the serverinfo endpoints.
const ServerVersion = "0.1.0"

const (
	identityContextKey      = "hapcat_identity"
	defaultSuggestedEntries = 5
)

// APIVersions lists the mounted API versions in ascending order.
var APIVersions = []int{0}

var (
	errMissingEntityStore  = errors.New("entity store dependency required")
	errMissingSuggestions  = errors.New("suggestion builder dependency required")
	errMissingVoteLedger   = errors.New("vote ledger dependency required")
	errMissingAccounts     = errors.New("account service dependency required")
	errMissingTokenManager = errors.New("token manager dependency required")
)

// EntityStore resolves entities and performs the administrative bulk operations.
type EntityStore interface {
	ResolveKind(ctx context.Context, raw string, kinds ...objects.Kind) (objects.Entity, error)
	Seed(ctx context.Context, fixtures objects.Fixtures) (objects.SeedReport, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// SuggestionBuilder produces the suggestion feed.
type SuggestionBuilder interface {
	Build(ctx context.Context, maxLocations, maxEvents int) (suggestions.Suggestions, error)
}

// VoteLedger records votes.
type VoteLedger interface {
	Cast(ctx context.Context, rawVotableID string, userID string) (votes.Tally, error)
}

// AccountService registers and authenticates users.
type AccountService interface {
	Register(ctx context.Context, registration users.Registration) (users.User, error)
	Authenticate(ctx context.Context, username, password string) (users.User, error)
	FindByID(ctx context.Context, id uuid.UUID) (users.User, error)
}

// TokenManager issues and validates access tokens.
type TokenManager interface {
	IssueAccessToken(ctx context.Context, identity string) (string, int64, error)
	ValidateRequest(r *http.Request) (auth.AccessClaims, error)
}

// Dependencies is the shared state handed to every request handler. It is
// built once at startup and read-only afterwards.
type Dependencies struct {
	Store                 EntityStore
	Suggestions           SuggestionBuilder
	Votes                 VoteLedger
	Accounts              AccountService
	Tokens                TokenManager
	MaxSuggestedLocations int
	MaxSuggestedEvents    int
	AllowedOrigins        []string
	// DebugRoutes mounts the route dump and the data reset endpoints.
	DebugRoutes bool
	// Fixtures supplies the data loaded by /debug/reloadtestdata/.
	Fixtures func() (objects.Fixtures, error)
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin engine serving the versioned API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingEntityStore
	}
	if deps.Suggestions == nil {
		return nil, errMissingSuggestions
	}
	if deps.Votes == nil {
		return nil, errMissingVoteLedger
	}
	if deps.Accounts == nil {
		return nil, errMissingAccounts
	}
	if deps.Tokens == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	fixtures := deps.Fixtures
	if fixtures == nil {
		fixtures = objects.BundledFixtures
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	handler := &httpHandler{
		store:        deps.Store,
		suggestions:  deps.Suggestions,
		votes:        deps.Votes,
		accounts:     deps.Accounts,
		tokens:       deps.Tokens,
		maxLocations: positiveOr(deps.MaxSuggestedLocations, defaultSuggestedEntries),
		maxEvents:    positiveOr(deps.MaxSuggestedEvents, defaultSuggestedEntries),
		fixtures:     fixtures,
		logger:       logger,
	}

	router.GET("/api/serverinfo/", handler.handleServerInfoRedirect)
	for _, version := range APIVersions {
		api := router.Group(fmt.Sprintf("/api/v%d", version))
		api.GET("/serverinfo/", handler.handleServerInfo)
		api.GET("/tag/:id", handler.handleTag)
		api.GET("/location/:id", handler.handleLocation)
		api.GET("/event/:id", handler.handleEvent)
		api.GET("/suggestions/", handler.handleSuggestions)
		api.POST("/registration/", handler.handleRegistration)
		api.POST("/register/", handler.handleRegistration)
		api.POST("/auth/", handler.handleLogin)
		api.POST("/login/", handler.handleLogin)

		protected := api.Group("/")
		protected.Use(handler.authorizeRequest)
		protected.GET("/vote/:votable/", handler.handleVote)
	}

	if deps.DebugRoutes {
		router.GET("/", handler.handleRouteDump(router))
		router.GET("/debug/reloadtestdata/", handler.handleReloadTestData)
		router.GET("/debug/dropalldata/", handler.handleDropAllData)
		router.GET("/debug/protectedtest/", handler.authorizeRequest, handler.handleProtectedTest)
		logger.Warn("debug routes enabled")
	}

	return router, nil
}

type httpHandler struct {
	store        EntityStore
	suggestions  SuggestionBuilder
	votes        VoteLedger
	accounts     AccountService
	tokens       TokenManager
	maxLocations int
	maxEvents    int
	fixtures     func() (objects.Fixtures, error)
	logger       *zap.Logger
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Authorization", "Content-Type"},
		ExposeHeaders: []string{"Authorization"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	return cors.New(config)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.tokens.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingToken):
		case errors.Is(err, auth.ErrExpiredToken):
			h.logger.Info("token validation failed", zap.Error(err))
		default:
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		h.rejectUnauthorized(c, err)
		return
	}
	c.Set(identityContextKey, claims.Identity)
	c.Next()
}

func (h *httpHandler) rejectUnauthorized(c *gin.Context, err error) {
	message := "Invalid token"
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		message = "Request does not contain an access token"
	case errors.Is(err, auth.ErrUnsupportedScheme):
		message = "Unsupported authorization type"
	case errors.Is(err, auth.ErrExpiredToken):
		message = "Signature has expired"
	}
	c.Header("WWW-Authenticate", `JWT realm="Login Required"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": message})
}

func (h *httpHandler) internalError(c *gin.Context, message string, err error) {
	body := gin.H{"status": "failure", "success": false, "message": "Internal server error"}
	var serviceErr *objects.ServiceError
	if errors.As(err, &serviceErr) {
		body["code"] = serviceErr.Code()
	}
	h.logger.Error(message, zap.Error(err), zap.String("path", c.FullPath()))
	c.JSON(http.StatusInternalServerError, body)
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}
