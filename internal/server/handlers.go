package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hapcat/hapcat-backend/internal/objects"
	"github.com/hapcat/hapcat-backend/internal/users"
	"github.com/hapcat/hapcat-backend/internal/votes"
	"go.uber.org/zap"
)

const messageInvalidRequestJSON = "Invalid request JSON"

// entityRoute describes a single-entity lookup endpoint.
type entityRoute struct {
	label string
	kinds []objects.Kind
}

var (
	tagRoute      = entityRoute{label: "tag", kinds: []objects.Kind{objects.KindTag}}
	locationRoute = entityRoute{label: "location", kinds: []objects.Kind{objects.KindLocation, objects.KindRawLocation}}
	eventRoute    = entityRoute{label: "event", kinds: []objects.Kind{objects.KindEvent}}
)

func (h *httpHandler) handleServerInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"server_version": ServerVersion,
		"api_versions":   APIVersions,
	})
}

func (h *httpHandler) handleServerInfoRedirect(c *gin.Context) {
	latest := APIVersions[len(APIVersions)-1]
	c.Redirect(http.StatusFound, fmt.Sprintf("/api/v%d/serverinfo/", latest))
}

func (h *httpHandler) handleTag(c *gin.Context) {
	h.serveEntity(c, tagRoute)
}

func (h *httpHandler) handleLocation(c *gin.Context) {
	h.serveEntity(c, locationRoute)
}

func (h *httpHandler) handleEvent(c *gin.Context) {
	h.serveEntity(c, eventRoute)
}

func (h *httpHandler) serveEntity(c *gin.Context, route entityRoute) {
	entity, err := h.store.ResolveKind(c.Request.Context(), c.Param("id"), route.kinds...)
	switch {
	case errors.Is(err, objects.ErrInvalidIdentifier):
		c.JSON(http.StatusBadRequest, gin.H{"status": "failure", "message": fmt.Sprintf("Invalid %s ID", route.label)})
		return
	case errors.Is(err, objects.ErrNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"status": "failure", "message": fmt.Sprintf("No such %s", route.label)})
		return
	case err != nil:
		h.internalError(c, "failed to resolve "+route.label, err)
		return
	}
	document, err := objects.Serialize(entity)
	if err != nil {
		h.internalError(c, "failed to serialize "+route.label, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleSuggestions(c *gin.Context) {
	result, err := h.suggestions.Build(c.Request.Context(), h.maxLocations, h.maxEvents)
	if err != nil {
		h.internalError(c, "failed to build suggestions", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleVote(c *gin.Context) {
	votable := c.Param("votable")
	identity := c.GetString(identityContextKey)

	tally, err := h.votes.Cast(c.Request.Context(), votable, identity)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"votable":  tally.VotableID,
			"user_id":  tally.UserID,
			"username": tally.Username,
			"numvotes": tally.NumVotes,
		})
		return
	}

	body := gin.H{"success": false, "votable": votable, "user_id": identity}
	if tally.Username != "" {
		body["username"] = tally.Username
	}
	switch {
	case errors.Is(err, votes.ErrNoSuchUser):
		body["message"] = "No such user"
	case errors.Is(err, objects.ErrInvalidIdentifier):
		body["message"] = "Invalid UUID"
	case errors.Is(err, votes.ErrNoSuchVotable):
		body["message"] = "No such votable"
	default:
		h.internalError(c, "failed to cast vote", err)
		return
	}
	c.JSON(http.StatusBadRequest, body)
}

type dateOfBirthPayload struct {
	Year  int `json:"year"`
	Month int `json:"month"`
	Day   int `json:"day"`
}

func (d dateOfBirthPayload) date() (time.Time, bool) {
	date := time.Date(d.Year, time.Month(d.Month), d.Day, 0, 0, 0, 0, time.UTC)
	if date.Year() != d.Year || int(date.Month()) != d.Month || date.Day() != d.Day {
		return time.Time{}, false
	}
	return date, true
}

type registrationPayload struct {
	Username    string              `json:"username"`
	Email       string              `json:"email"`
	Password    string              `json:"password"`
	DateOfBirth *dateOfBirthPayload `json:"date_of_birth"`
}

func (h *httpHandler) handleRegistration(c *gin.Context) {
	var request registrationPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.DateOfBirth == nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "failure", "message": messageInvalidRequestJSON})
		return
	}
	dateOfBirth, ok := request.DateOfBirth.date()
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"status": "failure", "username": request.Username, "message": messageInvalidRequestJSON})
		return
	}

	user, err := h.accounts.Register(c.Request.Context(), users.Registration{
		Username:    request.Username,
		Email:       request.Email,
		DateOfBirth: dateOfBirth,
		Password:    request.Password,
	})
	var weak *users.WeakPasswordError
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "success", "username": user.Username})
	case errors.As(err, &weak):
		c.JSON(http.StatusBadRequest, gin.H{
			"status":   "failure",
			"username": request.Username,
			"message":  "Insufficiently secure password",
			"details":  weak.Feedback,
		})
	case errors.Is(err, users.ErrDuplicateUsername):
		c.JSON(http.StatusConflict, gin.H{
			"status":   "failure",
			"username": strings.TrimSpace(request.Username),
			"message":  "Username already exists",
		})
	case errors.Is(err, users.ErrInvalidRegistration):
		c.JSON(http.StatusBadRequest, gin.H{"status": "failure", "username": request.Username, "message": messageInvalidRequestJSON})
	default:
		h.internalError(c, "failed to register user", err)
	}
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginPayload
	if err := c.ShouldBindJSON(&request); err != nil || request.Username == "" || request.Password == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": messageInvalidRequestJSON})
		return
	}

	user, err := h.accounts.Authenticate(c.Request.Context(), request.Username, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		h.logger.Info("login rejected", zap.String("username", request.Username))
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Invalid credentials"})
		return
	}
	if err != nil {
		h.internalError(c, "failed to authenticate user", err)
		return
	}

	token, _, err := h.tokens.IssueAccessToken(c.Request.Context(), user.ID.String())
	if err != nil {
		h.internalError(c, "failed to issue access token", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "access_token": token})
}
