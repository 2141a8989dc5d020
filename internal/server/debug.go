package server

import (
	"errors"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/hapcat/hapcat-backend/internal/users"
	"go.uber.org/zap"
)

type routeInfo struct {
	Rule     string   `json:"rule"`
	Endpoint string   `json:"endpoint"`
	Methods  []string `json:"methods"`
}

func (h *httpHandler) handleRouteDump(engine *gin.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		rules := map[string]*routeInfo{}
		for _, route := range engine.Routes() {
			info, ok := rules[route.Path]
			if !ok {
				info = &routeInfo{Rule: route.Path, Endpoint: route.Handler}
				rules[route.Path] = info
			}
			info.Methods = append(info.Methods, route.Method)
		}
		for _, info := range rules {
			sort.Strings(info.Methods)
		}
		c.JSON(http.StatusOK, rules)
	}
}

func (h *httpHandler) handleReloadTestData(c *gin.Context) {
	fixtures, err := h.fixtures()
	if err != nil {
		h.internalError(c, "failed to load fixtures", err)
		return
	}
	report, err := h.store.Seed(c.Request.Context(), fixtures)
	if err != nil {
		h.internalError(c, "failed to seed fixtures", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "created": report.Created, "skipped": report.Skipped})
}

func (h *httpHandler) handleDropAllData(c *gin.Context) {
	deleted, err := h.store.DeleteAll(c.Request.Context())
	if err != nil {
		h.internalError(c, "failed to drop data", err)
		return
	}
	h.logger.Warn("dropped all data", zap.Int64("count", deleted))
	c.JSON(http.StatusOK, gin.H{"success": true, "deleted": deleted})
}

func (h *httpHandler) handleProtectedTest(c *gin.Context) {
	identity := c.GetString(identityContextKey)
	id, err := uuid.Parse(identity)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No such user", "user_id": identity})
		return
	}
	user, err := h.accounts.FindByID(c.Request.Context(), id)
	if errors.Is(err, users.ErrUserNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "No such user", "user_id": identity})
		return
	}
	if err != nil {
		h.internalError(c, "failed to load user", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": user.ID.String(), "username": user.Username})
}
