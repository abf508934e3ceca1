package http

import (
	"net/http"
	"strconv"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/internal/infrastructure/middleware"
	"groupchat/pkg/errors"

	"github.com/gin-gonic/gin"
)

type GroupHandler struct {
	groups ports.GroupService
}

func NewGroupHandler(groups ports.GroupService) *GroupHandler {
	return &GroupHandler{groups: groups}
}

// SetupRoutes expects api to run AuthMiddleware already.
func (h *GroupHandler) SetupRoutes(api *gin.RouterGroup) {
	groups := api.Group("/groups")
	{
		groups.GET("", h.ListGroups)
		groups.POST("", middleware.RequireRole(domain.RoleAdmin, domain.RoleGroupAdmin), h.CreateGroup)
		groups.DELETE("/:id", h.DeleteGroup)
		groups.GET("/:id/messages", h.ListMessages)
		groups.POST("/:id/members", h.AddMember)
		groups.DELETE("/:id/members/:userId", h.RemoveMember)
	}
}

type CreateGroupRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

type AddMemberRequest struct {
	UserID domain.UserID `json:"user_id" binding:"required,max=64"`
}

func (h *GroupHandler) ListGroups(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	groups, err := h.groups.ListGroups(c.Request.Context(), caller)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"groups": groups,
		"total":  len(groups),
	})
}

func (h *GroupHandler) CreateGroup(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	group, err := h.groups.CreateGroup(c.Request.Context(), caller, req.Name)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"group": group})
}

func (h *GroupHandler) DeleteGroup(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	if err := h.groups.DeleteGroup(c.Request.Context(), caller, domain.GroupID(c.Param("id"))); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// ListMessages returns the newest messages of a group, oldest first. The
// limit defaults server side and is clamped to the configured maximum.
func (h *GroupHandler) ListMessages(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.Error(errors.NewInvalidInputError("limit must be a positive integer"))
			return
		}
		limit = n
	}

	groupID := domain.GroupID(c.Param("id"))
	messages, err := h.groups.RecentMessages(c.Request.Context(), caller, groupID, limit)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"group_id": groupID,
		"messages": messages,
	})
}

func (h *GroupHandler) AddMember(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("user_id is required"))
		return
	}

	membership, err := h.groups.AddMember(c.Request.Context(), caller, domain.GroupID(c.Param("id")), req.UserID)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"membership": membership})
}

func (h *GroupHandler) RemoveMember(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	groupID := domain.GroupID(c.Param("id"))
	userID := domain.UserID(c.Param("userId"))
	if err := h.groups.RemoveMember(c.Request.Context(), caller, groupID, userID); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func callerFrom(c *gin.Context) (domain.Identity, bool) {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		c.Error(errors.NewUnauthorizedError("authentication required"))
		c.Abort()
	}
	return identity, ok
}
