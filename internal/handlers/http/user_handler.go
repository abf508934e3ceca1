package http

import (
	"net/http"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	"groupchat/internal/infrastructure/middleware"
	"groupchat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// UserHandler stands in for the external signup system: admins create the
// user records that session tokens are minted for.
type UserHandler struct {
	users ports.UserService
}

func NewUserHandler(users ports.UserService) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) SetupRoutes(api *gin.RouterGroup) {
	users := api.Group("/users", middleware.RequireRole(domain.RoleAdmin))
	{
		users.POST("", h.CreateUser)
		users.DELETE("/:id", h.DeleteUser)
	}
	api.GET("/me", h.Me)
}

type CreateUserRequest struct {
	ID    domain.UserID `json:"id" binding:"required,max=64"`
	Name  string        `json:"name" binding:"max=100"`
	Email string        `json:"email" binding:"max=254"`
	Role  domain.Role   `json:"role"`
}

func (h *UserHandler) CreateUser(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(errors.NewInvalidInputError("invalid request format"))
		return
	}

	user, err := h.users.CreateUser(c.Request.Context(), caller, domain.Identity{
		ID:    req.ID,
		Name:  req.Name,
		Email: req.Email,
		Role:  req.Role,
	})
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"user": user})
}

func (h *UserHandler) DeleteUser(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}

	if err := h.users.DeleteUser(c.Request.Context(), caller, domain.UserID(c.Param("id"))); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Me echoes the identity the session resolves to.
func (h *UserHandler) Me(c *gin.Context) {
	caller, ok := callerFrom(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": caller})
}
