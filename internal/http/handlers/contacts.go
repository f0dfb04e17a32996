package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"civicom/internal/http/middleware"
	"civicom/internal/user"
	models "civicom/internal/user/model"
	userRepository "civicom/internal/user/repository"
	appErrors "civicom/pkg/errors"
	"civicom/pkg/logger"
)

type ContactsHandler struct {
	Users  user.UserRepository
	Logger logger.Logger
}

type contactDTO struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

func (h *ContactsHandler) ListContacts(c *gin.Context) {
	users, err := h.Users.ListUsers(c.Request.Context(), 100)
	if err != nil {
		h.Logger.Error("database error listing users", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
		return
	}

	contacts := make([]contactDTO, 0, len(users))
	for _, u := range users {
		contacts = append(contacts, contactDTO{Username: u.Username, Name: u.Name, Role: u.Role})
	}
	c.JSON(http.StatusOK, gin.H{"contacts": contacts})
}

type updateNameRequest struct {
	Name string `json:"name"`
}

func (h *ContactsHandler) UpdateDisplayName(c *gin.Context) {
	var req updateNameRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "display name is required"})
		return
	}

	u, err := h.Users.GetUserByUsername(c.Request.Context(), middleware.MustUsername(c))
	if err != nil {
		h.writeUserError(c, err)
		return
	}
	if err := h.Users.UpdateUserDisplayName(c.Request.Context(), u.ID, req.Name); err != nil {
		h.writeUserError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type registerRequest struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Register creates the local profile row for a principal the identity
// provider already authenticated.
func (h *ContactsHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "username and name are required"})
		return
	}

	u := &models.User{Username: req.Username, Name: req.Name}
	if req.Role != "" {
		u.Role = req.Role
	}
	if err := h.Users.CreateUser(c.Request.Context(), u); err != nil {
		h.Logger.Error("database error creating user", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
		return
	}
	c.JSON(http.StatusCreated, contactDTO{Username: u.Username, Name: u.Name, Role: u.Role})
}

func (h *ContactsHandler) writeUserError(c *gin.Context, err error) {
	if appErrors.Is(err, userRepository.ErrUserNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": "user not found"})
		return
	}
	h.Logger.Error("database error", "err", err)
	c.JSON(http.StatusInternalServerError, gin.H{"message": "internal server error"})
}
