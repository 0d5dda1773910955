package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/authservice"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/store"
)

const accessTokenTTL = 12 * time.Hour

type AuthHandlers struct {
	users *store.UserStore
}

func NewAuthHandlers(users *store.UserStore) *AuthHandlers {
	return &AuthHandlers{users: users}
}

type credentials struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// POST /v1/auth/register
func (h *AuthHandlers) Register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_BODY", "message": err.Error()})
		return
	}
	id, err := h.users.CreateUser(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrUsernameTaken):
			c.JSON(http.StatusConflict, gin.H{"code": "USERNAME_TAKEN", "message": "username already taken"})
		case errors.Is(err, store.ErrPasswordTooShort):
			c.JSON(http.StatusBadRequest, gin.H{"code": "WEAK_PASSWORD", "message": err.Error()})
		default:
			log.Printf("handlers: register error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "register failed"})
		}
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user_id": id, "username": req.Username})
}

// POST /v1/auth/login
func (h *AuthHandlers) Login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_BODY", "message": err.Error()})
		return
	}
	userID, err := h.users.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) || errors.Is(err, store.ErrInvalidPassword) {
			c.JSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHENTICATED", "message": "invalid username or password"})
			return
		}
		log.Printf("handlers: login error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "login failed"})
		return
	}
	token, expiresAt, err := authservice.SignAccessToken(userID, req.Username, accessTokenTTL)
	if err != nil {
		log.Printf("handlers: sign token error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "login failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"expires_at":   expiresAt,
		"user_id":      userID,
		"username":     req.Username,
	})
}
