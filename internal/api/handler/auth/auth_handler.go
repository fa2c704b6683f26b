package auth

import (
	"net/http"

	"github.com/fisker/zcrm-backend/internal/api/middleware"
	"github.com/fisker/zcrm-backend/internal/model"
	authService "github.com/fisker/zcrm-backend/internal/service/auth"
	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	service *authService.AuthService
}

func NewAuthHandler(service *authService.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

// Login 用户登录
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}

	resp, err := h.service.Login(&req, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusUnauthorized, model.Error(401, err.Error()))
		return
	}

	c.JSON(http.StatusOK, model.Success(resp))
}

// GetCurrentUser 获取当前登录用户信息
func (h *AuthHandler) GetCurrentUser(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, model.Error(401, "未登录"))
		return
	}
	c.JSON(http.StatusOK, model.Success(user))
}

// ChangePasswordRequest 修改自己的密码
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=6"`
}

// ChangePassword 当前用户修改密码，需要先校验旧密码
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	user := middleware.CurrentUser(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, model.Error(401, "未登录"))
		return
	}

	var req ChangePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}

	if err := h.service.ValidatePassword(user, req.CurrentPassword); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "当前密码不正确"))
		return
	}
	if err := h.service.ResetUserPassword(user.ID, req.NewPassword); err != nil {
		model.HandleError(c, 500, err, "修改密码失败")
		return
	}

	c.JSON(http.StatusOK, model.Success(gin.H{"id": user.ID}))
}
