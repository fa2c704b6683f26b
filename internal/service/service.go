// Package service 提供统一的 service 导出
// 所有 service 按功能模块分类到子目录中
package service

// 重新导出所有 service 类型，保持向后兼容
import (
	// Approval services
	approvalService "github.com/fisker/zcrm-backend/internal/service/approval"
	// Auth services
	authService "github.com/fisker/zcrm-backend/internal/service/auth"
)

// Auth services
type AuthService = authService.AuthService

var NewAuthService = authService.NewAuthService

// Approval services
type ApprovalService = approvalService.Service
type ApprovalError = approvalService.Error
type ApprovalActionRequest = approvalService.ActionRequest
type ApprovalActionResult = approvalService.ActionResult

var NewApprovalService = approvalService.NewService
