// Package handler 提供统一的 handler 导出
// 所有 handler 按功能模块分类到子目录中
package handler

import (
	// Approval handlers
	approvalHandler "github.com/fisker/zcrm-backend/internal/api/handler/approval"
	// Auth handlers
	authHandler "github.com/fisker/zcrm-backend/internal/api/handler/auth"
	// CRM handlers
	crmHandler "github.com/fisker/zcrm-backend/internal/api/handler/crm"
	// System handlers
	systemHandler "github.com/fisker/zcrm-backend/internal/api/handler/system"
)

// Auth handlers
type AuthHandler = authHandler.AuthHandler
type UserHandler = authHandler.UserHandler

var NewAuthHandler = authHandler.NewAuthHandler
var NewUserHandler = authHandler.NewUserHandler

// System handlers
type CompanyHandler = systemHandler.CompanyHandler
type OrganizationHandler = systemHandler.OrganizationHandler

var NewCompanyHandler = systemHandler.NewCompanyHandler
var NewOrganizationHandler = systemHandler.NewOrganizationHandler

// CRM handlers
type OpportunityHandler = crmHandler.OpportunityHandler

var NewOpportunityHandler = crmHandler.NewOpportunityHandler

// Approval handlers
type ApprovalTemplateHandler = approvalHandler.TemplateHandler
type ApprovalInstanceHandler = approvalHandler.InstanceHandler

var NewApprovalTemplateHandler = approvalHandler.NewTemplateHandler
var NewApprovalInstanceHandler = approvalHandler.NewInstanceHandler
