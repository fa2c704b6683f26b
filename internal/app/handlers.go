package app

import (
	"github.com/fisker/zcrm-backend/internal/api/handler"
)

// Handlers 包含所有 Handler 实例
type Handlers struct {
	Auth             *handler.AuthHandler
	User             *handler.UserHandler
	Company          *handler.CompanyHandler
	Organization     *handler.OrganizationHandler
	Opportunity      *handler.OpportunityHandler
	ApprovalTemplate *handler.ApprovalTemplateHandler
	ApprovalInstance *handler.ApprovalInstanceHandler
}

// InitializeHandlers 初始化所有 Handler
func InitializeHandlers(repos *Repositories, services *Services) *Handlers {
	return &Handlers{
		Auth:             handler.NewAuthHandler(services.Auth),
		User:             handler.NewUserHandler(services.Auth, repos.Organization),
		Company:          handler.NewCompanyHandler(repos.Company),
		Organization:     handler.NewOrganizationHandler(repos.Organization, repos.Company),
		Opportunity:      handler.NewOpportunityHandler(repos.Opportunity, repos.Company),
		ApprovalTemplate: handler.NewApprovalTemplateHandler(services.Approval),
		ApprovalInstance: handler.NewApprovalInstanceHandler(services.Approval),
	}
}
