package app

import (
	approvalService "github.com/fisker/zcrm-backend/internal/service/approval"
	authService "github.com/fisker/zcrm-backend/internal/service/auth"
	"github.com/fisker/zcrm-backend/pkg/config"
	"github.com/fisker/zcrm-backend/pkg/database"
)

// Services 包含所有 Service 实例
type Services struct {
	Auth     *authService.AuthService
	Approval *approvalService.Service
}

// InitializeServices 初始化所有 Service
func InitializeServices(repos *Repositories, cfg *config.Config) *Services {
	auth := authService.NewAuthService(repos.User, cfg.Security.JWTSecret, cfg.Security.TokenTTLHours)
	approval := approvalService.NewService(
		database.DB,
		repos.Approval,
		repos.ProcessTemplate,
		repos.FormTemplate,
		repos.Company,
		repos.User,
		repos.Organization,
	)
	return &Services{
		Auth:     auth,
		Approval: approval,
	}
}
