package app

import (
	"github.com/fisker/zcrm-backend/internal/repository"
	"github.com/fisker/zcrm-backend/pkg/database"
)

// Repositories 包含所有 Repository 实例
type Repositories struct {
	User            *repository.UserRepository
	Company         *repository.CompanyRepository
	Organization    *repository.OrganizationRepository
	Opportunity     *repository.OpportunityRepository
	FormTemplate    *repository.FormTemplateRepository
	ProcessTemplate *repository.ProcessTemplateRepository
	Approval        *repository.ApprovalRepository
}

// InitializeRepositories 初始化所有 Repository
func InitializeRepositories() *Repositories {
	return &Repositories{
		User:            repository.NewUserRepository(database.DB),
		Company:         repository.NewCompanyRepository(database.DB),
		Organization:    repository.NewOrganizationRepository(database.DB),
		Opportunity:     repository.NewOpportunityRepository(database.DB),
		FormTemplate:    repository.NewFormTemplateRepository(database.DB),
		ProcessTemplate: repository.NewProcessTemplateRepository(database.DB),
		Approval:        repository.NewApprovalRepository(database.DB),
	}
}
