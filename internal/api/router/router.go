package router

import (
	"net/http"

	"github.com/fisker/zcrm-backend/internal/api/handler"
	"github.com/fisker/zcrm-backend/internal/api/middleware"
	authService "github.com/fisker/zcrm-backend/internal/service/auth"
	"github.com/gin-gonic/gin"
)

func Setup(
	authHandler *handler.AuthHandler,
	userHandler *handler.UserHandler,
	companyHandler *handler.CompanyHandler,
	organizationHandler *handler.OrganizationHandler,
	opportunityHandler *handler.OpportunityHandler,
	templateHandler *handler.ApprovalTemplateHandler,
	instanceHandler *handler.ApprovalInstanceHandler,
	auth *authService.AuthService,
	mode string,
) *gin.Engine {
	gin.SetMode(mode)
	r := gin.New()

	// 使用自定义的 recovery 中间件（打印详细错误信息）
	r.Use(middleware.RecoveryMiddleware())
	// 使用 Gin 的 Logger 中间件（记录请求日志）
	r.Use(gin.Logger())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")

	// 认证相关（公开）
	api.POST("/auth/login", authHandler.Login)

	// 以下全部需要登录
	authed := api.Group("")
	authed.Use(middleware.AuthMiddleware(auth))
	{
		authed.GET("/auth/me", authHandler.GetCurrentUser)
		authed.POST("/me/password", authHandler.ChangePassword)

		// 用户管理
		users := authed.Group("/users")
		{
			users.GET("", userHandler.GetUsers)
			users.POST("", userHandler.CreateUser)
			users.PATCH("/:id", userHandler.UpdateUser)
			users.DELETE("/:id", userHandler.DeleteUser)
		}

		// 公司管理
		companies := authed.Group("/companies")
		{
			companies.GET("", companyHandler.GetCompanies)
			companies.POST("", companyHandler.CreateCompany)
			companies.PATCH("/:id", companyHandler.UpdateCompany)
			companies.DELETE("/:id", companyHandler.DeleteCompany)
		}

		// 组织角色与岗位
		org := authed.Group("/org")
		{
			org.GET("/roles", organizationHandler.GetOrgRoles)
			org.POST("/roles", organizationHandler.CreateOrgRole)
			org.PATCH("/roles/:id", organizationHandler.UpdateOrgRole)
			org.DELETE("/roles/:id", organizationHandler.DeleteOrgRole)
			org.GET("/positions", organizationHandler.GetOrgPositions)
			org.POST("/positions", organizationHandler.CreateOrgPosition)
			org.PATCH("/positions/:id", organizationHandler.UpdateOrgPosition)
			org.DELETE("/positions/:id", organizationHandler.DeleteOrgPosition)
		}

		// 商机
		opportunities := authed.Group("/opportunities")
		{
			opportunities.GET("", opportunityHandler.GetOpportunities)
			opportunities.POST("", opportunityHandler.CreateOpportunity)
			opportunities.GET("/:id", opportunityHandler.GetOpportunity)
			opportunities.PATCH("/:id", opportunityHandler.UpdateOpportunity)
			opportunities.DELETE("/:id", opportunityHandler.DeleteOpportunity)
		}

		// 审批工作流
		approval := authed.Group("/approval")
		{
			approval.GET("/form-templates", templateHandler.GetFormTemplates)
			approval.POST("/form-templates", templateHandler.CreateFormTemplate)
			approval.GET("/form-templates/:id", templateHandler.GetFormTemplate)
			approval.PATCH("/form-templates/:id", templateHandler.UpdateFormTemplate)

			approval.GET("/process-templates", templateHandler.GetProcessTemplates)
			approval.POST("/process-templates", templateHandler.CreateProcessTemplate)
			approval.POST("/process-templates/validate", templateHandler.ValidateProcessDefinition)
			approval.GET("/process-templates/:id", templateHandler.GetProcessTemplate)
			approval.PATCH("/process-templates/:id", templateHandler.UpdateProcessTemplate)
			approval.GET("/process-templates/:id/versions", templateHandler.GetProcessTemplateVersions)

			approval.POST("/conditions/validate-expression", templateHandler.ValidateConditionExpression)

			approval.GET("/instances", instanceHandler.GetInstances)
			approval.POST("/instances", instanceHandler.CreateInstance)
			approval.GET("/instances/:id", instanceHandler.GetInstance)
			approval.POST("/instances/:id/actions", instanceHandler.HandleAction)

			approval.GET("/tasks/pending-count", instanceHandler.GetPendingCount)
		}
	}

	return r
}
