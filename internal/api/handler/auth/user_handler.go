package auth

import (
	"net/http"
	"strconv"

	"github.com/fisker/zcrm-backend/internal/api/middleware"
	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/repository"
	authService "github.com/fisker/zcrm-backend/internal/service/auth"
	"github.com/gin-gonic/gin"
)

// UserHandler 用户管理，只开放给集团和子公司管理员
type UserHandler struct {
	service *authService.AuthService
	orgs    *repository.OrganizationRepository
}

func NewUserHandler(service *authService.AuthService, orgs *repository.OrganizationRepository) *UserHandler {
	return &UserHandler{service: service, orgs: orgs}
}

// userWithOrg 用户信息带组织角色/岗位绑定
type userWithOrg struct {
	model.User
	OrgRoleIDs     []uint `json:"org_role_ids"`
	OrgPositionIDs []uint `json:"org_position_ids"`
}

func (h *UserHandler) attachOrgDimensions(user *model.User) (*userWithOrg, error) {
	roleIDs, err := h.orgs.FindUserRoleIDs(user.ID)
	if err != nil {
		return nil, err
	}
	positionIDs, err := h.orgs.FindUserPositionIDs(user.ID)
	if err != nil {
		return nil, err
	}
	if roleIDs == nil {
		roleIDs = []uint{}
	}
	if positionIDs == nil {
		positionIDs = []uint{}
	}
	return &userWithOrg{User: *user, OrgRoleIDs: roleIDs, OrgPositionIDs: positionIDs}, nil
}

// validateOrgRoleIDs 校验角色绑定：必须存在、启用且归属兼容（集团级或同公司）
func (h *UserHandler) validateOrgRoleIDs(ids []uint, companyID *uint) (string, bool) {
	for _, id := range ids {
		role, err := h.orgs.FindRoleByID(id)
		if err != nil {
			return "无效的组织角色", false
		}
		if role.Status != "active" {
			return "组织角色已停用", false
		}
		if role.CompanyID != nil && (companyID == nil || *role.CompanyID != *companyID) {
			return "组织角色归属公司不匹配", false
		}
	}
	return "", true
}

func (h *UserHandler) validateOrgPositionIDs(ids []uint, companyID *uint) (string, bool) {
	for _, id := range ids {
		position, err := h.orgs.FindPositionByID(id)
		if err != nil {
			return "无效的组织岗位", false
		}
		if position.Status != "active" {
			return "组织岗位已停用", false
		}
		if position.CompanyID != nil && (companyID == nil || *position.CompanyID != *companyID) {
			return "组织岗位归属公司不匹配", false
		}
	}
	return "", true
}

// GetUsers 用户列表。子公司管理员只能看本公司成员。
func (h *UserHandler) GetUsers(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	keyword := c.Query("keyword")

	var companyID *uint
	if actor.IsSubsidiaryAdmin() {
		if actor.CompanyID == nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "当前管理员未归属任何公司"))
			return
		}
		companyID = actor.CompanyID
	} else if raw := c.Query("company_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil {
			value := uint(id)
			companyID = &value
		}
	}

	users, total, err := h.service.GetUsersWithPagination(page, pageSize, companyID, keyword)
	if err != nil {
		model.HandleError(c, 500, err, "查询用户列表失败")
		return
	}

	totalPages := 0
	if pageSize > 0 {
		totalPages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	c.JSON(http.StatusOK, model.Success(model.PaginatedResponse{
		Data:       users,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}))
}

// createUserRequest 带组织绑定的创建用户请求
type createUserRequest struct {
	model.CreateUserRequest
	OrgRoleIDs     []uint `json:"org_role_ids"`
	OrgPositionIDs []uint `json:"org_position_ids"`
}

// CreateUser 创建用户。子公司管理员只能在本公司创建非集团管理员账号。
func (h *UserHandler) CreateUser(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}

	if actor.IsSubsidiaryAdmin() {
		if req.Role == model.RoleGroupAdmin {
			c.JSON(http.StatusBadRequest, model.Error(400, "无权创建集团管理员"))
			return
		}
		if actor.CompanyID == nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "当前管理员未归属任何公司"))
			return
		}
		req.CompanyID = actor.CompanyID
	}

	if msg, ok := h.validateOrgRoleIDs(req.OrgRoleIDs, req.CompanyID); !ok {
		c.JSON(http.StatusBadRequest, model.Error(400, msg))
		return
	}
	if msg, ok := h.validateOrgPositionIDs(req.OrgPositionIDs, req.CompanyID); !ok {
		c.JSON(http.StatusBadRequest, model.Error(400, msg))
		return
	}

	user, err := h.service.CreateUser(&req.CreateUserRequest)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}

	if req.OrgRoleIDs != nil {
		if err := h.orgs.ReplaceUserRoles(user.ID, req.OrgRoleIDs); err != nil {
			model.HandleError(c, 500, err, "绑定组织角色失败")
			return
		}
	}
	if req.OrgPositionIDs != nil {
		if err := h.orgs.ReplaceUserPositions(user.ID, req.OrgPositionIDs); err != nil {
			model.HandleError(c, 500, err, "绑定组织岗位失败")
			return
		}
	}

	view, err := h.attachOrgDimensions(user)
	if err != nil {
		model.HandleError(c, 500, err, "查询用户组织绑定失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(view))
}

// updateUserRequest 带组织绑定的更新用户请求
type updateUserRequest struct {
	model.UpdateUserRequest
	OrgRoleIDs     []uint `json:"org_role_ids"`
	OrgPositionIDs []uint `json:"org_position_ids"`
}

// UpdateUser 更新用户。子公司管理员只能改本公司的非集团管理员账号。
func (h *UserHandler) UpdateUser(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	userID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的用户ID"))
		return
	}

	target, err := h.service.GetUserByID(uint(userID))
	if err != nil {
		c.JSON(http.StatusNotFound, model.Error(404, "用户不存在"))
		return
	}

	var req updateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}

	if actor.IsSubsidiaryAdmin() {
		if target.IsGroupAdmin() || (req.Role != nil && *req.Role == model.RoleGroupAdmin) {
			c.JSON(http.StatusForbidden, model.Error(403, "无权管理集团管理员"))
			return
		}
		if actor.CompanyID == nil || target.CompanyID == nil || *target.CompanyID != *actor.CompanyID {
			c.JSON(http.StatusForbidden, model.Error(403, "只能管理本公司成员"))
			return
		}
		req.CompanyID = actor.CompanyID
	}

	nextCompanyID := target.CompanyID
	if req.CompanyID != nil {
		nextCompanyID = req.CompanyID
	}
	if req.OrgRoleIDs != nil {
		if msg, ok := h.validateOrgRoleIDs(req.OrgRoleIDs, nextCompanyID); !ok {
			c.JSON(http.StatusBadRequest, model.Error(400, msg))
			return
		}
	}
	if req.OrgPositionIDs != nil {
		if msg, ok := h.validateOrgPositionIDs(req.OrgPositionIDs, nextCompanyID); !ok {
			c.JSON(http.StatusBadRequest, model.Error(400, msg))
			return
		}
	}

	user, err := h.service.UpdateUserInfo(uint(userID), &req.UpdateUserRequest)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	if req.Password != nil && *req.Password != "" {
		if err := h.service.ResetUserPassword(user.ID, *req.Password); err != nil {
			model.HandleError(c, 500, err, "重置密码失败")
			return
		}
	}

	if req.OrgRoleIDs != nil {
		if err := h.orgs.ReplaceUserRoles(user.ID, req.OrgRoleIDs); err != nil {
			model.HandleError(c, 500, err, "绑定组织角色失败")
			return
		}
	}
	if req.OrgPositionIDs != nil {
		if err := h.orgs.ReplaceUserPositions(user.ID, req.OrgPositionIDs); err != nil {
			model.HandleError(c, 500, err, "绑定组织岗位失败")
			return
		}
	}

	view, err := h.attachOrgDimensions(user)
	if err != nil {
		model.HandleError(c, 500, err, "查询用户组织绑定失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(view))
}

// DeleteUser 删除用户，仅集团管理员
func (h *UserHandler) DeleteUser(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsGroupAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要集团管理员权限"))
		return
	}

	userID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的用户ID"))
		return
	}
	if uint(userID) == actor.ID {
		c.JSON(http.StatusBadRequest, model.Error(400, "不能删除自己"))
		return
	}

	if err := h.service.DeleteUser(uint(userID)); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	c.JSON(http.StatusOK, model.Success(gin.H{"id": userID}))
}
