package system

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/fisker/zcrm-backend/internal/api/middleware"
	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/repository"
	"github.com/gin-gonic/gin"
)

func isOrgDimensionStatus(status string) bool {
	return status == "active" || status == "inactive"
}

func normalizeDimensionCode(code *string) *string {
	if code == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*code)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// OrganizationHandler 组织角色与岗位管理。两套维度规则完全一致：
// company_id 为空表示集团级，子公司管理员只能维护本公司条目。
type OrganizationHandler struct {
	orgs      *repository.OrganizationRepository
	companies *repository.CompanyRepository
}

func NewOrganizationHandler(orgs *repository.OrganizationRepository, companies *repository.CompanyRepository) *OrganizationHandler {
	return &OrganizationHandler{orgs: orgs, companies: companies}
}

// resolveListScope 解析列表查询的公司过滤。返回 (companyID, includeGlobal, ok)。
func (h *OrganizationHandler) resolveListScope(c *gin.Context, actor *model.User) (*uint, bool, bool) {
	var requested *uint
	if raw := c.Query("company_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的公司"))
			return nil, false, false
		}
		value := uint(id)
		requested = &value
	}

	if actor.IsSubsidiaryAdmin() {
		if actor.CompanyID == nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "当前管理员未归属任何公司"))
			return nil, false, false
		}
		switch {
		case requested == nil:
			return actor.CompanyID, true, true
		case *requested == 0:
			return requested, false, true
		case *requested == *actor.CompanyID:
			return requested, false, true
		default:
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的公司"))
			return nil, false, false
		}
	}
	return requested, false, true
}

// resolveWriteCompanyID 解析新建/更新条目的归属公司。
// 子公司管理员强制归属本公司，集团管理员需要公司真实存在。
func (h *OrganizationHandler) resolveWriteCompanyID(c *gin.Context, actor *model.User, requested *uint) (*uint, bool) {
	if actor.IsSubsidiaryAdmin() {
		if actor.CompanyID == nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "当前管理员未归属任何公司"))
			return nil, false
		}
		if requested != nil && *requested != 0 && *requested != *actor.CompanyID {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的公司"))
			return nil, false
		}
		return actor.CompanyID, true
	}
	if requested == nil || *requested == 0 {
		return nil, true
	}
	if _, err := h.companies.FindCompanyByID(*requested); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的公司"))
		return nil, false
	}
	return requested, true
}

// canEditScope 子公司管理员只能改本公司条目，集团级条目只有集团管理员能动
func canEditScope(actor *model.User, companyID *uint) bool {
	if actor.IsGroupAdmin() {
		return true
	}
	if actor.IsSubsidiaryAdmin() {
		return actor.CompanyID != nil && companyID != nil && *companyID == *actor.CompanyID
	}
	return false
}

// ===== 角色 =====

func (h *OrganizationHandler) GetOrgRoles(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	status := c.Query("status")
	if status != "" && !isOrgDimensionStatus(status) {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的状态"))
		return
	}
	companyID, includeGlobal, ok := h.resolveListScope(c, actor)
	if !ok {
		return
	}

	roles, err := h.orgs.FindRolesForAdmin(companyID, includeGlobal, status, strings.TrimSpace(c.Query("name")))
	if err != nil {
		model.HandleError(c, 500, err, "查询组织角色失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(roles))
}

// OrgDimensionRequest 角色/岗位共用的创建请求
type OrgDimensionRequest struct {
	Name      string  `json:"name" binding:"required"`
	Code      *string `json:"code"`
	CompanyID *uint   `json:"company_id"`
	Status    string  `json:"status"`
}

func (h *OrganizationHandler) CreateOrgRole(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	var req OrgDimensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, model.Error(400, "角色名称不能为空"))
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status == "" {
		status = "active"
	}
	if !isOrgDimensionStatus(status) {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的状态"))
		return
	}

	companyID, ok := h.resolveWriteCompanyID(c, actor, req.CompanyID)
	if !ok {
		return
	}
	if exists, err := h.orgs.RoleNameExists(req.Name, companyID, 0); err != nil {
		model.HandleError(c, 500, err, "检查角色名称失败")
		return
	} else if exists {
		c.JSON(http.StatusConflict, model.Error(409, "同作用域下角色名称已存在"))
		return
	}

	role := &model.OrgRole{
		Name:      req.Name,
		Code:      normalizeDimensionCode(req.Code),
		CompanyID: companyID,
		Status:    status,
		CreatedBy: actor.ID,
		UpdatedBy: actor.ID,
	}
	if err := h.orgs.CreateRole(role); err != nil {
		c.JSON(http.StatusConflict, model.Error(409, "角色编码已存在"))
		return
	}
	c.JSON(http.StatusOK, model.Success(role))
}

// UpdateOrgDimensionRequest 角色/岗位共用的更新请求
type UpdateOrgDimensionRequest struct {
	Name      *string `json:"name"`
	Code      *string `json:"code"`
	CompanyID *uint   `json:"company_id"`
	Status    *string `json:"status"`
}

func (h *OrganizationHandler) UpdateOrgRole(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	roleID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的角色ID"))
		return
	}
	role, err := h.orgs.FindRoleByID(uint(roleID))
	if err != nil {
		c.JSON(http.StatusNotFound, model.Error(404, "角色不存在"))
		return
	}
	if !canEditScope(actor, role.CompanyID) {
		c.JSON(http.StatusForbidden, model.Error(403, "无权管理该角色"))
		return
	}

	var req UpdateOrgDimensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, model.Error(400, "角色名称不能为空"))
			return
		}
		role.Name = name
	}
	if req.Code != nil {
		role.Code = normalizeDimensionCode(req.Code)
	}
	if req.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*req.Status))
		if !isOrgDimensionStatus(status) {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的状态"))
			return
		}
		role.Status = status
	}
	if req.CompanyID != nil {
		companyID, ok := h.resolveWriteCompanyID(c, actor, req.CompanyID)
		if !ok {
			return
		}
		role.CompanyID = companyID
	} else if actor.IsSubsidiaryAdmin() {
		// 子公司管理员不允许把条目改出本公司作用域
		if role.CompanyID == nil || actor.CompanyID == nil || *role.CompanyID != *actor.CompanyID {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的公司"))
			return
		}
	}

	if exists, err := h.orgs.RoleNameExists(role.Name, role.CompanyID, role.ID); err != nil {
		model.HandleError(c, 500, err, "检查角色名称失败")
		return
	} else if exists {
		c.JSON(http.StatusConflict, model.Error(409, "同作用域下角色名称已存在"))
		return
	}

	role.UpdatedBy = actor.ID
	if err := h.orgs.UpdateRole(role); err != nil {
		c.JSON(http.StatusConflict, model.Error(409, "角色编码已存在"))
		return
	}
	c.JSON(http.StatusOK, model.Success(role))
}

func (h *OrganizationHandler) DeleteOrgRole(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	roleID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的角色ID"))
		return
	}
	role, err := h.orgs.FindRoleByID(uint(roleID))
	if err != nil {
		c.JSON(http.StatusNotFound, model.Error(404, "角色不存在"))
		return
	}
	if !canEditScope(actor, role.CompanyID) {
		c.JSON(http.StatusForbidden, model.Error(403, "无权管理该角色"))
		return
	}

	if err := h.orgs.DeleteRole(role.ID); err != nil {
		model.HandleError(c, 500, err, "删除角色失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(gin.H{"id": role.ID}))
}

// ===== 岗位 =====

func (h *OrganizationHandler) GetOrgPositions(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	status := c.Query("status")
	if status != "" && !isOrgDimensionStatus(status) {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的状态"))
		return
	}
	companyID, includeGlobal, ok := h.resolveListScope(c, actor)
	if !ok {
		return
	}

	positions, err := h.orgs.FindPositionsForAdmin(companyID, includeGlobal, status, strings.TrimSpace(c.Query("name")))
	if err != nil {
		model.HandleError(c, 500, err, "查询组织岗位失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(positions))
}

func (h *OrganizationHandler) CreateOrgPosition(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	var req OrgDimensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, model.Error(400, "岗位名称不能为空"))
		return
	}
	status := strings.ToLower(strings.TrimSpace(req.Status))
	if status == "" {
		status = "active"
	}
	if !isOrgDimensionStatus(status) {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的状态"))
		return
	}

	companyID, ok := h.resolveWriteCompanyID(c, actor, req.CompanyID)
	if !ok {
		return
	}
	if exists, err := h.orgs.PositionNameExists(req.Name, companyID, 0); err != nil {
		model.HandleError(c, 500, err, "检查岗位名称失败")
		return
	} else if exists {
		c.JSON(http.StatusConflict, model.Error(409, "同作用域下岗位名称已存在"))
		return
	}

	position := &model.OrgPosition{
		Name:      req.Name,
		Code:      normalizeDimensionCode(req.Code),
		CompanyID: companyID,
		Status:    status,
		CreatedBy: actor.ID,
		UpdatedBy: actor.ID,
	}
	if err := h.orgs.CreatePosition(position); err != nil {
		c.JSON(http.StatusConflict, model.Error(409, "岗位编码已存在"))
		return
	}
	c.JSON(http.StatusOK, model.Success(position))
}

func (h *OrganizationHandler) UpdateOrgPosition(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	positionID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的岗位ID"))
		return
	}
	position, err := h.orgs.FindPositionByID(uint(positionID))
	if err != nil {
		c.JSON(http.StatusNotFound, model.Error(404, "岗位不存在"))
		return
	}
	if !canEditScope(actor, position.CompanyID) {
		c.JSON(http.StatusForbidden, model.Error(403, "无权管理该岗位"))
		return
	}

	var req UpdateOrgDimensionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, model.Error(400, "岗位名称不能为空"))
			return
		}
		position.Name = name
	}
	if req.Code != nil {
		position.Code = normalizeDimensionCode(req.Code)
	}
	if req.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*req.Status))
		if !isOrgDimensionStatus(status) {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的状态"))
			return
		}
		position.Status = status
	}
	if req.CompanyID != nil {
		companyID, ok := h.resolveWriteCompanyID(c, actor, req.CompanyID)
		if !ok {
			return
		}
		position.CompanyID = companyID
	} else if actor.IsSubsidiaryAdmin() {
		if position.CompanyID == nil || actor.CompanyID == nil || *position.CompanyID != *actor.CompanyID {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的公司"))
			return
		}
	}

	if exists, err := h.orgs.PositionNameExists(position.Name, position.CompanyID, position.ID); err != nil {
		model.HandleError(c, 500, err, "检查岗位名称失败")
		return
	} else if exists {
		c.JSON(http.StatusConflict, model.Error(409, "同作用域下岗位名称已存在"))
		return
	}

	position.UpdatedBy = actor.ID
	if err := h.orgs.UpdatePosition(position); err != nil {
		c.JSON(http.StatusConflict, model.Error(409, "岗位编码已存在"))
		return
	}
	c.JSON(http.StatusOK, model.Success(position))
}

func (h *OrganizationHandler) DeleteOrgPosition(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	positionID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的岗位ID"))
		return
	}
	position, err := h.orgs.FindPositionByID(uint(positionID))
	if err != nil {
		c.JSON(http.StatusNotFound, model.Error(404, "岗位不存在"))
		return
	}
	if !canEditScope(actor, position.CompanyID) {
		c.JSON(http.StatusForbidden, model.Error(403, "无权管理该岗位"))
		return
	}

	if err := h.orgs.DeletePosition(position.ID); err != nil {
		model.HandleError(c, 500, err, "删除岗位失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(gin.H{"id": position.ID}))
}
