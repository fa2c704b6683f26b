package system

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/fisker/zcrm-backend/internal/api/middleware"
	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/repository"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func isCompanyStatus(status string) bool {
	return status == "active" || status == "inactive"
}

// CompanyHandler 子公司管理。查询开放给两级管理员，写操作仅集团管理员。
type CompanyHandler struct {
	repo *repository.CompanyRepository
}

func NewCompanyHandler(repo *repository.CompanyRepository) *CompanyHandler {
	return &CompanyHandler{repo: repo}
}

// GetCompanies 公司列表。子公司管理员只能看到自己的公司。
func (h *CompanyHandler) GetCompanies(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要管理员权限"))
		return
	}

	filter := repository.CompanyFilter{
		Status: c.Query("status"),
		Name:   c.Query("name"),
		Code:   c.Query("code"),
	}
	if filter.Status != "" && !isCompanyStatus(filter.Status) {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的状态"))
		return
	}
	if raw := c.Query("parent_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的上级公司ID"))
			return
		}
		value := uint(id)
		filter.ParentID = &value
	}
	if actor.IsSubsidiaryAdmin() {
		if actor.CompanyID == nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "当前管理员未归属任何公司"))
			return
		}
		filter.IDs = []uint{*actor.CompanyID}
	}

	companies, err := h.repo.FindCompanies(filter)
	if err != nil {
		model.HandleError(c, 500, err, "查询公司列表失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(companies))
}

// CreateCompanyRequest 创建公司请求，parent_id 为 0 等同顶级
type CreateCompanyRequest struct {
	Name     string  `json:"name" binding:"required"`
	Code     *string `json:"code"`
	ParentID *uint   `json:"parent_id"`
	Status   string  `json:"status"`
}

func (h *CompanyHandler) CreateCompany(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsGroupAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要集团管理员权限"))
		return
	}

	var req CreateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	if req.Status == "" {
		req.Status = "active"
	}
	if !isCompanyStatus(req.Status) {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的状态"))
		return
	}
	if req.ParentID != nil && *req.ParentID == 0 {
		req.ParentID = nil
	}
	if req.ParentID != nil {
		if _, err := h.repo.FindCompanyByID(*req.ParentID); err != nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的上级公司"))
			return
		}
	}
	if req.Code != nil && strings.TrimSpace(*req.Code) == "" {
		req.Code = nil
	}

	if _, err := h.repo.FindCompanyByName(req.Name); err == nil {
		c.JSON(http.StatusConflict, model.Error(409, "公司名称已存在"))
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		model.HandleError(c, 500, err, "检查公司名称失败")
		return
	}

	company := &model.Company{
		Name:     req.Name,
		Code:     req.Code,
		ParentID: req.ParentID,
		Status:   req.Status,
	}
	if err := h.repo.CreateCompany(company); err != nil {
		c.JSON(http.StatusConflict, model.Error(409, "公司编码已存在"))
		return
	}
	c.JSON(http.StatusOK, model.Success(company))
}

// UpdateCompanyRequest 更新公司请求，指针字段区分"未提交"与"清空"
type UpdateCompanyRequest struct {
	Name     *string `json:"name"`
	Code     *string `json:"code"`
	ParentID *uint   `json:"parent_id"`
	Status   *string `json:"status"`
}

func (h *CompanyHandler) UpdateCompany(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsGroupAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要集团管理员权限"))
		return
	}

	companyID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的公司ID"))
		return
	}
	company, err := h.repo.FindCompanyByID(uint(companyID))
	if err != nil {
		c.JSON(http.StatusNotFound, model.Error(404, "公司不存在"))
		return
	}

	var req UpdateCompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}

	updated := false
	if req.Name != nil && *req.Name != "" {
		company.Name = *req.Name
		updated = true
	}
	if req.Code != nil {
		if strings.TrimSpace(*req.Code) == "" {
			company.Code = nil
		} else {
			company.Code = req.Code
		}
		updated = true
	}
	if req.Status != nil {
		if !isCompanyStatus(*req.Status) {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的状态"))
			return
		}
		company.Status = *req.Status
		updated = true
	}
	if req.ParentID != nil {
		if *req.ParentID == uint(companyID) {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的上级公司"))
			return
		}
		if *req.ParentID == 0 {
			company.ParentID = nil
		} else {
			if _, err := h.repo.FindCompanyByID(*req.ParentID); err != nil {
				c.JSON(http.StatusBadRequest, model.Error(400, "无效的上级公司"))
				return
			}
			company.ParentID = req.ParentID
		}
		updated = true
	}
	if !updated {
		c.JSON(http.StatusBadRequest, model.Error(400, "没有需要更新的字段"))
		return
	}

	if err := h.repo.UpdateCompany(company); err != nil {
		c.JSON(http.StatusConflict, model.Error(409, "公司编码已存在"))
		return
	}
	c.JSON(http.StatusOK, model.Success(company))
}

// DeleteCompany 删除公司。有下级公司、成员或商机时拒绝。
func (h *CompanyHandler) DeleteCompany(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if actor == nil || !actor.IsGroupAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要集团管理员权限"))
		return
	}

	companyID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的公司ID"))
		return
	}
	if _, err := h.repo.FindCompanyByID(uint(companyID)); err != nil {
		c.JSON(http.StatusNotFound, model.Error(404, "公司不存在"))
		return
	}

	if has, err := h.repo.HasChildCompanies(uint(companyID)); err != nil {
		model.HandleError(c, 500, err, "检查下级公司失败")
		return
	} else if has {
		c.JSON(http.StatusBadRequest, model.Error(400, "公司下存在下级公司，无法删除"))
		return
	}
	if has, err := h.repo.HasUsers(uint(companyID)); err != nil {
		model.HandleError(c, 500, err, "检查公司成员失败")
		return
	} else if has {
		c.JSON(http.StatusBadRequest, model.Error(400, "公司下存在成员，无法删除"))
		return
	}
	if has, err := h.repo.HasOpportunities(uint(companyID)); err != nil {
		model.HandleError(c, 500, err, "检查公司商机失败")
		return
	} else if has {
		c.JSON(http.StatusBadRequest, model.Error(400, "公司下存在商机，无法删除"))
		return
	}

	if err := h.repo.DeleteCompany(uint(companyID)); err != nil {
		model.HandleError(c, 500, err, "删除公司失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(gin.H{"id": companyID}))
}
