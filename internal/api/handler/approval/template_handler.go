package approval

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/fisker/zcrm-backend/internal/api/middleware"
	"github.com/fisker/zcrm-backend/internal/model"
	approvalService "github.com/fisker/zcrm-backend/internal/service/approval"
	"github.com/gin-gonic/gin"
)

// respondError 把审批域业务错误翻译成统一响应：
// Message 放错误码，Data 放附加明细（比如校验失败的 issue 列表）。
func respondError(c *gin.Context, err error) {
	svcErr := approvalService.AsError(err)
	if svcErr.Code == "internal_error" {
		model.HandleError(c, svcErr.Status, err, "审批服务内部错误")
		return
	}
	c.JSON(svcErr.Status, model.Response{
		Code:    svcErr.Status,
		Message: svcErr.Code,
		Data:    svcErr.Details,
	})
}

func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的ID"))
		return 0, false
	}
	return uint(id), true
}

func parsePageQuery(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// parseCompanyQuery company_id=0 表示只查集团级模板
func parseCompanyQuery(c *gin.Context) (*uint, bool) {
	raw := c.Query("company_id")
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的公司"))
		return nil, false
	}
	value := uint(id)
	return &value, true
}

// TemplateHandler 表单模板与流程模板管理
type TemplateHandler struct {
	service *approvalService.Service
}

func NewTemplateHandler(service *approvalService.Service) *TemplateHandler {
	return &TemplateHandler{service: service}
}

// ===== 表单模板 =====

func (h *TemplateHandler) GetFormTemplates(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	companyID, ok := parseCompanyQuery(c)
	if !ok {
		return
	}
	page, pageSize := parsePageQuery(c)

	templates, total, err := h.service.ListFormTemplates(viewer, c.Query("status"), companyID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(gin.H{
		"data":  templates,
		"total": total,
	}))
}

func (h *TemplateHandler) GetFormTemplate(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	templateID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	tpl, err := h.service.GetFormTemplate(viewer, templateID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(tpl))
}

func (h *TemplateHandler) CreateFormTemplate(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req approvalService.CreateFormTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	tpl, err := h.service.CreateFormTemplate(user, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model.Success(tpl))
}

func (h *TemplateHandler) UpdateFormTemplate(c *gin.Context) {
	user := middleware.CurrentUser(c)
	templateID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req approvalService.UpdateFormTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	tpl, err := h.service.UpdateFormTemplate(user, templateID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(tpl))
}

// ===== 流程模板 =====

func (h *TemplateHandler) GetProcessTemplates(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	companyID, ok := parseCompanyQuery(c)
	if !ok {
		return
	}
	page, pageSize := parsePageQuery(c)

	templates, total, err := h.service.ListProcessTemplates(viewer, c.Query("status"), companyID, page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(gin.H{
		"data":  templates,
		"total": total,
	}))
}

func (h *TemplateHandler) GetProcessTemplate(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	templateID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	tpl, err := h.service.GetProcessTemplate(viewer, templateID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(tpl))
}

func (h *TemplateHandler) GetProcessTemplateVersions(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	templateID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	versions, err := h.service.ListProcessTemplateVersions(viewer, templateID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(versions))
}

func (h *TemplateHandler) CreateProcessTemplate(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req approvalService.CreateProcessTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	tpl, err := h.service.CreateProcessTemplate(user, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model.Success(tpl))
}

func (h *TemplateHandler) UpdateProcessTemplate(c *gin.Context) {
	user := middleware.CurrentUser(c)
	templateID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req approvalService.UpdateProcessTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	tpl, err := h.service.UpdateProcessTemplate(user, templateID, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(tpl))
}

// ValidateProcessDefinitionRequest 流程定义校验请求。
// definition 与 steps 二选一，definition 优先。
type ValidateProcessDefinitionRequest struct {
	Definition json.RawMessage `json:"definition"`
	Steps      json.RawMessage `json:"steps"`
}

// ValidateProcessDefinition 流程定义预校验，不落库。
// 格式错误也按 200 返回 valid=false，方便前端设计器直接渲染。
func (h *TemplateHandler) ValidateProcessDefinition(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req ValidateProcessDefinitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	payload := req.Definition
	if len(payload) == 0 {
		payload = req.Steps
	}
	result, err := h.service.ValidateProcessDefinition(user, payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(result))
}

// ValidateExpressionRequest 条件表达式校验请求，
// 带 form_data 时顺便返回表达式对这份数据的求值结果。
type ValidateExpressionRequest struct {
	Expression string         `json:"expression"`
	FormData   map[string]any `json:"form_data"`
}

func (h *TemplateHandler) ValidateConditionExpression(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req ValidateExpressionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	result, err := h.service.ValidateConditionExpression(user, req.Expression, req.FormData)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(result))
}
