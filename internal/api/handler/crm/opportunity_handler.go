package crm

import (
	"net/http"
	"strconv"
	"time"

	"github.com/fisker/zcrm-backend/internal/api/middleware"
	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func isOpportunityStage(stage string) bool {
	switch stage {
	case model.OpportunityStageLead, model.OpportunityStageQualified, model.OpportunityStageProposal,
		model.OpportunityStageNegotiation, model.OpportunityStageWon, model.OpportunityStageLost:
		return true
	}
	return false
}

func parseDate(value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// OpportunityHandler 商机管理。集团管理员跨公司，其余用户只看本公司。
type OpportunityHandler struct {
	repo      *repository.OpportunityRepository
	companies *repository.CompanyRepository
}

func NewOpportunityHandler(repo *repository.OpportunityRepository, companies *repository.CompanyRepository) *OpportunityHandler {
	return &OpportunityHandler{repo: repo, companies: companies}
}

// visible 非集团管理员只能访问本公司商机，越权一律按不存在处理
func visible(actor *model.User, opp *model.Opportunity) bool {
	if actor.IsGroupAdmin() {
		return true
	}
	return actor.CompanyID != nil && opp.CompanyID != nil && *opp.CompanyID == *actor.CompanyID
}

func (h *OpportunityHandler) GetOpportunities(c *gin.Context) {
	actor := middleware.CurrentUser(c)

	filter := repository.OpportunityFilter{
		Stage:   c.Query("stage"),
		Source:  c.Query("source"),
		Keyword: c.Query("keyword"),
	}
	if filter.Stage != "" && !isOpportunityStage(filter.Stage) {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的阶段"))
		return
	}
	if actor.IsGroupAdmin() {
		if raw := c.Query("company_id"); raw != "" {
			if id, err := strconv.ParseUint(raw, 10, 32); err == nil && id > 0 {
				value := uint(id)
				filter.CompanyID = &value
			}
		}
	} else {
		if actor.CompanyID == nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "当前用户未归属任何公司"))
			return
		}
		filter.CompanyID = actor.CompanyID
	}
	if raw := c.Query("owner_id"); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 32); err == nil && id > 0 {
			value := uint(id)
			filter.OwnerID = &value
		}
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "200"))
	if pageSize < 1 {
		pageSize = 200
	}
	if pageSize > 500 {
		pageSize = 500
	}

	opps, total, err := h.repo.FindOpportunities(filter, page, pageSize)
	if err != nil {
		model.HandleError(c, 500, err, "查询商机列表失败")
		return
	}
	summary, err := h.repo.CountByStage(filter)
	if err != nil {
		model.HandleError(c, 500, err, "统计商机失败")
		return
	}

	c.JSON(http.StatusOK, model.Success(gin.H{
		"data":      opps,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
		"summary":   summary,
	}))
}

// CreateOpportunityRequest 创建商机请求，金额走 decimal 避免浮点误差
type CreateOpportunityRequest struct {
	Name         string           `json:"name" binding:"required"`
	CustomerName string           `json:"customer_name"`
	CompanyID    *uint            `json:"company_id"`
	OwnerID      *uint            `json:"owner_id"`
	Stage        string           `json:"stage"`
	Amount       *decimal.Decimal `json:"amount"`
	Currency     string           `json:"currency"`
	ExpectedDate string           `json:"expected_date"`
	Source       string           `json:"source"`
	Remark       string           `json:"remark"`
}

func (h *OpportunityHandler) CreateOpportunity(c *gin.Context) {
	actor := middleware.CurrentUser(c)

	var req CreateOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	if req.Stage == "" {
		req.Stage = model.OpportunityStageLead
	}
	if !isOpportunityStage(req.Stage) {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的阶段"))
		return
	}

	var companyID *uint
	ownerID := actor.ID
	if actor.IsGroupAdmin() {
		if req.CompanyID == nil || *req.CompanyID == 0 {
			c.JSON(http.StatusBadRequest, model.Error(400, "请选择商机归属公司"))
			return
		}
		if _, err := h.companies.FindCompanyByID(*req.CompanyID); err != nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的公司"))
			return
		}
		companyID = req.CompanyID
		if req.OwnerID != nil && *req.OwnerID > 0 {
			ownerID = *req.OwnerID
		}
	} else {
		if actor.CompanyID == nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "当前用户未归属任何公司"))
			return
		}
		companyID = actor.CompanyID
	}

	expectedDate, err := parseDate(req.ExpectedDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的预计成交日期"))
		return
	}
	amount := decimal.Zero
	if req.Amount != nil {
		amount = *req.Amount
	}
	currency := req.Currency
	if currency == "" {
		currency = "CNY"
	}

	opp := &model.Opportunity{
		Name:         req.Name,
		CustomerName: req.CustomerName,
		CompanyID:    companyID,
		OwnerID:      ownerID,
		Stage:        req.Stage,
		Amount:       amount,
		Currency:     currency,
		ExpectedDate: expectedDate,
		Source:       req.Source,
		Remark:       req.Remark,
	}
	if err := h.repo.CreateOpportunity(opp); err != nil {
		model.HandleError(c, 500, err, "创建商机失败")
		return
	}
	c.JSON(http.StatusCreated, model.Success(opp))
}

func (h *OpportunityHandler) GetOpportunity(c *gin.Context) {
	actor := middleware.CurrentUser(c)

	oppID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的商机ID"))
		return
	}
	opp, err := h.repo.FindOpportunityByID(uint(oppID))
	if err != nil || !visible(actor, opp) {
		c.JSON(http.StatusNotFound, model.Error(404, "商机不存在"))
		return
	}
	c.JSON(http.StatusOK, model.Success(opp))
}

// UpdateOpportunityRequest 更新商机请求，指针字段区分"未提交"与"清空"
type UpdateOpportunityRequest struct {
	Name         *string          `json:"name"`
	CustomerName *string          `json:"customer_name"`
	OwnerID      *uint            `json:"owner_id"`
	Stage        *string          `json:"stage"`
	Amount       *decimal.Decimal `json:"amount"`
	Currency     *string          `json:"currency"`
	ExpectedDate *string          `json:"expected_date"`
	Source       *string          `json:"source"`
	Remark       *string          `json:"remark"`
}

func (h *OpportunityHandler) UpdateOpportunity(c *gin.Context) {
	actor := middleware.CurrentUser(c)

	oppID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的商机ID"))
		return
	}
	opp, err := h.repo.FindOpportunityByID(uint(oppID))
	if err != nil || !visible(actor, opp) {
		c.JSON(http.StatusNotFound, model.Error(404, "商机不存在"))
		return
	}

	var req UpdateOpportunityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}

	updated := false
	if req.Name != nil && *req.Name != "" {
		opp.Name = *req.Name
		updated = true
	}
	if req.CustomerName != nil {
		opp.CustomerName = *req.CustomerName
		updated = true
	}
	if req.Stage != nil {
		if !isOpportunityStage(*req.Stage) {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的阶段"))
			return
		}
		opp.Stage = *req.Stage
		updated = true
	}
	if req.Amount != nil {
		opp.Amount = *req.Amount
		updated = true
	}
	if req.Currency != nil && *req.Currency != "" {
		opp.Currency = *req.Currency
		updated = true
	}
	if req.ExpectedDate != nil {
		expectedDate, err := parseDate(*req.ExpectedDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, model.Error(400, "无效的预计成交日期"))
			return
		}
		opp.ExpectedDate = expectedDate
		updated = true
	}
	if req.Source != nil {
		opp.Source = *req.Source
		updated = true
	}
	if req.Remark != nil {
		opp.Remark = *req.Remark
		updated = true
	}
	// 负责人转移只开放给集团管理员
	if req.OwnerID != nil && *req.OwnerID > 0 && actor.IsGroupAdmin() {
		opp.OwnerID = *req.OwnerID
		updated = true
	}
	if !updated {
		c.JSON(http.StatusBadRequest, model.Error(400, "没有需要更新的字段"))
		return
	}

	if err := h.repo.UpdateOpportunity(opp); err != nil {
		model.HandleError(c, 500, err, "更新商机失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(opp))
}

// DeleteOpportunity 删除商机，仅集团管理员
func (h *OpportunityHandler) DeleteOpportunity(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	if !actor.IsGroupAdmin() {
		c.JSON(http.StatusForbidden, model.Error(403, "需要集团管理员权限"))
		return
	}

	oppID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, "无效的商机ID"))
		return
	}
	if _, err := h.repo.FindOpportunityByID(uint(oppID)); err != nil {
		c.JSON(http.StatusNotFound, model.Error(404, "商机不存在"))
		return
	}
	if err := h.repo.DeleteOpportunity(uint(oppID)); err != nil {
		model.HandleError(c, 500, err, "删除商机失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(gin.H{"id": oppID}))
}
