package approval

import (
	"net/http"

	"github.com/fisker/zcrm-backend/internal/api/middleware"
	"github.com/fisker/zcrm-backend/internal/model"
	approvalService "github.com/fisker/zcrm-backend/internal/service/approval"
	"github.com/gin-gonic/gin"
)

// InstanceHandler 审批实例：发起、查询与审批动作
type InstanceHandler struct {
	service *approvalService.Service
}

func NewInstanceHandler(service *approvalService.Service) *InstanceHandler {
	return &InstanceHandler{service: service}
}

// GetInstances 实例列表，scope=mine/pending/all
func (h *InstanceHandler) GetInstances(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	page, pageSize := parsePageQuery(c)

	instances, total, err := h.service.ListInstances(viewer, c.Query("scope"), c.Query("status"), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(gin.H{
		"data":  instances,
		"total": total,
	}))
}

func (h *InstanceHandler) CreateInstance(c *gin.Context) {
	user := middleware.CurrentUser(c)
	var req approvalService.CreateInstanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}
	detail, err := h.service.CreateInstance(user, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, model.Success(detail))
}

func (h *InstanceHandler) GetInstance(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	instanceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	detail, err := h.service.GetInstance(instanceID, viewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, model.Success(detail))
}

// HandleAction 执行审批动作。带 Idempotency-Key 时同一动作重复提交
// 直接回放首次执行的响应。
func (h *InstanceHandler) HandleAction(c *gin.Context) {
	actor := middleware.CurrentUser(c)
	instanceID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	var req approvalService.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.Error(400, err.Error()))
		return
	}

	result, err := h.service.HandleAction(instanceID, actor, &req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		respondError(c, err)
		return
	}
	if result.Replayed {
		c.JSON(result.StatusCode, model.Success(result.Response))
		return
	}
	c.JSON(http.StatusOK, model.Success(result.Detail))
}

// GetPendingCount 待办角标数
func (h *InstanceHandler) GetPendingCount(c *gin.Context) {
	viewer := middleware.CurrentUser(c)
	count, err := h.service.CountPendingTasks(viewer.ID)
	if err != nil {
		model.HandleError(c, 500, err, "统计待办失败")
		return
	}
	c.JSON(http.StatusOK, model.Success(gin.H{"count": count}))
}
