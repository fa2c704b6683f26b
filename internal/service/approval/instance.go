package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/workflow"
	"gorm.io/gorm"
)

// CreateInstanceRequest 发起审批请求
type CreateInstanceRequest struct {
	ProcessTemplateID uint           `json:"process_template_id" binding:"required"`
	Title             string         `json:"title"`
	FormData          map[string]any `json:"form_data"`
}

// CreateInstance 发起审批实例。
// 模板必须 active 且有已发布版本；表单数据按表单模板校验并规范化；
// 流程定义、表单 schema、表单数据全部快照进实例，创建后立即从
// 开始节点路由到第一个审批节点。
func (s *Service) CreateInstance(user *model.User, req *CreateInstanceRequest) (*InstanceDetail, error) {
	tpl, err := s.processTpls.FindProcessTemplateByID(req.ProcessTemplateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errInvalidProcessTpl
		}
		return nil, err
	}
	if tpl.Status != "active" {
		return nil, errProcessTplInactive
	}
	if tpl.PublishedVersion == nil || *tpl.PublishedVersion <= 0 {
		return nil, errProcessTplNoPublished
	}

	if !user.IsGroupAdmin() {
		if tpl.CompanyID != nil && (user.CompanyID == nil || *tpl.CompanyID != *user.CompanyID) {
			return nil, errForbidden
		}
	}

	version, err := s.processTpls.FindVersion(tpl.ID, *tpl.PublishedVersion)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errProcessTplNoPublished
		}
		return nil, err
	}

	formTpl, err := s.formTpls.FindFormTemplateByID(version.FormTemplateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errInvalidFormTpl
		}
		return nil, err
	}

	var schema []workflow.FormField
	if err := json.Unmarshal(formTpl.Schema, &schema); err != nil {
		return nil, errInvalidFormSchema
	}

	formData := req.FormData
	if formData == nil {
		formData = map[string]any{}
	}
	normalizedFormData, err := workflow.ValidateFormData(schema, formData)
	if err != nil {
		return nil, newError(err.Error(), http.StatusBadRequest)
	}

	var rawDefinition any
	if err := json.Unmarshal(version.Definition, &rawDefinition); err != nil {
		return nil, errInvalidProcessSteps
	}
	definition, err := workflow.NormalizeDefinition(rawDefinition)
	if err != nil || len(definition.Nodes) == 0 {
		return nil, errInvalidProcessSteps
	}
	validation := workflow.ValidateDefinition(definition)
	if !validation.Valid {
		return nil, newErrorWithDetails(validation.Errors[0].Code, http.StatusBadRequest, validation.Errors)
	}

	instanceCompanyID := tpl.CompanyID
	if instanceCompanyID == nil {
		instanceCompanyID = user.CompanyID
	}

	title := req.Title
	if title == "" {
		title = fmt.Sprintf("%s - %s", tpl.Name, time.Now().Format("2006-01-02 15:04"))
	}

	snapshot := map[string]any{
		"id":         tpl.ID,
		"name":       tpl.Name,
		"version":    *tpl.PublishedVersion,
		"definition": definition,
	}

	instance := &model.ApprovalInstance{
		ProcessTemplateID: tpl.ID,
		FormTemplateID:    version.FormTemplateID,
		ProcessName:       tpl.Name,
		Title:             title,
		CompanyID:         instanceCompanyID,
		ApplicantID:       user.ID,
		ProcessSnapshot:   marshalJSON(snapshot),
		FormSchema:        marshalJSON(schema),
		FormData:          marshalJSON(normalizedFormData),
		Status:            model.InstanceStatusPending,
		CurrentStep:       0,
		TotalSteps:        len(workflow.ExtractSteps(definition)),
		CurrentNodeID:     definition.StartNodeID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.approvals.CreateInstance(tx, instance); err != nil {
			return err
		}
		_, err := s.engine.RouteForward(tx, instance, definition.StartNodeID)
		return err
	})
	if err != nil {
		return nil, err
	}

	return s.buildDetail(s.db, instance.ID, user)
}

// GetInstance 实例详情，无权限按不存在处理
func (s *Service) GetInstance(instanceID uint, viewer *model.User) (*InstanceDetail, error) {
	return s.buildDetail(s.db, instanceID, viewer)
}

// ListInstances 实例列表。
// scope=mine 我发起的，pending 我的待办，all 全部；
// 非管理员的 all 只含自己发起或参与审批的实例。
func (s *Service) ListInstances(viewer *model.User, scope, status string, page, pageSize int) ([]InstanceSummary, int64, error) {
	if scope == "" {
		scope = "all"
	}
	switch scope {
	case "all", "mine", "pending":
	default:
		return nil, 0, errInvalidScope
	}
	if status != "" {
		switch status {
		case model.InstanceStatusPending, model.InstanceStatusApproved,
			model.InstanceStatusRejected, model.InstanceStatusWithdrawn:
		default:
			return nil, 0, errInvalidStatus
		}
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 20
	}

	query := s.db.Model(&model.ApprovalInstance{})
	switch scope {
	case "mine":
		query = query.Where("applicant_id = ?", viewer.ID)
	case "pending":
		query = query.Where("id IN (?)", s.db.Model(&model.ApprovalInstanceTask{}).
			Select("instance_id").
			Where("approver_id = ? AND status = ?", viewer.ID, model.TaskStatusPending))
	default:
		if !viewer.IsGroupAdmin() {
			query = query.Where("applicant_id = ? OR id IN (?)", viewer.ID,
				s.db.Model(&model.ApprovalInstanceTask{}).
					Select("instance_id").
					Where("approver_id = ?", viewer.ID))
		}
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var instances []model.ApprovalInstance
	offset := (page - 1) * pageSize
	if err := query.Preload("Applicant").Preload("Company").
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(pageSize).Find(&instances).Error; err != nil {
		return nil, 0, err
	}

	pendingIDs, err := s.pendingInstanceIDs(viewer.ID, instances)
	if err != nil {
		return nil, 0, err
	}

	summaries := make([]InstanceSummary, 0, len(instances))
	for i := range instances {
		summaries = append(summaries, summarize(&instances[i], pendingIDs[instances[i].ID]))
	}
	return summaries, total, nil
}

// pendingInstanceIDs 当前页里查看者有待审任务的实例集合
func (s *Service) pendingInstanceIDs(viewerID uint, instances []model.ApprovalInstance) (map[uint]bool, error) {
	if len(instances) == 0 {
		return map[uint]bool{}, nil
	}
	ids := make([]uint, 0, len(instances))
	for i := range instances {
		ids = append(ids, instances[i].ID)
	}
	var pending []uint
	err := s.db.Model(&model.ApprovalInstanceTask{}).
		Where("approver_id = ? AND status = ? AND instance_id IN ?",
			viewerID, model.TaskStatusPending, ids).
		Pluck("instance_id", &pending).Error
	if err != nil {
		return nil, err
	}
	result := make(map[uint]bool, len(pending))
	for _, id := range pending {
		result[id] = true
	}
	return result, nil
}
