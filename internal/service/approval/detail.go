package approval

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/workflow"
	"gorm.io/gorm"
)

// TaskView 审批任务视图
type TaskView struct {
	ID           uint       `json:"id"`
	InstanceID   uint       `json:"instance_id"`
	StepNo       int        `json:"step_no"`
	StepName     string     `json:"step_name"`
	ApprovalMode string     `json:"approval_mode"`
	ApproverID   uint       `json:"approver_id"`
	ApproverName string     `json:"approver_name,omitempty"`
	Status       string     `json:"status"`
	Decision     string     `json:"decision,omitempty"`
	Comment      string     `json:"comment,omitempty"`
	ActedAt      *time.Time `json:"acted_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// EventView 审批流水视图
type EventView struct {
	ID        uint      `json:"id"`
	TaskID    *uint     `json:"task_id,omitempty"`
	UserID    uint      `json:"user_id"`
	UserName  string    `json:"user_name,omitempty"`
	Action    string    `json:"action"`
	Comment   string    `json:"comment,omitempty"`
	Detail    any       `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InstanceSummary 实例列表项
type InstanceSummary struct {
	ID                uint       `json:"id"`
	ProcessTemplateID uint       `json:"process_template_id"`
	FormTemplateID    uint       `json:"form_template_id"`
	ProcessName       string     `json:"process_name"`
	Title             string     `json:"title"`
	CompanyID         *uint      `json:"company_id"`
	CompanyName       string     `json:"company_name,omitempty"`
	ApplicantID       uint       `json:"applicant_id"`
	ApplicantName     string     `json:"applicant_name,omitempty"`
	Status            string     `json:"status"`
	CurrentStep       int        `json:"current_step"`
	TotalSteps        int        `json:"total_steps"`
	CurrentStepName   string     `json:"current_step_name,omitempty"`
	CurrentNodeID     string     `json:"current_node_id,omitempty"`
	PendingAction     bool       `json:"pending_action"`
	FinishedAt        *time.Time `json:"finished_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// InstanceDetail 实例详情：表单快照按查看者在当前节点的字段权限过滤
type InstanceDetail struct {
	InstanceSummary
	FormSchema       []map[string]any               `json:"form_schema"`
	FormData         map[string]any                 `json:"form_data"`
	Tasks            []TaskView                     `json:"tasks"`
	Events           []EventView                    `json:"events"`
	FieldPermissions map[string]effectivePermission `json:"field_permissions,omitempty"`
}

func summarize(instance *model.ApprovalInstance, pendingAction bool) InstanceSummary {
	summary := InstanceSummary{
		ID:                instance.ID,
		ProcessTemplateID: instance.ProcessTemplateID,
		FormTemplateID:    instance.FormTemplateID,
		ProcessName:       instance.ProcessName,
		Title:             instance.Title,
		CompanyID:         instance.CompanyID,
		ApplicantID:       instance.ApplicantID,
		Status:            instance.Status,
		CurrentStep:       instance.CurrentStep,
		TotalSteps:        instance.TotalSteps,
		CurrentStepName:   instance.CurrentStepName,
		CurrentNodeID:     instance.CurrentNodeID,
		PendingAction:     pendingAction,
		FinishedAt:        instance.FinishedAt,
		CreatedAt:         instance.CreatedAt,
		UpdatedAt:         instance.UpdatedAt,
	}
	if instance.Company != nil {
		summary.CompanyName = instance.Company.Name
	}
	if instance.Applicant != nil {
		summary.ApplicantName = instance.Applicant.Name
	}
	return summary
}

// canAccessInstance 集团管理员、申请人和任一步骤的审批人可以看实例
func canAccessInstance(viewer *model.User, instance *model.ApprovalInstance, hasTaskAccess bool) bool {
	if viewer.IsGroupAdmin() {
		return true
	}
	if instance.ApplicantID == viewer.ID {
		return true
	}
	return hasTaskAccess
}

// buildDetail 组装实例详情。查看者在当前节点持有 pending 任务时，
// 表单 schema 与数据按节点字段权限过滤；can_view=false 的字段对其不可见。
func (s *Service) buildDetail(tx *gorm.DB, instanceID uint, viewer *model.User) (*InstanceDetail, error) {
	var instance model.ApprovalInstance
	err := tx.Preload("Applicant").Preload("Company").First(&instance, instanceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, err
	}

	var tasks []model.ApprovalInstanceTask
	if err := tx.Preload("Approver").
		Where("instance_id = ?", instanceID).
		Order("step_no ASC, id ASC").Find(&tasks).Error; err != nil {
		return nil, err
	}

	hasTaskAccess := false
	pendingCurrentTask := false
	for _, task := range tasks {
		if task.ApproverID != viewer.ID {
			continue
		}
		hasTaskAccess = true
		if task.StepNo == instance.CurrentStep && task.Status == model.TaskStatusPending {
			pendingCurrentTask = true
		}
	}

	if !canAccessInstance(viewer, &instance, hasTaskAccess) {
		return nil, errNotFound
	}

	var events []model.ApprovalInstanceEvent
	if err := tx.Preload("User").
		Where("instance_id = ?", instanceID).
		Order("id DESC").Find(&events).Error; err != nil {
		return nil, err
	}

	detail := &InstanceDetail{
		InstanceSummary: summarize(&instance, pendingCurrentTask),
		FormData:        loadInstanceFormData(&instance),
		Tasks:           make([]TaskView, 0, len(tasks)),
		Events:          make([]EventView, 0, len(events)),
	}
	if len(instance.FormSchema) > 0 {
		_ = json.Unmarshal(instance.FormSchema, &detail.FormSchema)
	}
	if detail.FormSchema == nil {
		detail.FormSchema = []map[string]any{}
	}

	for _, task := range tasks {
		view := TaskView{
			ID:           task.ID,
			InstanceID:   task.InstanceID,
			StepNo:       task.StepNo,
			StepName:     task.StepName,
			ApprovalMode: task.ApprovalMode,
			ApproverID:   task.ApproverID,
			Status:       task.Status,
			Decision:     task.Decision,
			Comment:      task.Comment,
			ActedAt:      task.ActedAt,
			CreatedAt:    task.CreatedAt,
		}
		if task.Approver != nil {
			view.ApproverName = task.Approver.Name
		}
		detail.Tasks = append(detail.Tasks, view)
	}

	for _, event := range events {
		view := EventView{
			ID:        event.ID,
			TaskID:    event.TaskID,
			UserID:    event.UserID,
			Action:    event.Action,
			Comment:   event.Comment,
			CreatedAt: event.CreatedAt,
		}
		if event.User != nil {
			view.UserName = event.User.Name
		}
		if len(event.Detail) > 0 {
			var parsed any
			if err := json.Unmarshal(event.Detail, &parsed); err == nil {
				view.Detail = parsed
			}
		}
		detail.Events = append(detail.Events, view)
	}

	s.applyFieldPermissions(detail, &instance, pendingCurrentTask)
	return detail, nil
}

// applyFieldPermissions 当前节点配置了字段权限时计算生效权限，
// 并在查看者是当前待审人时过滤 schema 与数据
func (s *Service) applyFieldPermissions(detail *InstanceDetail, instance *model.ApprovalInstance, pendingCurrentTask bool) {
	node := currentNode(instance, nil)
	if node == nil || len(node.FieldPermissions) == 0 {
		return
	}
	permissionMap := buildFieldPermissionMap(node.FieldPermissions)
	if len(permissionMap) == 0 {
		return
	}

	effective := map[string]effectivePermission{}
	filteredSchema := make([]map[string]any, 0, len(detail.FormSchema))
	filteredData := map[string]any{}

	for _, field := range detail.FormSchema {
		fieldKey, _ := field["key"].(string)
		if fieldKey == "" {
			continue
		}
		permission, ok := permissionMap[fieldKey]
		if !ok {
			permission = effectivePermission{CanView: true}
		}
		effective[fieldKey] = permission

		if pendingCurrentTask && !permission.CanView {
			continue
		}
		fieldCopy := make(map[string]any, len(field))
		for k, v := range field {
			fieldCopy[k] = v
		}
		if pendingCurrentTask {
			fieldCopy["can_edit"] = permission.CanEdit
			required, _ := fieldCopy["required"].(bool)
			fieldCopy["required"] = permission.Required || required
		}
		filteredSchema = append(filteredSchema, fieldCopy)

		if value, ok := detail.FormData[fieldKey]; ok {
			if !pendingCurrentTask || permission.CanView {
				filteredData[fieldKey] = value
			}
		}
	}

	if pendingCurrentTask {
		detail.FormSchema = filteredSchema
		detail.FormData = filteredData
	}
	detail.FieldPermissions = effective
}

// editableFieldKeys 当前节点允许审批人改写的字段集合
func editableFieldKeys(node *workflow.Node) map[string]bool {
	if node == nil {
		return nil
	}
	keys := map[string]bool{}
	for key, permission := range buildFieldPermissionMap(node.FieldPermissions) {
		if permission.CanEdit {
			keys[key] = true
		}
	}
	return keys
}
