package model

import (
	"time"

	"gorm.io/datatypes"
)

// 审批实例状态
const (
	InstanceStatusPending   = "pending"
	InstanceStatusApproved  = "approved"
	InstanceStatusRejected  = "rejected"
	InstanceStatusWithdrawn = "withdrawn"
)

// 审批任务状态
const (
	TaskStatusPending  = "pending"
	TaskStatusWaiting  = "waiting" // 依次审批中排队的任务
	TaskStatusApproved = "approved"
	TaskStatusRejected = "rejected"
	TaskStatusSkipped  = "skipped"
)

// 审批动作
const (
	ActionApprove  = "approve"
	ActionReject   = "reject"
	ActionWithdraw = "withdraw"
	ActionReturn   = "return"
	ActionTransfer = "transfer"
	ActionAddSign  = "add_sign"
	ActionRemind   = "remind"
)

// ApprovalInstance 审批实例。
// 发起时把流程定义与表单 schema 快照进实例，之后模板变更不影响在途单。
type ApprovalInstance struct {
	ID                uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	ProcessTemplateID uint           `json:"process_template_id" gorm:"not null;index:idx_instance_process"`
	FormTemplateID    uint           `json:"form_template_id" gorm:"not null"`
	ProcessName       string         `json:"process_name" gorm:"type:varchar(255);not null"`
	Title             string         `json:"title" gorm:"type:varchar(255);not null"`
	CompanyID         *uint          `json:"company_id" gorm:"index:idx_instance_company"`
	ApplicantID       uint           `json:"applicant_id" gorm:"not null;index:idx_instance_applicant"`
	ProcessSnapshot   datatypes.JSON `json:"process_snapshot" gorm:"column:process_snapshot_json;type:json;not null"`
	FormSchema        datatypes.JSON `json:"form_schema" gorm:"column:form_schema_json;type:json;not null"`
	FormData          datatypes.JSON `json:"form_data" gorm:"column:form_data_json;type:json;not null"`
	Status            string         `json:"status" gorm:"type:varchar(20);default:'pending';index:idx_instance_status"`
	CurrentStep       int            `json:"current_step" gorm:"not null;default:1"`
	TotalSteps        int            `json:"total_steps" gorm:"not null;default:1"`
	CurrentStepName   string         `json:"current_step_name" gorm:"type:varchar(255)"`
	CurrentNodeID     string         `json:"current_node_id" gorm:"type:varchar(64)"`
	FinishedAt        *time.Time     `json:"finished_at" gorm:"type:timestamp"`
	CreatedAt         time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"autoUpdateTime"`

	Applicant *User    `json:"applicant,omitempty" gorm:"foreignKey:ApplicantID"`
	Company   *Company `json:"company,omitempty" gorm:"foreignKey:CompanyID"`
}

func (ApprovalInstance) TableName() string {
	return "approval_instances"
}

// IsFinished 终态实例不再接受除 remind 之外的动作
func (i *ApprovalInstance) IsFinished() bool {
	return i.Status != InstanceStatusPending
}

// ApprovalInstanceTask 单个审批人在某一步的任务。
// 同一实例同一步骤同一审批人唯一。
type ApprovalInstanceTask struct {
	ID           uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	InstanceID   uint       `json:"instance_id" gorm:"not null;uniqueIndex:uniq_instance_step_approver;index:idx_task_instance_step"`
	StepNo       int        `json:"step_no" gorm:"not null;uniqueIndex:uniq_instance_step_approver;index:idx_task_instance_step"`
	StepName     string     `json:"step_name" gorm:"type:varchar(255);not null"`
	ApprovalMode string     `json:"approval_mode" gorm:"type:varchar(10);default:'any'"` // any, all
	ApproverID   uint       `json:"approver_id" gorm:"not null;uniqueIndex:uniq_instance_step_approver;index:idx_task_approver_status"`
	Status       string     `json:"status" gorm:"type:varchar(20);default:'pending';index:idx_task_approver_status"`
	Decision     string     `json:"decision" gorm:"type:varchar(10)"` // approve, reject
	Comment      string     `json:"comment" gorm:"type:text"`
	ActedAt      *time.Time `json:"acted_at" gorm:"type:timestamp"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	Approver *User `json:"approver,omitempty" gorm:"foreignKey:ApproverID"`
}

func (ApprovalInstanceTask) TableName() string {
	return "approval_instance_tasks"
}

// ApprovalInstanceEvent 审批流水，只追加不修改
type ApprovalInstanceEvent struct {
	ID         uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	InstanceID uint           `json:"instance_id" gorm:"not null;index:idx_instance_event_instance"`
	TaskID     *uint          `json:"task_id"`
	UserID     uint           `json:"user_id" gorm:"not null"`
	Action     string         `json:"action" gorm:"type:varchar(32);not null;index:idx_instance_event_action"`
	Detail     datatypes.JSON `json:"detail" gorm:"column:detail_json;type:json"`
	Comment    string         `json:"comment" gorm:"type:text"`
	CreatedAt  time.Time      `json:"created_at" gorm:"autoCreateTime;index:idx_instance_event_instance"`

	User *User `json:"user,omitempty" gorm:"foreignKey:UserID"`
}

func (ApprovalInstanceEvent) TableName() string {
	return "approval_instance_events"
}

// ApprovalActionIdempotency 审批动作幂等记录。
// (idem_key, instance_id, actor_id, action) 唯一，重复提交直接回放
// 缓存的响应体。
type ApprovalActionIdempotency struct {
	ID         uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	IdemKey    string         `json:"idem_key" gorm:"column:idem_key;type:varchar(128);not null;uniqueIndex:uniq_action_idem"`
	InstanceID uint           `json:"instance_id" gorm:"not null;uniqueIndex:uniq_action_idem"`
	ActorID    uint           `json:"actor_id" gorm:"not null;uniqueIndex:uniq_action_idem"`
	Action     string         `json:"action" gorm:"type:varchar(32);not null;uniqueIndex:uniq_action_idem"`
	Response   datatypes.JSON `json:"response" gorm:"column:response_json;type:json"`
	StatusCode int            `json:"status_code" gorm:"not null;default:200"`
	CreatedAt  time.Time      `json:"created_at" gorm:"autoCreateTime;index:idx_action_idem_created"`
	UpdatedAt  time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ApprovalActionIdempotency) TableName() string {
	return "approval_action_idempotency"
}
