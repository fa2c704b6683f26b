package model

import (
	"time"

	"gorm.io/datatypes"
)

// 流程模板版本状态
const (
	VersionStatusDraft     = "draft"
	VersionStatusPublished = "published"
	VersionStatusArchived  = "archived"
)

// ApprovalProcessTemplate 审批流程模板。
// definition_json 保存当前版本的规范化图定义；一个表单模板最多绑定
// 一个流程模板（uniq_proc_tpl_form_id）。status=active 且存在已发布
// 版本时才能发起实例。
type ApprovalProcessTemplate struct {
	ID               uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Name             string         `json:"name" gorm:"type:varchar(255);not null"`
	Description      string         `json:"description" gorm:"type:varchar(500)"`
	CompanyID        *uint          `json:"company_id" gorm:"index:idx_proc_tpl_company_status"`
	FormTemplateID   uint           `json:"form_template_id" gorm:"not null;uniqueIndex:uniq_proc_tpl_form_id"`
	Definition       datatypes.JSON `json:"definition" gorm:"column:steps_json;type:json;not null"`
	CurrentVersion   int            `json:"current_version" gorm:"not null;default:1"`
	PublishedVersion *int           `json:"published_version"`
	Status           string         `json:"status" gorm:"type:varchar(20);default:'inactive';index:idx_proc_tpl_company_status"` // active, inactive
	CreatedBy        uint           `json:"created_by" gorm:"not null"`
	UpdatedBy        uint           `json:"updated_by" gorm:"not null"`
	CreatedAt        time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"autoUpdateTime"`

	FormTemplate *ApprovalFormTemplate `json:"form_template,omitempty" gorm:"foreignKey:FormTemplateID"`
}

func (ApprovalProcessTemplate) TableName() string {
	return "approval_process_templates"
}

// ApprovalProcessTemplateVersion 流程模板的历史版本。
// 同一模板同时只有一个 published 版本，发布新版本时旧版本转 archived。
type ApprovalProcessTemplateVersion struct {
	ID                uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	ProcessTemplateID uint           `json:"process_template_id" gorm:"not null;uniqueIndex:uniq_proc_tpl_version;index:idx_proc_tpl_version_status"`
	VersionNo         int            `json:"version_no" gorm:"not null;uniqueIndex:uniq_proc_tpl_version"`
	FormTemplateID    uint           `json:"form_template_id" gorm:"not null"`
	Definition        datatypes.JSON `json:"definition" gorm:"column:definition_json;type:json;not null"`
	Status            string         `json:"status" gorm:"type:varchar(20);default:'draft';index:idx_proc_tpl_version_status"` // draft, published, archived
	PublishedAt       *time.Time     `json:"published_at" gorm:"type:timestamp"`
	CreatedBy         uint           `json:"created_by" gorm:"not null"`
	UpdatedBy         uint           `json:"updated_by" gorm:"not null"`
	CreatedAt         time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt         time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ApprovalProcessTemplateVersion) TableName() string {
	return "approval_process_template_versions"
}
