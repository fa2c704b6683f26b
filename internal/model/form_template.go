package model

import (
	"time"

	"gorm.io/datatypes"
)

// ApprovalFormTemplate 审批表单模板，schema 为规范化后的字段定义数组
type ApprovalFormTemplate struct {
	ID          uint           `json:"id" gorm:"primaryKey;autoIncrement"`
	Name        string         `json:"name" gorm:"type:varchar(255);not null"`
	Description string         `json:"description" gorm:"type:varchar(500)"`
	CompanyID   *uint          `json:"company_id" gorm:"index:idx_form_tpl_company_status"`
	Schema      datatypes.JSON `json:"schema" gorm:"column:schema_json;type:json;not null"`
	Status      string         `json:"status" gorm:"type:varchar(20);default:'active';index:idx_form_tpl_company_status"` // active, inactive
	CreatedBy   uint           `json:"created_by" gorm:"not null;index"`
	UpdatedBy   uint           `json:"updated_by" gorm:"not null"`
	CreatedAt   time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
}

func (ApprovalFormTemplate) TableName() string {
	return "approval_form_templates"
}
