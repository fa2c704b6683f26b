package model

import (
	"time"
)

// 组织维度：角色与岗位是两套独立的标签体系，company_id 为空表示集团级。
// 审批流的 role/position 审批人类型按名称在这两张表里解析。

// OrgRole 组织角色
type OrgRole struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"type:varchar(100);not null;index"`
	Code      *string   `json:"code" gorm:"type:varchar(64);uniqueIndex"`
	CompanyID *uint     `json:"company_id" gorm:"index:idx_org_role_scope"`
	Status    string    `json:"status" gorm:"type:varchar(20);default:'active';index:idx_org_role_scope"`
	CreatedBy uint      `json:"created_by"`
	UpdatedBy uint      `json:"updated_by"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (OrgRole) TableName() string {
	return "org_roles"
}

// OrgPosition 组织岗位
type OrgPosition struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"type:varchar(100);not null;index"`
	Code      *string   `json:"code" gorm:"type:varchar(64);uniqueIndex"`
	CompanyID *uint     `json:"company_id" gorm:"index:idx_org_position_scope"`
	Status    string    `json:"status" gorm:"type:varchar(20);default:'active';index:idx_org_position_scope"`
	CreatedBy uint      `json:"created_by"`
	UpdatedBy uint      `json:"updated_by"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (OrgPosition) TableName() string {
	return "org_positions"
}

// UserOrgRole 用户-角色绑定
type UserOrgRole struct {
	UserID    uint      `json:"user_id" gorm:"primaryKey"`
	RoleID    uint      `json:"role_id" gorm:"primaryKey;index:idx_user_org_role_role"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (UserOrgRole) TableName() string {
	return "user_org_roles"
}

// UserOrgPosition 用户-岗位绑定
type UserOrgPosition struct {
	UserID     uint      `json:"user_id" gorm:"primaryKey"`
	PositionID uint      `json:"position_id" gorm:"primaryKey;index:idx_user_org_position_position"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (UserOrgPosition) TableName() string {
	return "user_org_positions"
}
