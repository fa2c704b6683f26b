package model

import (
	"time"
)

// 平台角色
const (
	RoleGroupAdmin      = "group_admin"      // 集团管理员
	RoleSubsidiaryAdmin = "subsidiary_admin" // 子公司管理员
	RoleUser            = "user"             // 普通成员
)

// User 平台用户，company_id 为空表示集团层账号
type User struct {
	ID            uint       `json:"id" gorm:"primaryKey;autoIncrement"`
	Username      string     `json:"username" gorm:"type:varchar(50);uniqueIndex;not null"`
	Password      string     `json:"-" gorm:"type:varchar(255);not null"` // 不在JSON中暴露
	Name          string     `json:"name" gorm:"type:varchar(100)"`
	Email         string     `json:"email" gorm:"type:varchar(100);index"`
	Role          string     `json:"role" gorm:"type:varchar(20);default:'user';index"` // group_admin, subsidiary_admin, user
	CompanyID     *uint      `json:"company_id" gorm:"index"`
	Status        string     `json:"status" gorm:"type:varchar(20);default:'active';index"` // active, inactive
	LastLoginTime *time.Time `json:"last_login_time" gorm:"type:timestamp"`
	LastLoginIP   string     `json:"last_login_ip" gorm:"type:varchar(45)"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`

	Company *Company `json:"company,omitempty" gorm:"foreignKey:CompanyID"`
}

func (User) TableName() string {
	return "users"
}

// IsGroupAdmin 集团管理员拥有跨公司权限
func (u *User) IsGroupAdmin() bool {
	return u.Role == RoleGroupAdmin
}

// IsSubsidiaryAdmin 子公司管理员只在本公司范围内有管理权限
func (u *User) IsSubsidiaryAdmin() bool {
	return u.Role == RoleSubsidiaryAdmin
}

// IsAdmin 集团或子公司管理员
func (u *User) IsAdmin() bool {
	return u.IsGroupAdmin() || u.IsSubsidiaryAdmin()
}

// IsActive 只有 active 用户能登录和被解析为审批人
func (u *User) IsActive() bool {
	return u.Status == "active"
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// CreateUserRequest 创建用户请求
type CreateUserRequest struct {
	Username  string `json:"username" binding:"required,min=3,max=50"`
	Password  string `json:"password" binding:"required,min=6"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Role      string `json:"role"`
	CompanyID *uint  `json:"company_id"`
}

// UpdateUserRequest 更新用户请求，指针字段区分"未提交"与"清空"
type UpdateUserRequest struct {
	Name      *string `json:"name"`
	Email     *string `json:"email"`
	Password  *string `json:"password"`
	Role      *string `json:"role"`
	CompanyID *uint   `json:"company_id"`
	Status    *string `json:"status"`
}
