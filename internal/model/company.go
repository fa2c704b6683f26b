package model

import (
	"time"
)

// Company 子公司/业务主体，模板与实例都按公司隔离
type Company struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Name      string    `json:"name" gorm:"type:varchar(255);uniqueIndex;not null"`
	Code      *string   `json:"code" gorm:"type:varchar(64);uniqueIndex"`
	ParentID  *uint     `json:"parent_id" gorm:"index"`
	Status    string    `json:"status" gorm:"type:varchar(20);default:'active';index"` // active, inactive
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Company) TableName() string {
	return "companies"
}
