package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 商机阶段
const (
	OpportunityStageLead        = "lead"        // 线索
	OpportunityStageQualified   = "qualified"   // 已确认
	OpportunityStageProposal    = "proposal"    // 方案报价
	OpportunityStageNegotiation = "negotiation" // 商务谈判
	OpportunityStageWon         = "won"         // 赢单
	OpportunityStageLost        = "lost"        // 丢单
)

// Opportunity 销售商机，金额用 decimal 避免浮点误差
type Opportunity struct {
	ID           uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	Name         string          `json:"name" gorm:"type:varchar(255);not null"`
	CustomerName string          `json:"customer_name" gorm:"type:varchar(255);index"`
	CompanyID    *uint           `json:"company_id" gorm:"index"`
	OwnerID      uint            `json:"owner_id" gorm:"not null;index"`
	Stage        string          `json:"stage" gorm:"type:varchar(32);default:'lead';index"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:decimal(18,2);default:0"`
	Currency     string          `json:"currency" gorm:"type:varchar(8);default:'CNY'"`
	ExpectedDate *time.Time      `json:"expected_date" gorm:"type:date"`
	Source       string          `json:"source" gorm:"type:varchar(64)"`
	Remark       string          `json:"remark" gorm:"type:text"`
	CreatedAt    time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time       `json:"updated_at" gorm:"autoUpdateTime"`

	Owner   *User    `json:"owner,omitempty" gorm:"foreignKey:OwnerID"`
	Company *Company `json:"company,omitempty" gorm:"foreignKey:CompanyID"`
}

func (Opportunity) TableName() string {
	return "sales_opportunities"
}
