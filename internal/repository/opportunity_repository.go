package repository

import (
	"github.com/fisker/zcrm-backend/internal/model"
	"gorm.io/gorm"
)

// OpportunityRepository 销售机会数据访问
type OpportunityRepository struct {
	db *gorm.DB
}

func NewOpportunityRepository(db *gorm.DB) *OpportunityRepository {
	return &OpportunityRepository{db: db}
}

func (r *OpportunityRepository) CreateOpportunity(opp *model.Opportunity) error {
	return r.db.Create(opp).Error
}

func (r *OpportunityRepository) UpdateOpportunity(opp *model.Opportunity) error {
	return r.db.Save(opp).Error
}

func (r *OpportunityRepository) FindOpportunityByID(id uint) (*model.Opportunity, error) {
	var opp model.Opportunity
	if err := r.db.First(&opp, id).Error; err != nil {
		return nil, err
	}
	return &opp, nil
}

// OpportunityFilter 商机列表过滤条件
type OpportunityFilter struct {
	CompanyID *uint
	OwnerID   *uint
	Stage     string
	Source    string
	Keyword   string
}

func (f OpportunityFilter) apply(query *gorm.DB) *gorm.DB {
	if f.CompanyID != nil {
		query = query.Where("company_id = ?", *f.CompanyID)
	}
	if f.OwnerID != nil {
		query = query.Where("owner_id = ?", *f.OwnerID)
	}
	if f.Stage != "" {
		query = query.Where("stage = ?", f.Stage)
	}
	if f.Source != "" {
		query = query.Where("source = ?", f.Source)
	}
	if f.Keyword != "" {
		query = query.Where("name LIKE ? OR customer_name LIKE ?", "%"+f.Keyword+"%", "%"+f.Keyword+"%")
	}
	return query
}

// FindOpportunities 分页查询，最近更新的排在前面
func (r *OpportunityRepository) FindOpportunities(filter OpportunityFilter, page, pageSize int) ([]model.Opportunity, int64, error) {
	var opps []model.Opportunity
	var total int64

	query := filter.apply(r.db.Model(&model.Opportunity{}))
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("updated_at DESC, id DESC").Offset(offset).Limit(pageSize).Find(&opps).Error
	return opps, total, err
}

// CountByStage 按阶段统计，供列表页汇总卡片使用
func (r *OpportunityRepository) CountByStage(filter OpportunityFilter) (map[string]int64, error) {
	type stageCount struct {
		Stage string
		Count int64
	}
	var rows []stageCount
	err := filter.apply(r.db.Model(&model.Opportunity{})).
		Select("stage, COUNT(*) AS count").
		Group("stage").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Stage] = row.Count
	}
	return counts, nil
}

func (r *OpportunityRepository) DeleteOpportunity(id uint) error {
	return r.db.Delete(&model.Opportunity{}, id).Error
}
