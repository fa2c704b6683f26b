package repository

import (
	"github.com/fisker/zcrm-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TemplateScope 模板可见范围。集团管理员不受限；子公司用户能看到
// 本公司与集团级（company_id IS NULL）的模板；无公司归属的用户只
// 能看到集团级模板。
type TemplateScope struct {
	CompanyID  *uint
	GlobalOnly bool
}

func (s TemplateScope) apply(query *gorm.DB) *gorm.DB {
	if s.GlobalOnly {
		return query.Where("company_id IS NULL")
	}
	if s.CompanyID != nil {
		return query.Where("company_id = ? OR company_id IS NULL", *s.CompanyID)
	}
	return query
}

// Allows 范围内是否允许访问指定公司归属的记录
func (s TemplateScope) Allows(companyID *uint) bool {
	if s.GlobalOnly {
		return companyID == nil
	}
	if s.CompanyID != nil {
		return companyID == nil || *companyID == *s.CompanyID
	}
	return true
}

// FormTemplateRepository 审批表单模板数据访问
type FormTemplateRepository struct {
	db *gorm.DB
}

func NewFormTemplateRepository(db *gorm.DB) *FormTemplateRepository {
	return &FormTemplateRepository{db: db}
}

func (r *FormTemplateRepository) CreateFormTemplate(tx *gorm.DB, tpl *model.ApprovalFormTemplate) error {
	return tx.Create(tpl).Error
}

func (r *FormTemplateRepository) UpdateFormTemplate(tx *gorm.DB, tpl *model.ApprovalFormTemplate) error {
	return tx.Save(tpl).Error
}

func (r *FormTemplateRepository) FindFormTemplateByID(id uint) (*model.ApprovalFormTemplate, error) {
	var tpl model.ApprovalFormTemplate
	if err := r.db.First(&tpl, id).Error; err != nil {
		return nil, err
	}
	return &tpl, nil
}

// FindFormTemplateForUpdate 事务内加行锁读取，流程模板绑定表单时用
func (r *FormTemplateRepository) FindFormTemplateForUpdate(tx *gorm.DB, id uint) (*model.ApprovalFormTemplate, error) {
	var tpl model.ApprovalFormTemplate
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&tpl, id).Error
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// FindFormTemplates companyID 非空时过滤指定公司，*companyID 为 0 表示只看集团级
func (r *FormTemplateRepository) FindFormTemplates(scope TemplateScope, status string, companyID *uint, page, pageSize int) ([]model.ApprovalFormTemplate, int64, error) {
	query := scope.apply(r.db.Model(&model.ApprovalFormTemplate{}))
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if companyID != nil {
		if *companyID == 0 {
			query = query.Where("company_id IS NULL")
		} else {
			query = query.Where("company_id = ?", *companyID)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var templates []model.ApprovalFormTemplate
	err := query.Order("updated_at DESC, id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&templates).Error
	return templates, total, err
}
