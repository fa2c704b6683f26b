package repository

import (
	"github.com/fisker/zcrm-backend/internal/model"
	"gorm.io/gorm"
)

// CompanyRepository 子公司数据访问
type CompanyRepository struct {
	db *gorm.DB
}

func NewCompanyRepository(db *gorm.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

func (r *CompanyRepository) CreateCompany(company *model.Company) error {
	return r.db.Create(company).Error
}

func (r *CompanyRepository) UpdateCompany(company *model.Company) error {
	return r.db.Save(company).Error
}

func (r *CompanyRepository) FindCompanyByID(id uint) (*model.Company, error) {
	var company model.Company
	if err := r.db.First(&company, id).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

func (r *CompanyRepository) FindCompanyByName(name string) (*model.Company, error) {
	var company model.Company
	if err := r.db.Where("name = ?", name).First(&company).Error; err != nil {
		return nil, err
	}
	return &company, nil
}

// CompanyFilter 公司列表过滤条件。ParentID 为 0 表示只查顶级公司。
type CompanyFilter struct {
	IDs      []uint
	ParentID *uint
	Status   string
	Name     string
	Code     string
}

func (r *CompanyRepository) FindCompanies(filter CompanyFilter) ([]model.Company, error) {
	query := r.db.Model(&model.Company{})
	if len(filter.IDs) > 0 {
		query = query.Where("id IN ?", filter.IDs)
	}
	if filter.ParentID != nil {
		if *filter.ParentID == 0 {
			query = query.Where("parent_id IS NULL")
		} else {
			query = query.Where("parent_id = ?", *filter.ParentID)
		}
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Name != "" {
		query = query.Where("name LIKE ?", "%"+filter.Name+"%")
	}
	if filter.Code != "" {
		query = query.Where("code = ?", filter.Code)
	}
	var companies []model.Company
	err := query.Order("id ASC").Find(&companies).Error
	return companies, err
}

func (r *CompanyRepository) HasChildCompanies(id uint) (bool, error) {
	var count int64
	err := r.db.Model(&model.Company{}).Where("parent_id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *CompanyRepository) HasUsers(id uint) (bool, error) {
	var count int64
	err := r.db.Model(&model.User{}).Where("company_id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *CompanyRepository) HasOpportunities(id uint) (bool, error) {
	var count int64
	err := r.db.Model(&model.Opportunity{}).Where("company_id = ?", id).Count(&count).Error
	return count > 0, err
}

func (r *CompanyRepository) DeleteCompany(id uint) error {
	return r.db.Delete(&model.Company{}, id).Error
}
