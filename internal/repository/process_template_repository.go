package repository

import (
	"errors"
	"time"

	"github.com/fisker/zcrm-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProcessTemplateRepository 审批流程模板与版本数据访问
type ProcessTemplateRepository struct {
	db *gorm.DB
}

func NewProcessTemplateRepository(db *gorm.DB) *ProcessTemplateRepository {
	return &ProcessTemplateRepository{db: db}
}

func (r *ProcessTemplateRepository) CreateProcessTemplate(tx *gorm.DB, tpl *model.ApprovalProcessTemplate) error {
	return tx.Create(tpl).Error
}

func (r *ProcessTemplateRepository) UpdateProcessTemplate(tx *gorm.DB, tpl *model.ApprovalProcessTemplate) error {
	return tx.Save(tpl).Error
}

func (r *ProcessTemplateRepository) FindProcessTemplateByID(id uint) (*model.ApprovalProcessTemplate, error) {
	var tpl model.ApprovalProcessTemplate
	if err := r.db.Preload("FormTemplate").First(&tpl, id).Error; err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (r *ProcessTemplateRepository) FindProcessTemplateForUpdate(tx *gorm.DB, id uint) (*model.ApprovalProcessTemplate, error) {
	var tpl model.ApprovalProcessTemplate
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&tpl, id).Error
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// FindBoundProcessTemplate 查表单模板被哪个流程模板占用，excludeID 用于排除
// 自身；没有占用时返回 nil。一个表单模板最多绑定一个流程模板。
func (r *ProcessTemplateRepository) FindBoundProcessTemplate(tx *gorm.DB, formTemplateID, excludeID uint) (*model.ApprovalProcessTemplate, error) {
	query := tx.Where("form_template_id = ?", formTemplateID)
	if excludeID > 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var tpl model.ApprovalProcessTemplate
	if err := query.First(&tpl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &tpl, nil
}

// FindProcessTemplates companyID 非空时过滤指定公司，*companyID 为 0 表示只看集团级
func (r *ProcessTemplateRepository) FindProcessTemplates(scope TemplateScope, status string, companyID *uint, page, pageSize int) ([]model.ApprovalProcessTemplate, int64, error) {
	query := scope.apply(r.db.Model(&model.ApprovalProcessTemplate{}))
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

	var templates []model.ApprovalProcessTemplate
	err := query.Preload("FormTemplate").
		Order("updated_at DESC, id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&templates).Error
	return templates, total, err
}

// ===== 版本 =====

func (r *ProcessTemplateRepository) CreateVersion(tx *gorm.DB, version *model.ApprovalProcessTemplateVersion) error {
	return tx.Create(version).Error
}

func (r *ProcessTemplateRepository) FindVersion(processTemplateID uint, versionNo int) (*model.ApprovalProcessTemplateVersion, error) {
	var version model.ApprovalProcessTemplateVersion
	err := r.db.Where("process_template_id = ? AND version_no = ?", processTemplateID, versionNo).
		First(&version).Error
	if err != nil {
		return nil, err
	}
	return &version, nil
}

func (r *ProcessTemplateRepository) FindVersions(processTemplateID uint) ([]model.ApprovalProcessTemplateVersion, error) {
	var versions []model.ApprovalProcessTemplateVersion
	err := r.db.Where("process_template_id = ?", processTemplateID).
		Order("version_no DESC").Find(&versions).Error
	return versions, err
}

// PublishVersion 把指定版本号置为 published，同模板其它 published 版本转
// archived。只改版本表，模板行上的 published_version 由调用方同步。
func (r *ProcessTemplateRepository) PublishVersion(tx *gorm.DB, processTemplateID uint, versionNo int, userID uint) error {
	err := tx.Model(&model.ApprovalProcessTemplateVersion{}).
		Where("process_template_id = ? AND version_no <> ? AND status = ?",
			processTemplateID, versionNo, model.VersionStatusPublished).
		Updates(map[string]any{"status": model.VersionStatusArchived, "updated_by": userID}).Error
	if err != nil {
		return err
	}

	now := time.Now()
	return tx.Model(&model.ApprovalProcessTemplateVersion{}).
		Where("process_template_id = ? AND version_no = ?", processTemplateID, versionNo).
		Updates(map[string]any{
			"status":       model.VersionStatusPublished,
			"published_at": gorm.Expr("COALESCE(published_at, ?)", now),
			"updated_by":   userID,
		}).Error
}
