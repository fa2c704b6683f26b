package approval

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/repository"
	"github.com/fisker/zcrm-backend/internal/workflow"
	"gorm.io/gorm"
)

// 模板状态只有启用和停用两种
func isTemplateStatus(status string) bool {
	return status == "active" || status == "inactive"
}

// templateScope 按角色换算模板可见范围
func templateScope(user *model.User) repository.TemplateScope {
	if user.IsGroupAdmin() {
		return repository.TemplateScope{}
	}
	if user.CompanyID != nil {
		return repository.TemplateScope{CompanyID: user.CompanyID}
	}
	return repository.TemplateScope{GlobalOnly: true}
}

// ensureOrgAccess 模板管理只开放给集团和子公司管理员
func ensureOrgAccess(user *model.User) error {
	if !user.IsAdmin() {
		return errForbidden
	}
	return nil
}

func normalizePagination(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 200 {
		pageSize = 200
	}
	return page, pageSize
}

// resolveTemplateCompanyID 换算模板归属公司。子公司管理员强制落在自己
// 公司，集团管理员指定公司时校验公司存在；0 或缺省表示集团级。
func (s *Service) resolveTemplateCompanyID(user *model.User, requested *uint) (*uint, error) {
	if user.IsSubsidiaryAdmin() {
		if user.CompanyID == nil {
			return nil, errUserMissingCompany
		}
		if requested != nil && *requested != 0 && *requested != *user.CompanyID {
			return nil, errInvalidCompany
		}
		return user.CompanyID, nil
	}
	if requested == nil || *requested == 0 {
		return nil, nil
	}
	if _, err := s.companies.FindCompanyByID(*requested); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errInvalidCompany
		}
		return nil, err
	}
	return requested, nil
}

func normalizeSchemaPayload(raw json.RawMessage) ([]workflow.FormField, error) {
	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, errInvalidFormSchema
		}
	}
	schema, err := workflow.NormalizeSchema(decoded)
	if err != nil {
		return nil, newError(workflow.ErrorCode(err), http.StatusBadRequest)
	}
	return schema, nil
}

// CreateFormTemplateRequest 新建表单模板请求
type CreateFormTemplateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	CompanyID   *uint           `json:"company_id"`
	Schema      json.RawMessage `json:"schema"`
}

func (s *Service) CreateFormTemplate(user *model.User, req *CreateFormTemplateRequest) (*model.ApprovalFormTemplate, error) {
	if err := ensureOrgAccess(user); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errMissingName
	}
	status := req.Status
	if status == "" {
		status = "active"
	}
	if !isTemplateStatus(status) {
		return nil, errInvalidStatus
	}

	companyID, err := s.resolveTemplateCompanyID(user, req.CompanyID)
	if err != nil {
		return nil, err
	}

	schema, err := normalizeSchemaPayload(req.Schema)
	if err != nil {
		return nil, err
	}

	tpl := &model.ApprovalFormTemplate{
		Name:        name,
		Description: req.Description,
		CompanyID:   companyID,
		Schema:      marshalJSON(schema),
		Status:      status,
		CreatedBy:   user.ID,
		UpdatedBy:   user.ID,
	}
	if err := s.formTpls.CreateFormTemplate(s.db, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

func (s *Service) GetFormTemplate(viewer *model.User, templateID uint) (*model.ApprovalFormTemplate, error) {
	tpl, err := s.formTpls.FindFormTemplateByID(templateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound
		}
		return nil, err
	}
	if !templateScope(viewer).Allows(tpl.CompanyID) {
		return nil, errNotFound
	}
	return tpl, nil
}

// ListFormTemplates companyID 过滤指定公司归属，0 表示只看集团级
func (s *Service) ListFormTemplates(viewer *model.User, status string, companyID *uint, page, pageSize int) ([]model.ApprovalFormTemplate, int64, error) {
	if status != "" && !isTemplateStatus(status) {
		return nil, 0, errInvalidStatus
	}
	page, pageSize = normalizePagination(page, pageSize)
	return s.formTpls.FindFormTemplates(templateScope(viewer), status, companyID, page, pageSize)
}

// UpdateFormTemplateRequest PATCH 语义，nil 字段不更新；CompanyID 为 0
// 表示清空为集团级
type UpdateFormTemplateRequest struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Status      *string         `json:"status"`
	CompanyID   *uint           `json:"company_id"`
	Schema      json.RawMessage `json:"schema"`
}

func (s *Service) UpdateFormTemplate(user *model.User, templateID uint, req *UpdateFormTemplateRequest) (*model.ApprovalFormTemplate, error) {
	if err := ensureOrgAccess(user); err != nil {
		return nil, err
	}

	tpl, err := s.formTpls.FindFormTemplateByID(templateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound
		}
		return nil, err
	}

	// 子公司管理员只能改自己公司的模板
	if user.IsSubsidiaryAdmin() {
		if user.CompanyID == nil || tpl.CompanyID == nil || *tpl.CompanyID != *user.CompanyID {
			return nil, errForbidden
		}
	}

	updated := false
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, errMissingName
		}
		tpl.Name = name
		updated = true
	}
	if req.Description != nil {
		tpl.Description = *req.Description
		updated = true
	}
	if req.Status != nil {
		if !isTemplateStatus(*req.Status) {
			return nil, errInvalidStatus
		}
		tpl.Status = *req.Status
		updated = true
	}
	if req.CompanyID != nil {
		if user.IsSubsidiaryAdmin() {
			tpl.CompanyID = user.CompanyID
		} else {
			companyID, err := s.resolveTemplateCompanyID(user, req.CompanyID)
			if err != nil {
				return nil, err
			}
			tpl.CompanyID = companyID
		}
		updated = true
	}
	if len(req.Schema) > 0 {
		schema, err := normalizeSchemaPayload(req.Schema)
		if err != nil {
			return nil, err
		}
		tpl.Schema = marshalJSON(schema)
		updated = true
	}

	if !updated {
		return nil, errNoUpdates
	}

	tpl.UpdatedBy = user.ID
	if err := s.formTpls.UpdateFormTemplate(s.db, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}
