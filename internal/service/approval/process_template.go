package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/workflow"
	"gorm.io/gorm"
)

func normalizeDefinitionPayload(raw json.RawMessage) (*workflow.Definition, error) {
	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return nil, errInvalidProcessSteps
		}
	}
	definition, err := workflow.NormalizeDefinition(decoded)
	if err != nil {
		return nil, newError(workflow.ErrorCode(err), http.StatusBadRequest)
	}
	return definition, nil
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

func ownedFormTemplateName(processName string) string {
	name := strings.TrimSpace(processName)
	if name == "" {
		name = "未命名流程"
	}
	return truncateRunes(name+"表单", 255)
}

func ownedFormTemplateDescription(processName, processDescription string) string {
	name := strings.TrimSpace(processName)
	if name == "" {
		name = "未命名流程"
	}
	text := fmt.Sprintf("由流程「%s」自动生成。", name)
	if desc := strings.TrimSpace(processDescription); desc != "" {
		text += desc
	}
	return truncateRunes(text, 500)
}

// createOwnedFormTemplate 为流程模板自动生成专属表单模板
func (s *Service) createOwnedFormTemplate(tx *gorm.DB, processName, processDescription string, companyID *uint, schema []workflow.FormField, userID uint) (*model.ApprovalFormTemplate, error) {
	if schema == nil {
		schema = []workflow.FormField{}
	}
	tpl := &model.ApprovalFormTemplate{
		Name:        ownedFormTemplateName(processName),
		Description: ownedFormTemplateDescription(processName, processDescription),
		CompanyID:   companyID,
		Schema:      marshalJSON(schema),
		Status:      "active",
		CreatedBy:   userID,
		UpdatedBy:   userID,
	}
	if err := s.formTpls.CreateFormTemplate(tx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// 流程归属必须覆盖表单归属：集团级流程只能挂集团级表单，
// 公司级流程能挂本公司或集团级表单
func checkFormTemplateScope(processCompanyID, formCompanyID *uint) error {
	if processCompanyID == nil {
		if formCompanyID != nil {
			return errInvalidFormTplScope
		}
		return nil
	}
	if formCompanyID != nil && *formCompanyID != *processCompanyID {
		return errInvalidFormTplScope
	}
	return nil
}

func boundTemplateError(bound *model.ApprovalProcessTemplate) error {
	return newErrorWithDetails("form_template_already_bound", http.StatusBadRequest, map[string]any{
		"process_template_id":   bound.ID,
		"process_template_name": bound.Name,
	})
}

// CreateProcessTemplateRequest 新建流程模板请求。form_template_id 与
// form_schema 至少给一个：不给 form_template_id 时用 form_schema 自动
// 生成专属表单模板。
type CreateProcessTemplateRequest struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Status         string          `json:"status"`
	CompanyID      *uint           `json:"company_id"`
	FormTemplateID *uint           `json:"form_template_id"`
	FormSchema     json.RawMessage `json:"form_schema"`
	Definition     json.RawMessage `json:"definition"`
	Steps          json.RawMessage `json:"steps"`
}

func (req *CreateProcessTemplateRequest) definitionPayload() json.RawMessage {
	if len(req.Definition) > 0 {
		return req.Definition
	}
	return req.Steps
}

// CreateProcessTemplate 新建流程模板并落第 1 个版本。status 为 active 时
// 先做图校验，版本直接发布；否则版本落为 draft。
func (s *Service) CreateProcessTemplate(user *model.User, req *CreateProcessTemplateRequest) (*model.ApprovalProcessTemplate, error) {
	if err := ensureOrgAccess(user); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, errMissingName
	}
	status := req.Status
	if status == "" {
		status = "inactive"
	}
	if !isTemplateStatus(status) {
		return nil, errInvalidStatus
	}

	var formTemplateID uint
	if req.FormTemplateID != nil {
		formTemplateID = *req.FormTemplateID
	}
	schemaProvided := len(req.FormSchema) > 0
	if formTemplateID == 0 && !schemaProvided {
		return nil, errInvalidFormTplID
	}

	var formSchema []workflow.FormField
	if schemaProvided {
		schema, err := normalizeSchemaPayload(req.FormSchema)
		if err != nil {
			return nil, err
		}
		formSchema = schema
	}

	companyID, err := s.resolveTemplateCompanyID(user, req.CompanyID)
	if err != nil {
		return nil, err
	}

	definition, err := normalizeDefinitionPayload(req.definitionPayload())
	if err != nil {
		return nil, err
	}
	if status == "active" {
		validation := workflow.ValidateDefinition(definition)
		if !validation.Valid {
			return nil, newErrorWithDetails(validation.Errors[0].Code, http.StatusBadRequest, validation.Errors)
		}
	}

	tpl := &model.ApprovalProcessTemplate{
		Name:        name,
		Description: req.Description,
		CompanyID:   companyID,
		Definition:  marshalJSON(definition),
		Status:      status,
		CreatedBy:   user.ID,
		UpdatedBy:   user.ID,
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		effectiveFormTplID := formTemplateID
		if effectiveFormTplID == 0 {
			owned, err := s.createOwnedFormTemplate(tx, name, req.Description, companyID, formSchema, user.ID)
			if err != nil {
				return err
			}
			effectiveFormTplID = owned.ID
		}

		formTpl, err := s.formTpls.FindFormTemplateForUpdate(tx, effectiveFormTplID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errInvalidFormTpl
			}
			return err
		}
		if err := checkFormTemplateScope(companyID, formTpl.CompanyID); err != nil {
			return err
		}

		bound, err := s.processTpls.FindBoundProcessTemplate(tx, effectiveFormTplID, 0)
		if err != nil {
			return err
		}
		if bound != nil {
			if !schemaProvided {
				return boundTemplateError(bound)
			}
			// 客户端带着已被占用的 form_template_id 又提交了表单 schema，
			// 兼容处理：另起一个专属表单模板而不是直接报错
			owned, err := s.createOwnedFormTemplate(tx, name, req.Description, companyID, formSchema, user.ID)
			if err != nil {
				return err
			}
			effectiveFormTplID = owned.ID
		} else if schemaProvided && formTemplateID != 0 {
			formTpl.Schema = marshalJSON(formSchema)
			formTpl.UpdatedBy = user.ID
			if err := s.formTpls.UpdateFormTemplate(tx, formTpl); err != nil {
				return err
			}
		}

		tpl.FormTemplateID = effectiveFormTplID
		tpl.CurrentVersion = 1
		if status == "active" {
			publishedNo := 1
			tpl.PublishedVersion = &publishedNo
		}
		if err := s.processTpls.CreateProcessTemplate(tx, tpl); err != nil {
			return err
		}

		version := &model.ApprovalProcessTemplateVersion{
			ProcessTemplateID: tpl.ID,
			VersionNo:         1,
			FormTemplateID:    effectiveFormTplID,
			Definition:        marshalJSON(definition),
			Status:            model.VersionStatusDraft,
			CreatedBy:         user.ID,
			UpdatedBy:         user.ID,
		}
		if err := s.processTpls.CreateVersion(tx, version); err != nil {
			return err
		}
		if status == "active" {
			return s.processTpls.PublishVersion(tx, tpl.ID, 1, user.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.processTpls.FindProcessTemplateByID(tpl.ID)
}

func (s *Service) visibleProcessTemplate(viewer *model.User, templateID uint) (*model.ApprovalProcessTemplate, error) {
	tpl, err := s.processTpls.FindProcessTemplateByID(templateID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errNotFound
		}
		return nil, err
	}
	if !templateScope(viewer).Allows(tpl.CompanyID) {
		return nil, errNotFound
	}
	// 普通成员只能看到已启用的流程
	if !viewer.IsAdmin() && tpl.Status != "active" {
		return nil, errNotFound
	}
	return tpl, nil
}

func (s *Service) GetProcessTemplate(viewer *model.User, templateID uint) (*model.ApprovalProcessTemplate, error) {
	return s.visibleProcessTemplate(viewer, templateID)
}

// ListProcessTemplates companyID 过滤指定公司归属，0 表示只看集团级
func (s *Service) ListProcessTemplates(viewer *model.User, status string, companyID *uint, page, pageSize int) ([]model.ApprovalProcessTemplate, int64, error) {
	if status != "" && !isTemplateStatus(status) {
		return nil, 0, errInvalidStatus
	}
	if status == "" && !viewer.IsAdmin() {
		status = "active"
	}
	page, pageSize = normalizePagination(page, pageSize)
	return s.processTpls.FindProcessTemplates(templateScope(viewer), status, companyID, page, pageSize)
}

func (s *Service) ListProcessTemplateVersions(viewer *model.User, templateID uint) ([]model.ApprovalProcessTemplateVersion, error) {
	if _, err := s.visibleProcessTemplate(viewer, templateID); err != nil {
		return nil, err
	}
	return s.processTpls.FindVersions(templateID)
}

// UpdateProcessTemplateRequest PATCH 语义，nil 字段不更新。
// 表单模板、流程定义或表单 schema 任一变化都会把 current_version 加一
// 并落新版本；status 改为 active 视为发布请求，先做图校验。
type UpdateProcessTemplateRequest struct {
	Name           *string         `json:"name"`
	Description    *string         `json:"description"`
	Status         *string         `json:"status"`
	CompanyID      *uint           `json:"company_id"`
	FormTemplateID *uint           `json:"form_template_id"`
	FormSchema     json.RawMessage `json:"form_schema"`
	Definition     json.RawMessage `json:"definition"`
	Steps          json.RawMessage `json:"steps"`
}

func (s *Service) UpdateProcessTemplate(user *model.User, templateID uint, req *UpdateProcessTemplateRequest) (*model.ApprovalProcessTemplate, error) {
	if err := ensureOrgAccess(user); err != nil {
		return nil, err
	}

	schemaProvided := len(req.FormSchema) > 0
	var formSchema []workflow.FormField
	if schemaProvided {
		schema, err := normalizeSchemaPayload(req.FormSchema)
		if err != nil {
			return nil, err
		}
		formSchema = schema
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		tpl, err := s.processTpls.FindProcessTemplateForUpdate(tx, templateID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound
			}
			return err
		}

		if user.IsSubsidiaryAdmin() {
			if user.CompanyID == nil || tpl.CompanyID == nil || *tpl.CompanyID != *user.CompanyID {
				return errForbidden
			}
		}

		var rawExisting any
		_ = json.Unmarshal(tpl.Definition, &rawExisting)
		nextDefinition, err := workflow.NormalizeDefinition(rawExisting)
		if err != nil {
			nextDefinition = workflow.StepsToGraph(nil)
		}
		existingDefinitionDump := string(marshalJSON(nextDefinition))

		updated := false
		nextStatus := tpl.Status
		nextCompanyID := tpl.CompanyID
		nextFormTplID := tpl.FormTemplateID
		formTemplateChanged := false
		definitionChanged := false

		nextName := tpl.Name
		if req.Name != nil {
			nextName = strings.TrimSpace(*req.Name)
			if nextName == "" {
				return errMissingName
			}
			updated = true
		}
		nextDescription := tpl.Description
		if req.Description != nil {
			nextDescription = *req.Description
			updated = true
		}
		if req.Status != nil {
			if !isTemplateStatus(*req.Status) {
				return errInvalidStatus
			}
			nextStatus = *req.Status
			updated = true
		}
		if req.CompanyID != nil {
			if user.IsSubsidiaryAdmin() {
				nextCompanyID = user.CompanyID
			} else {
				companyID, err := s.resolveTemplateCompanyID(user, req.CompanyID)
				if err != nil {
					return err
				}
				nextCompanyID = companyID
			}
			updated = true
		}
		if req.FormTemplateID != nil {
			if *req.FormTemplateID == 0 {
				return errInvalidFormTplID
			}
			nextFormTplID = *req.FormTemplateID
			formTemplateChanged = nextFormTplID != tpl.FormTemplateID
		}
		if len(req.Definition) > 0 || len(req.Steps) > 0 {
			payload := req.Definition
			if len(payload) == 0 {
				payload = req.Steps
			}
			definition, err := normalizeDefinitionPayload(payload)
			if err != nil {
				return err
			}
			nextDefinition = definition
			definitionChanged = string(marshalJSON(nextDefinition)) != existingDefinitionDump
		}

		formTpl, err := s.formTpls.FindFormTemplateForUpdate(tx, nextFormTplID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errInvalidFormTpl
			}
			return err
		}
		if err := checkFormTemplateScope(nextCompanyID, formTpl.CompanyID); err != nil {
			return err
		}

		bound, err := s.processTpls.FindBoundProcessTemplate(tx, nextFormTplID, tpl.ID)
		if err != nil {
			return err
		}
		if bound != nil {
			if req.FormTemplateID == nil || nextFormTplID == tpl.FormTemplateID {
				return boundTemplateError(bound)
			}
			// 旧客户端可能提交缓存草稿里过期的 form_template_id，
			// 保持现有绑定继续应用其它更新
			nextFormTplID = tpl.FormTemplateID
			formTemplateChanged = false
			formTpl, err = s.formTpls.FindFormTemplateForUpdate(tx, nextFormTplID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return errInvalidFormTpl
				}
				return err
			}
			if err := checkFormTemplateScope(nextCompanyID, formTpl.CompanyID); err != nil {
				return err
			}
		}

		formSchemaChanged := false
		if schemaProvided {
			var existingSchema any
			_ = json.Unmarshal(formTpl.Schema, &existingSchema)
			if _, ok := existingSchema.([]any); !ok {
				existingSchema = []any{}
			}
			formSchemaChanged = string(marshalJSON(existingSchema)) != string(marshalJSON(formSchema))
		}

		versionChanged := formTemplateChanged || definitionChanged || formSchemaChanged
		publishRequested := req.Status != nil && nextStatus == "active"
		if !updated && !versionChanged && !publishRequested {
			return errNoUpdates
		}

		if publishRequested {
			validation := workflow.ValidateDefinition(nextDefinition)
			if !validation.Valid {
				return newErrorWithDetails(validation.Errors[0].Code, http.StatusBadRequest, validation.Errors)
			}
		}

		if formSchemaChanged {
			formTpl.Schema = marshalJSON(formSchema)
			formTpl.UpdatedBy = user.ID
			if err := s.formTpls.UpdateFormTemplate(tx, formTpl); err != nil {
				return err
			}
		}

		publishedVersionNo := 0
		if versionChanged {
			nextVersionNo := tpl.CurrentVersion + 1
			version := &model.ApprovalProcessTemplateVersion{
				ProcessTemplateID: tpl.ID,
				VersionNo:         nextVersionNo,
				FormTemplateID:    nextFormTplID,
				Definition:        marshalJSON(nextDefinition),
				Status:            model.VersionStatusDraft,
				CreatedBy:         user.ID,
				UpdatedBy:         user.ID,
			}
			if err := s.processTpls.CreateVersion(tx, version); err != nil {
				return err
			}
			tpl.FormTemplateID = nextFormTplID
			tpl.Definition = marshalJSON(nextDefinition)
			tpl.CurrentVersion = nextVersionNo
			if publishRequested {
				publishedVersionNo = nextVersionNo
			}
		} else if publishRequested {
			publishedVersionNo = tpl.CurrentVersion
		}

		tpl.Name = nextName
		tpl.Description = nextDescription
		tpl.Status = nextStatus
		tpl.CompanyID = nextCompanyID
		if publishRequested {
			tpl.PublishedVersion = &publishedVersionNo
		}
		tpl.UpdatedBy = user.ID
		if err := s.processTpls.UpdateProcessTemplate(tx, tpl); err != nil {
			return err
		}

		if publishRequested {
			return s.processTpls.PublishVersion(tx, tpl.ID, publishedVersionNo, user.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.processTpls.FindProcessTemplateByID(templateID)
}

// ValidateProcessDefinition 只校验不落库，供流程编排器实时检查
func (s *Service) ValidateProcessDefinition(user *model.User, raw json.RawMessage) (*workflow.ValidationResult, error) {
	if err := ensureOrgAccess(user); err != nil {
		return nil, err
	}
	var decoded any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			decoded = nil
		}
	}
	definition, err := workflow.NormalizeDefinition(decoded)
	if err != nil {
		return &workflow.ValidationResult{
			Valid: false,
			Errors: []workflow.Issue{
				{Code: workflow.ErrorCode(err), Message: "流程定义格式不合法。"},
			},
			Warnings: []workflow.Issue{},
		}, nil
	}
	return workflow.ValidateDefinition(definition), nil
}

// ExpressionCheckResult 条件表达式检查结果；带了 form_data 时 Result
// 回传该数据下的求值结果
type ExpressionCheckResult struct {
	Valid   bool   `json:"valid"`
	Result  *bool  `json:"result"`
	Message string `json:"message,omitempty"`
}

// ValidateConditionExpression 校验条件表达式语法，空表达式视为合法
func (s *Service) ValidateConditionExpression(user *model.User, expression string, formData map[string]any) (*ExpressionCheckResult, error) {
	if err := ensureOrgAccess(user); err != nil {
		return nil, err
	}
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return &ExpressionCheckResult{Valid: true}, nil
	}
	if !workflow.CheckExpression(expression) {
		return &ExpressionCheckResult{
			Valid:   false,
			Message: "表达式语法不合法，或包含不允许的函数/语句。",
		}, nil
	}
	result := &ExpressionCheckResult{Valid: true}
	if formData != nil {
		value := workflow.EvalExpression(formData, expression)
		result.Result = &value
	}
	return result, nil
}
