package workflow

import (
	"errors"
	"fmt"
)

// Error 引擎配置类错误，Code 是稳定的机器可读标识，直接透传给前端
type Error struct {
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

func newError(code string) *Error {
	return &Error{Code: code}
}

func newFieldError(code, key string) *Error {
	return &Error{Code: fmt.Sprintf("%s:%s", code, key)}
}

// ErrorCode 提取错误码，非引擎错误返回空串
func ErrorCode(err error) string {
	var we *Error
	if errors.As(err, &we) {
		return we.Code
	}
	return ""
}

// 表单 schema 校验错误码
const (
	CodeInvalidSchema        = "invalid_schema"
	CodeInvalidFieldKey      = "invalid_field_key"
	CodeDuplicatedFieldKey   = "duplicated_field_key"
	CodeInvalidFieldLabel    = "invalid_field_label"
	CodeInvalidFieldType     = "invalid_field_type"
	CodeInvalidFieldOptions  = "invalid_field_options"
	CodeInvalidFieldColumns  = "invalid_field_columns"
	CodeInvalidFieldDefault  = "invalid_field_default"
	CodeInvalidFieldMaxCount = "invalid_field_max_count"
)

// 表单数据校验错误码（带字段 key 后缀）
const (
	CodeInvalidFormData      = "invalid_form_data"
	CodeMissingRequiredField = "missing_required_field"
	CodeInvalidFieldValue    = "invalid_field_type" // 与原有接口保持一致的取值
	CodeInvalidFieldOption   = "invalid_field_option"
	CodeUnknownFormFields    = "unknown_form_fields"
)

// 流程定义错误码
const (
	CodeInvalidDefinition         = "invalid_definition"
	CodeInvalidDefinitionNodes    = "invalid_definition_nodes"
	CodeInvalidDefinitionEdges    = "invalid_definition_edges"
	CodeInvalidDefinitionNode     = "invalid_definition_node"
	CodeInvalidDefinitionNodeID   = "invalid_definition_node_id"
	CodeDuplicatedNodeID          = "duplicated_definition_node_id"
	CodeInvalidDefinitionNodeType = "invalid_definition_node_type"
	CodeInvalidDefinitionEdge     = "invalid_definition_edge"
	CodeInvalidEdgeTarget         = "invalid_definition_edge_target"
	CodeInvalidStartNode          = "invalid_start_node"
	CodeMissingEndNode            = "missing_end_node"

	CodeInvalidSteps               = "invalid_steps"
	CodeInvalidStepName            = "invalid_step_name"
	CodeInvalidStepType            = "invalid_step_type"
	CodeInvalidStepApproverType    = "invalid_step_approver_type"
	CodeInvalidStepApprovalMode    = "invalid_step_approval_mode"
	CodeMissingStepUserApprovers   = "missing_step_user_approvers"
	CodeMissingStepRoleApprovers   = "missing_step_role_approvers"
	CodeMissingStepPosApprovers    = "missing_step_position_approvers"
	CodeInvalidApplicantSelect     = "invalid_step_applicant_select_field"
	CodeInvalidPreviousHandler     = "invalid_step_previous_handler"
	CodeInvalidSubprocessTemplate  = "invalid_subprocess_template"
	CodeInvalidStepCondition       = "invalid_step_condition"
	CodeInvalidStepConditionLogic  = "invalid_step_condition_logic"
	CodeInvalidStepConditionExpr   = "invalid_step_condition_expression"
	CodeInvalidStepConditionRule   = "invalid_step_condition_rule"
	CodeInvalidStepConditionField  = "invalid_step_condition_field"
	CodeInvalidStepConditionOp     = "invalid_step_condition_operator"
)
