package approval

import (
	"errors"
	"net/http"
)

// Error 审批域业务错误，Code 直接作为接口错误码返回
type Error struct {
	Code    string
	Status  int
	Details any
}

func (e *Error) Error() string {
	return e.Code
}

func newError(code string, status int) *Error {
	return &Error{Code: code, Status: status}
}

func newErrorWithDetails(code string, status int, details any) *Error {
	return &Error{Code: code, Status: status, Details: details}
}

// AsError 取出业务错误，其它错误按 500 处理
func AsError(err error) *Error {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return &Error{Code: "internal_error", Status: http.StatusInternalServerError}
}

var (
	errNotFound              = newError("not_found", http.StatusNotFound)
	errForbidden             = newError("forbidden", http.StatusForbidden)
	errInvalidAction         = newError("invalid_action", http.StatusBadRequest)
	errInvalidInstanceStatus = newError("invalid_instance_status", http.StatusBadRequest)
	errNoPendingTask         = newError("no_pending_task", http.StatusBadRequest)
	errInvalidTargetUser     = newError("invalid_target_user", http.StatusBadRequest)
	errTargetTaskExists      = newError("target_user_task_exists", http.StatusBadRequest)
	errFieldUpdateNotAllowed = newError("field_update_not_allowed", http.StatusBadRequest)
	errInvalidFormData       = newError("invalid_form_data", http.StatusBadRequest)
	errInvalidFormSchema     = newError("invalid_form_schema", http.StatusBadRequest)
	errInvalidScope          = newError("invalid_scope", http.StatusBadRequest)
	errInvalidStatus         = newError("invalid_status", http.StatusBadRequest)
	errInvalidProcessTpl     = newError("invalid_process_template", http.StatusBadRequest)
	errProcessTplInactive    = newError("process_template_inactive", http.StatusBadRequest)
	errProcessTplNoPublished = newError("process_template_not_published_version", http.StatusBadRequest)
	errInvalidFormTpl        = newError("invalid_form_template", http.StatusBadRequest)
	errInvalidFormTplScope   = newError("invalid_form_template_scope", http.StatusBadRequest)
	errInvalidProcessSteps   = newError("invalid_process_steps", http.StatusBadRequest)
	errMissingName           = newError("missing_name", http.StatusBadRequest)
	errUserMissingCompany    = newError("user_missing_company", http.StatusBadRequest)
	errInvalidFormTplID      = newError("invalid_form_template_id", http.StatusBadRequest)
	errInvalidCompany        = newError("invalid_company", http.StatusBadRequest)
	errNoUpdates             = newError("no_updates", http.StatusBadRequest)
)
