package approval

import (
	"strconv"
	"strings"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/repository"
	"github.com/fisker/zcrm-backend/internal/workflow"
	"gorm.io/gorm"
)

// applicantInfo 审批人解析需要的申请人信息
type applicantInfo struct {
	ID        uint
	CompanyID *uint
}

// approverSpec 一次解析的审批人配置，节点本体或命中的审批组都会落成这个形态
type approverSpec struct {
	ApproverType       string
	UserIDs            []uint
	Roles              []string
	Positions          []string
	FieldKey           string
	PreviousStepOffset int
	AllowSelfApprove   bool
	Groups             []workflow.ApproverGroup
}

func specFromNode(node *workflow.Node) approverSpec {
	return approverSpec{
		ApproverType:       node.ApproverType,
		UserIDs:            node.ApproverUserIDs,
		Roles:              node.ApproverRoles,
		Positions:          node.ApproverPositions,
		FieldKey:           node.ApproverFieldKey,
		PreviousStepOffset: node.PreviousStepOffset,
		AllowSelfApprove:   node.SelfApproveAllowed(),
		Groups:             node.ApproverGroups,
	}
}

// specFromGroup 命中的审批组覆盖节点本体的审批人配置，自审批开关沿用节点
func specFromGroup(base approverSpec, group *workflow.ApproverGroup) approverSpec {
	spec := base
	spec.Groups = nil
	spec.ApproverType = group.ApproverType
	spec.UserIDs = group.ApproverUserIDs
	spec.Roles = group.ApproverRoles
	spec.Positions = group.ApproverPositions
	spec.FieldKey = group.ApproverFieldKey
	if group.PreviousStepOffset > 0 {
		spec.PreviousStepOffset = group.PreviousStepOffset
	}
	return spec
}

// Resolver 把节点的审批人配置解析成具体用户 id 列表
type Resolver struct {
	users     *repository.UserRepository
	orgs      *repository.OrganizationRepository
	approvals *repository.ApprovalRepository
}

func NewResolver(users *repository.UserRepository, orgs *repository.OrganizationRepository, approvals *repository.ApprovalRepository) *Resolver {
	return &Resolver{users: users, orgs: orgs, approvals: approvals}
}

// Resolve 解析节点审批人。
// 有审批组时按顺序求值，命中组的结果合并后直接返回（即使为空）；
// 解析结果去重保序，最后按 allow_self_approve 剔除申请人本人。
func (r *Resolver) Resolve(tx *gorm.DB, applicant applicantInfo, templateCompanyID *uint, node *workflow.Node, formData map[string]any, instanceID uint, currentStep int) ([]uint, error) {
	spec := specFromNode(node)
	return r.resolveSpec(tx, applicant, templateCompanyID, spec, formData, instanceID, currentStep)
}

func (r *Resolver) resolveSpec(tx *gorm.DB, applicant applicantInfo, templateCompanyID *uint, spec approverSpec, formData map[string]any, instanceID uint, currentStep int) ([]uint, error) {
	if len(spec.Groups) > 0 {
		matched := false
		var merged []uint
		seen := map[uint]bool{}
		for i := range spec.Groups {
			group := &spec.Groups[i]
			if group.Condition != nil && !workflow.EvalCondition(formData, group.Condition) {
				continue
			}
			matched = true
			groupIDs, err := r.resolveSpec(tx, applicant, templateCompanyID, specFromGroup(spec, group), formData, instanceID, currentStep)
			if err != nil {
				return nil, err
			}
			for _, userID := range groupIDs {
				if !seen[userID] {
					seen[userID] = true
					merged = append(merged, userID)
				}
			}
		}
		if matched {
			return merged, nil
		}
	}

	var approverIDs []uint
	var err error

	switch spec.ApproverType {
	case workflow.ApproverUser:
		if len(spec.UserIDs) == 0 {
			return nil, nil
		}
		approverIDs, err = r.activeUserIDs(spec.UserIDs)

	case workflow.ApproverRole:
		if len(spec.Roles) == 0 {
			return nil, nil
		}
		approverIDs, err = r.orgs.FindActiveUserIDsByRoleNames(spec.Roles, templateCompanyID)

	case workflow.ApproverManager, workflow.ApproverDepartmentManager:
		approverIDs, err = r.resolveManager(applicant)

	case workflow.ApproverPosition:
		positions := spec.Positions
		if len(positions) == 0 {
			positions = spec.Roles
		}
		if len(positions) == 0 {
			return nil, nil
		}
		approverIDs, err = r.orgs.FindActiveUserIDsByPositionNames(positions, templateCompanyID)

	case workflow.ApproverApplicantSelect:
		approverIDs, err = r.resolveApplicantSelect(spec.FieldKey, formData)

	case workflow.ApproverPreviousHandler:
		approverIDs, err = r.resolvePreviousHandler(tx, spec, instanceID, currentStep)
	}
	if err != nil {
		return nil, err
	}

	unique := make([]uint, 0, len(approverIDs))
	seen := map[uint]bool{}
	for _, userID := range approverIDs {
		if !seen[userID] {
			seen[userID] = true
			unique = append(unique, userID)
		}
	}

	if !spec.AllowSelfApprove {
		filtered := unique[:0]
		for _, userID := range unique {
			if userID != applicant.ID {
				filtered = append(filtered, userID)
			}
		}
		unique = filtered
	}
	return unique, nil
}

// resolveManager 直属上级近似解析：优先取申请人公司的子公司管理员，
// 没有则回退到集团管理员
func (r *Resolver) resolveManager(applicant applicantInfo) ([]uint, error) {
	if applicant.CompanyID != nil {
		admins, err := r.users.FindActiveAdmins(model.RoleSubsidiaryAdmin, applicant.CompanyID)
		if err != nil {
			return nil, err
		}
		if len(admins) > 0 {
			return userIDsOf(admins), nil
		}
	}
	admins, err := r.users.FindActiveAdmins(model.RoleGroupAdmin, nil)
	if err != nil {
		return nil, err
	}
	return userIDsOf(admins), nil
}

// resolveApplicantSelect 从表单字段取申请人自选的审批人，
// 支持 id 列表和逗号分隔字符串两种提交格式
func (r *Resolver) resolveApplicantSelect(fieldKey string, formData map[string]any) ([]uint, error) {
	fieldKey = strings.TrimSpace(fieldKey)
	if fieldKey == "" || formData == nil {
		return nil, nil
	}

	var candidates []any
	switch raw := formData[fieldKey].(type) {
	case []any:
		candidates = raw
	case string:
		if strings.Contains(raw, ",") {
			for _, item := range strings.Split(raw, ",") {
				candidates = append(candidates, strings.TrimSpace(item))
			}
		} else {
			candidates = []any{raw}
		}
	default:
		candidates = []any{raw}
	}

	var selected []uint
	seen := map[uint]bool{}
	for _, item := range candidates {
		userID := parseUserID(item)
		if userID > 0 && !seen[userID] {
			seen[userID] = true
			selected = append(selected, userID)
		}
	}
	if len(selected) == 0 {
		return nil, nil
	}
	return r.activeUserIDs(selected)
}

// resolvePreviousHandler 取 current_step - offset 那一步已出过决定的审批人
func (r *Resolver) resolvePreviousHandler(tx *gorm.DB, spec approverSpec, instanceID uint, currentStep int) ([]uint, error) {
	if instanceID == 0 || currentStep == 0 {
		return nil, nil
	}
	offset := spec.PreviousStepOffset
	if offset <= 0 {
		offset = 1
	}
	targetStep := currentStep - offset
	if targetStep <= 0 {
		return nil, nil
	}
	tasks, err := r.approvals.FindDecidedTasksAtStep(tx, instanceID, targetStep)
	if err != nil {
		return nil, err
	}
	ids := make([]uint, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ApproverID)
	}
	return ids, nil
}

func (r *Resolver) activeUserIDs(candidates []uint) ([]uint, error) {
	users, err := r.users.FindActiveUsersByIDs(candidates)
	if err != nil {
		return nil, err
	}
	return userIDsOf(users), nil
}

func userIDsOf(users []model.User) []uint {
	ids := make([]uint, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}
	return ids
}

func parseUserID(v any) uint {
	switch typed := v.(type) {
	case float64:
		if typed > 0 && typed == float64(int64(typed)) {
			return uint(typed)
		}
	case int:
		if typed > 0 {
			return uint(typed)
		}
	case int64:
		if typed > 0 {
			return uint(typed)
		}
	case uint:
		return typed
	case string:
		if n, err := strconv.ParseUint(strings.TrimSpace(typed), 10, 64); err == nil {
			return uint(n)
		}
	}
	return 0
}
