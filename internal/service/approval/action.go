package approval

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/workflow"
	"gorm.io/gorm"
)

// ActionRequest 审批动作请求
type ActionRequest struct {
	Action        string         `json:"action" binding:"required"`
	Comment       string         `json:"comment"`
	TargetUserID  uint           `json:"target_user_id"`
	TargetUserIDs []uint         `json:"target_user_ids"`
	FormData      map[string]any `json:"form_data"`
}

// ActionResult 动作执行结果。幂等命中时 Replayed 为 true，
// Response 是首次执行缓存下来的详情快照。
type ActionResult struct {
	Replayed   bool
	StatusCode int
	Response   json.RawMessage
	Detail     *InstanceDetail
}

var instanceActions = map[string]bool{
	model.ActionApprove: true, model.ActionReject: true, model.ActionWithdraw: true,
	model.ActionReturn: true, model.ActionTransfer: true, model.ActionAddSign: true,
	model.ActionRemind: true,
}

// NormalizeIdempotencyKey 去空白并截断到最大长度
func NormalizeIdempotencyKey(raw string) string {
	key := strings.TrimSpace(raw)
	if len(key) > workflow.IdempotencyKeyMaxLen {
		key = key[:workflow.IdempotencyKeyMaxLen]
	}
	return key
}

// HandleAction 处理一次审批动作。
// 整个动作在一个事务里执行：锁实例行 -> 幂等回放检查 -> 校验状态与
// 任务 -> 应用动作 -> 记流水 -> 推进引擎 -> 缓存幂等响应。
// 事务内任何一步失败则全部回滚。
func (s *Service) HandleAction(instanceID uint, actor *model.User, req *ActionRequest, rawIdemKey string) (*ActionResult, error) {
	action := strings.ToLower(strings.TrimSpace(req.Action))
	if !instanceActions[action] {
		return nil, errInvalidAction
	}
	idemKey := NormalizeIdempotencyKey(rawIdemKey)

	var result *ActionResult
	var badgeUserIDs []uint

	err := s.db.Transaction(func(tx *gorm.DB) error {
		instance, err := s.approvals.FindInstanceForUpdate(tx, instanceID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errNotFound
			}
			return err
		}

		var taskAccessCount int64
		if err := tx.Model(&model.ApprovalInstanceTask{}).
			Where("instance_id = ? AND approver_id = ?", instanceID, actor.ID).
			Count(&taskAccessCount).Error; err != nil {
			return err
		}
		if !canAccessInstance(actor, instance, taskAccessCount > 0) {
			return errNotFound
		}

		if idemKey != "" {
			record, err := s.approvals.FindIdempotencyRecord(tx, idemKey, instanceID, actor.ID, action)
			if err != nil {
				return err
			}
			if record != nil && len(record.Response) > 0 {
				statusCode := record.StatusCode
				if statusCode < 100 || statusCode > 599 {
					statusCode = http.StatusOK
				}
				result = &ActionResult{
					Replayed:   true,
					StatusCode: statusCode,
					Response:   json.RawMessage(record.Response),
				}
				return nil
			}
		}

		if instance.Status != model.InstanceStatusPending {
			return errInvalidInstanceStatus
		}

		definition := loadInstanceDefinition(instance)
		node := currentNode(instance, definition)
		approvalType := ""
		if node != nil {
			approvalType = node.ApprovalType
		}

		switch action {
		case model.ActionWithdraw:
			err = s.doWithdraw(tx, instance, actor, req.Comment)
		case model.ActionRemind:
			err = s.doRemind(tx, instance, actor, req.Comment)
		default:
			err = s.doTaskAction(tx, instance, actor, action, approvalType, node, req, &badgeUserIDs)
		}
		if err != nil {
			return err
		}

		detail, err := s.buildDetail(tx, instanceID, actor)
		if err != nil {
			return err
		}
		result = &ActionResult{StatusCode: http.StatusOK, Detail: detail}

		if idemKey != "" {
			record := &model.ApprovalActionIdempotency{
				IdemKey:    idemKey,
				InstanceID: instanceID,
				ActorID:    actor.ID,
				Action:     action,
				Response:   marshalJSON(detail),
				StatusCode: http.StatusOK,
			}
			if err := s.approvals.SaveIdempotencyRecord(tx, record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !result.Replayed {
		badgeUserIDs = append(badgeUserIDs, actor.ID)
		s.invalidatePendingBadge(badgeUserIDs...)
	}
	return result, nil
}

// doWithdraw 撤回：仅申请人可撤，未完结任务全部跳过
func (s *Service) doWithdraw(tx *gorm.DB, instance *model.ApprovalInstance, actor *model.User, comment string) error {
	if instance.ApplicantID != actor.ID {
		return errForbidden
	}
	now := time.Now()
	instance.Status = model.InstanceStatusWithdrawn
	instance.FinishedAt = &now
	if err := s.approvals.UpdateInstance(tx, instance); err != nil {
		return err
	}
	if err := tx.Model(&model.ApprovalInstanceTask{}).
		Where("instance_id = ? AND status IN ?", instance.ID,
			[]string{model.TaskStatusPending, model.TaskStatusWaiting}).
		Update("status", model.TaskStatusSkipped).Error; err != nil {
		return err
	}
	return s.engine.logEvent(tx, instance.ID, actor.ID, model.ActionWithdraw, nil, comment, nil)
}

// doRemind 催办：只记流水，不改任何状态
func (s *Service) doRemind(tx *gorm.DB, instance *model.ApprovalInstance, actor *model.User, comment string) error {
	var pendingTasks []model.ApprovalInstanceTask
	if err := tx.Where("instance_id = ? AND step_no = ? AND status = ?",
		instance.ID, instance.CurrentStep, model.TaskStatusPending).
		Order("id ASC").Find(&pendingTasks).Error; err != nil {
		return err
	}
	if len(pendingTasks) == 0 {
		return errNoPendingTask
	}
	seen := map[uint]bool{}
	var remindedIDs []uint
	for _, task := range pendingTasks {
		if !seen[task.ApproverID] {
			seen[task.ApproverID] = true
			remindedIDs = append(remindedIDs, task.ApproverID)
		}
	}
	sort.Slice(remindedIDs, func(i, j int) bool { return remindedIDs[i] < remindedIDs[j] })
	return s.engine.logEvent(tx, instance.ID, actor.ID, model.ActionRemind, nil, comment,
		map[string]any{"reminded_user_ids": remindedIDs})
}

// doTaskAction 需要 actor 在当前步骤持有 pending 任务的动作
func (s *Service) doTaskAction(tx *gorm.DB, instance *model.ApprovalInstance, actor *model.User, action, approvalType string, node *workflow.Node, req *ActionRequest, badgeUserIDs *[]uint) error {
	task, err := s.lockPendingTask(tx, instance, actor.ID)
	if err != nil {
		return err
	}
	if task == nil {
		return errNoPendingTask
	}

	var updatedFields []string
	if action == model.ActionApprove && len(req.FormData) > 0 {
		updatedFields, err = s.applyFormDataPatch(tx, instance, node, req.FormData)
		if err != nil {
			return err
		}
	}

	switch action {
	case model.ActionTransfer:
		return s.doTransfer(tx, instance, actor, task, req, badgeUserIDs)
	case model.ActionAddSign:
		return s.doAddSign(tx, instance, actor, task, approvalType, req, badgeUserIDs)
	case model.ActionReject, model.ActionReturn:
		return s.doReject(tx, instance, actor, task, action, req.Comment)
	}

	// approve
	now := time.Now()
	task.Status = model.TaskStatusApproved
	task.Decision = "approve"
	task.Comment = req.Comment
	task.ActedAt = &now
	if err := s.approvals.UpdateTask(tx, task); err != nil {
		return err
	}
	var detail any
	if len(updatedFields) > 0 {
		sort.Strings(updatedFields)
		detail = map[string]any{"updated_fields": updatedFields}
	}
	if err := s.engine.logEvent(tx, instance.ID, actor.ID, model.ActionApprove, &task.ID, req.Comment, detail); err != nil {
		return err
	}
	return s.engine.Advance(tx, instance)
}

func (s *Service) lockPendingTask(tx *gorm.DB, instance *model.ApprovalInstance, approverID uint) (*model.ApprovalInstanceTask, error) {
	var task model.ApprovalInstanceTask
	err := tx.Clauses(lockForUpdate()).
		Where("instance_id = ? AND step_no = ? AND approver_id = ? AND status = ?",
			instance.ID, instance.CurrentStep, approverID, model.TaskStatusPending).
		Order("id ASC").First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// applyFormDataPatch 审批时改写表单：只允许当前节点 can_edit 的字段，
// 合并后按快照 schema 重新校验，再检查节点级必填
func (s *Service) applyFormDataPatch(tx *gorm.DB, instance *model.ApprovalInstance, node *workflow.Node, patch map[string]any) ([]string, error) {
	editableKeys := editableFieldKeys(node)
	if len(editableKeys) == 0 {
		return nil, errFieldUpdateNotAllowed
	}
	var invalidKeys []string
	for key := range patch {
		if !editableKeys[key] {
			invalidKeys = append(invalidKeys, key)
		}
	}
	if len(invalidKeys) > 0 {
		sort.Strings(invalidKeys)
		return nil, newErrorWithDetails("field_update_forbidden", http.StatusBadRequest,
			map[string]any{"fields": invalidKeys})
	}

	schema := loadInstanceFormSchema(instance)
	if schema == nil {
		return nil, errInvalidFormSchema
	}

	merged := loadInstanceFormData(instance)
	updatedFields := make([]string, 0, len(patch))
	for key, value := range patch {
		merged[key] = value
		updatedFields = append(updatedFields, key)
	}

	normalized, err := workflow.ValidateFormData(schema, merged)
	if err != nil {
		return nil, newError(err.Error(), http.StatusBadRequest)
	}

	for fieldKey, permission := range buildFieldPermissionMap(node.FieldPermissions) {
		if permission.Required && permission.CanEdit && workflow.IsEmptyValue(normalized[fieldKey]) {
			return nil, newError("missing_required_field:"+fieldKey, http.StatusBadRequest)
		}
	}

	instance.FormData = marshalJSON(normalized)
	return updatedFields, s.approvals.UpdateInstance(tx, instance)
}

// doTransfer 转办：本人任务跳过并注明去向，给目标人开新的待审任务
func (s *Service) doTransfer(tx *gorm.DB, instance *model.ApprovalInstance, actor *model.User, task *model.ApprovalInstanceTask, req *ActionRequest, badgeUserIDs *[]uint) error {
	targetUserID := req.TargetUserID
	if targetUserID == 0 || targetUserID == actor.ID {
		return errInvalidTargetUser
	}
	targetUser, err := s.users.FindUserByID(targetUserID)
	if err != nil || !targetUser.IsActive() {
		return errInvalidTargetUser
	}

	var existingCount int64
	if err := tx.Model(&model.ApprovalInstanceTask{}).
		Where("instance_id = ? AND step_no = ? AND approver_id = ?",
			instance.ID, instance.CurrentStep, targetUserID).
		Count(&existingCount).Error; err != nil {
		return err
	}
	if existingCount > 0 {
		return errTargetTaskExists
	}

	now := time.Now()
	comment := "transfer_to:" + uintString(targetUserID)
	if req.Comment != "" {
		comment += "; " + req.Comment
	}
	task.Status = model.TaskStatusSkipped
	task.Comment = comment
	task.ActedAt = &now
	if err := s.approvals.UpdateTask(tx, task); err != nil {
		return err
	}

	newTask := &model.ApprovalInstanceTask{
		InstanceID:   instance.ID,
		StepNo:       instance.CurrentStep,
		StepName:     task.StepName,
		ApprovalMode: task.ApprovalMode,
		ApproverID:   targetUserID,
		Status:       model.TaskStatusPending,
		Comment:      "transferred_from_current_approver",
	}
	if err := s.approvals.CreateTask(tx, newTask); err != nil {
		return err
	}

	*badgeUserIDs = append(*badgeUserIDs, targetUserID)
	return s.engine.logEvent(tx, instance.ID, actor.ID, model.ActionTransfer, &newTask.ID, req.Comment,
		map[string]any{"from_user_id": actor.ID, "to_user_id": targetUserID})
}

// doAddSign 加签：在当前步骤为新审批人追加任务，依次审批的步骤追加为候补
func (s *Service) doAddSign(tx *gorm.DB, instance *model.ApprovalInstance, actor *model.User, task *model.ApprovalInstanceTask, approvalType string, req *ActionRequest, badgeUserIDs *[]uint) error {
	rawTargets := req.TargetUserIDs
	if len(rawTargets) == 0 && req.TargetUserID > 0 {
		rawTargets = []uint{req.TargetUserID}
	}
	var targetUserIDs []uint
	seen := map[uint]bool{}
	for _, userID := range rawTargets {
		if userID > 0 && !seen[userID] {
			seen[userID] = true
			targetUserIDs = append(targetUserIDs, userID)
		}
	}
	if len(targetUserIDs) == 0 {
		return errInvalidTargetUser
	}

	validUsers, err := s.users.FindActiveUsersByIDs(targetUserIDs)
	if err != nil {
		return err
	}
	if len(validUsers) == 0 {
		return errInvalidTargetUser
	}

	var existingApproverIDs []uint
	if err := tx.Model(&model.ApprovalInstanceTask{}).
		Where("instance_id = ? AND step_no = ?", instance.ID, instance.CurrentStep).
		Pluck("approver_id", &existingApproverIDs).Error; err != nil {
		return err
	}
	existing := map[uint]bool{}
	for _, approverID := range existingApproverIDs {
		existing[approverID] = true
	}

	newStatus := model.TaskStatusPending
	if approvalType == workflow.ApprovalTypeSequential {
		newStatus = model.TaskStatusWaiting
	}

	var addedIDs []uint
	for _, user := range validUsers {
		if existing[user.ID] {
			continue
		}
		newTask := &model.ApprovalInstanceTask{
			InstanceID:   instance.ID,
			StepNo:       instance.CurrentStep,
			StepName:     task.StepName,
			ApprovalMode: task.ApprovalMode,
			ApproverID:   user.ID,
			Status:       newStatus,
			Comment:      "add_sign_added",
		}
		if err := s.approvals.CreateTask(tx, newTask); err != nil {
			return err
		}
		addedIDs = append(addedIDs, user.ID)
	}
	if len(addedIDs) == 0 {
		return errTargetTaskExists
	}

	*badgeUserIDs = append(*badgeUserIDs, addedIDs...)
	return s.engine.logEvent(tx, instance.ID, actor.ID, model.ActionAddSign, &task.ID, req.Comment,
		map[string]any{"added_user_ids": addedIDs})
}

// doReject 拒绝（return 当前与 reject 等价）：单票否决，
// 同步骤其余未完结任务跳过，实例整体拒绝
func (s *Service) doReject(tx *gorm.DB, instance *model.ApprovalInstance, actor *model.User, task *model.ApprovalInstanceTask, action, comment string) error {
	if action == model.ActionReturn && comment == "" {
		comment = "returned_by_approver"
	}
	now := time.Now()
	task.Status = model.TaskStatusRejected
	task.Decision = "reject"
	task.Comment = comment
	task.ActedAt = &now
	if err := s.approvals.UpdateTask(tx, task); err != nil {
		return err
	}
	if err := tx.Model(&model.ApprovalInstanceTask{}).
		Where("instance_id = ? AND step_no = ? AND status IN ?",
			instance.ID, instance.CurrentStep,
			[]string{model.TaskStatusPending, model.TaskStatusWaiting}).
		Update("status", model.TaskStatusSkipped).Error; err != nil {
		return err
	}
	if err := s.engine.markFinished(tx, instance, model.InstanceStatusRejected); err != nil {
		return err
	}
	return s.engine.logEvent(tx, instance.ID, actor.ID, action, &task.ID, comment, nil)
}
