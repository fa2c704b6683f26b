package approval

import (
	"fmt"
	"time"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/repository"
	"github.com/fisker/zcrm-backend/internal/workflow"
	"github.com/fisker/zcrm-backend/pkg/logger"
	"gorm.io/gorm"
)

// Engine 审批路由引擎：沿流程图推进实例，创建审批任务，
// 推进逻辑全部在调用方开启的事务里同步执行。
type Engine struct {
	approvals *repository.ApprovalRepository
	resolver  *Resolver
}

func NewEngine(approvals *repository.ApprovalRepository, resolver *Resolver) *Engine {
	return &Engine{approvals: approvals, resolver: resolver}
}

// RouteForward 从 startNodeID 出发沿出边推进，直到创建出新的待审任务
// 或实例进入终态。返回 true 表示停在了一个等待审批的节点。
//
// 推进规则：
//   - 出边按 (priority, id) 排序，取第一条条件命中的边，否则第一条默认分支；
//   - start/condition/parallel_start/parallel_join 节点透传；
//   - 节点自身带 condition 且不命中时跳过该节点继续走；
//   - 没有可走的边视为流程走完，实例通过；
//   - 审批节点解析不出任何审批人时实例直接拒绝（宁可失败不可漏审）；
//   - 跳数超过 max(20, 3*节点数) 视为定义异常，实例拒绝。
func (e *Engine) RouteForward(tx *gorm.DB, instance *model.ApprovalInstance, startNodeID string) (bool, error) {
	def := loadInstanceDefinition(instance)
	formData := loadInstanceFormData(instance)
	applicant := applicantInfo{ID: instance.ApplicantID, CompanyID: instance.CompanyID}
	idx := workflow.NewRouteIndex(def)

	if idx.NodeCount() == 0 {
		return false, e.markFinished(tx, instance, model.InstanceStatusApproved)
	}

	currentNodeID := startNodeID
	if idx.Node(currentNodeID) == nil {
		currentNodeID = def.StartNodeID
	}
	if idx.Node(currentNodeID) == nil {
		return false, e.markFinished(tx, instance, model.InstanceStatusRejected)
	}

	for hop := 0; hop < idx.MaxHops(); hop++ {
		nextEdge := idx.NextEdge(currentNodeID, formData)
		if nextEdge == nil {
			return false, e.markFinished(tx, instance, model.InstanceStatusApproved)
		}

		nextNode := idx.Node(nextEdge.Target)
		if nextNode == nil {
			return false, e.markFinished(tx, instance, model.InstanceStatusRejected)
		}

		// 节点级条件不命中时跳过该节点
		if !workflow.EvalCondition(formData, nextNode.Condition) {
			currentNodeID = nextNode.ID
			continue
		}

		switch nextNode.NodeType {
		case workflow.NodeStart, workflow.NodeCondition, workflow.NodeParallelStart, workflow.NodeParallelJoin:
			currentNodeID = nextNode.ID
			continue

		case workflow.NodeEnd:
			instance.CurrentNodeID = nextNode.ID
			instance.CurrentStepName = nextNode.Name
			if err := e.approvals.UpdateInstance(tx, instance); err != nil {
				return false, err
			}
			return false, e.markFinished(tx, instance, model.InstanceStatusApproved)
		}

		stepNo := instance.CurrentStep + 1

		if nextNode.NodeType == workflow.NodeSubprocess {
			// 子流程暂未启用：记录流水后按透传处理
			instance.CurrentStep = stepNo
			instance.CurrentStepName = nextNode.Name
			instance.CurrentNodeID = nextNode.ID
			if err := e.approvals.UpdateInstance(tx, instance); err != nil {
				return false, err
			}
			if err := e.logEvent(tx, instance.ID, instance.ApplicantID, "subprocess_auto", nil,
				"subprocess_not_enabled_yet", map[string]any{
					"subprocess_template_id": nextNode.SubprocessTemplateID,
					"node_id":                nextNode.ID,
				}); err != nil {
				return false, err
			}
			currentNodeID = nextNode.ID
			continue
		}

		approverIDs, err := e.resolver.Resolve(tx, applicant, instance.CompanyID, nextNode, formData, instance.ID, stepNo)
		if err != nil {
			return false, err
		}

		if nextNode.NodeType == workflow.NodeCC {
			if len(approverIDs) > 0 {
				mode := nextNode.ApprovalMode
				if mode == "" {
					mode = workflow.ApprovalModeAny
				}
				if err := e.createStepTasks(tx, instance.ID, stepNo, nextNode.Name, mode,
					approverIDs, model.TaskStatusSkipped, "cc_auto_record"); err != nil {
					return false, err
				}
			}
			instance.CurrentStep = stepNo
			instance.CurrentStepName = nextNode.Name
			instance.CurrentNodeID = nextNode.ID
			if err := e.approvals.UpdateInstance(tx, instance); err != nil {
				return false, err
			}
			currentNodeID = nextNode.ID
			continue
		}

		// 审批节点解析不出审批人时宁可拒绝也不放行
		if len(approverIDs) == 0 {
			logger.Warnf("审批实例 %d 在节点 %s 未解析出审批人，按拒绝处理", instance.ID, nextNode.ID)
			return false, e.markFinished(tx, instance, model.InstanceStatusRejected)
		}

		if nextNode.ApprovalType == workflow.ApprovalTypeSequential && len(approverIDs) > 1 {
			if err := e.createSequentialTasks(tx, instance.ID, stepNo, nextNode.Name, approverIDs); err != nil {
				return false, err
			}
		} else {
			mode := nextNode.ApprovalMode
			if mode == "" {
				mode = workflow.ApprovalModeAny
			}
			if err := e.createStepTasks(tx, instance.ID, stepNo, nextNode.Name, mode,
				approverIDs, model.TaskStatusPending, ""); err != nil {
				return false, err
			}
		}

		instance.CurrentStep = stepNo
		instance.CurrentStepName = nextNode.Name
		instance.CurrentNodeID = nextNode.ID
		instance.Status = model.InstanceStatusPending
		instance.FinishedAt = nil
		return true, e.approvals.UpdateInstance(tx, instance)
	}

	logger.Warnf("审批实例 %d 路由超过最大跳数，按拒绝处理", instance.ID)
	return false, e.markFinished(tx, instance, model.InstanceStatusRejected)
}

// Advance 当前步骤有任务变化后检查是否可以进入下一步。
//
//   - sequential：还有 pending 的不动；有 waiting 的把队首提为 pending；
//     全部通过才算步骤完成；
//   - any：有一个通过即完成；
//   - all：没有 pending/waiting 且未跳过的任务全部通过才完成。
//
// 步骤完成后把剩余 pending/waiting 任务置为 skipped，再继续向前路由。
func (e *Engine) Advance(tx *gorm.DB, instance *model.ApprovalInstance) error {
	def := loadInstanceDefinition(instance)
	node := currentNode(instance, def)
	approvalType := ""
	if node != nil {
		approvalType = node.ApprovalType
	}

	stepTasks, err := e.approvals.FindStepTasks(tx, instance.ID, instance.CurrentStep)
	if err != nil {
		return err
	}
	if len(stepTasks) == 0 {
		return nil
	}

	approvalMode := stepTasks[0].ApprovalMode
	if approvalMode == "" {
		approvalMode = workflow.ApprovalModeAny
	}

	var approvedCount, pendingCount, activeCount, activeApproved int
	var waitingTasks []model.ApprovalInstanceTask
	for _, task := range stepTasks {
		switch task.Status {
		case model.TaskStatusSkipped:
			continue
		case model.TaskStatusWaiting:
			waitingTasks = append(waitingTasks, task)
		case model.TaskStatusPending:
			pendingCount++
			activeCount++
		case model.TaskStatusApproved:
			approvedCount++
			activeCount++
			activeApproved++
		default:
			activeCount++
		}
	}

	stepDone := false
	switch {
	case approvalType == workflow.ApprovalTypeSequential:
		if pendingCount > 0 {
			return nil
		}
		if len(waitingTasks) > 0 {
			// 队首候补提为待审，comment 里的 sequential_waiting 标记清掉
			return tx.Model(&model.ApprovalInstanceTask{}).
				Where("id = ? AND status = ?", waitingTasks[0].ID, model.TaskStatusWaiting).
				Updates(map[string]any{"status": model.TaskStatusPending, "comment": nil}).Error
		}
		stepDone = approvedCount > 0 && activeApproved == activeCount
	case approvalMode == workflow.ApprovalModeAny:
		stepDone = approvedCount > 0
	default:
		stepDone = activeCount > 0 && pendingCount == 0 && len(waitingTasks) == 0 &&
			activeApproved == activeCount
	}

	if !stepDone {
		return nil
	}

	if err := tx.Model(&model.ApprovalInstanceTask{}).
		Where("instance_id = ? AND step_no = ? AND status IN ?",
			instance.ID, instance.CurrentStep,
			[]string{model.TaskStatusPending, model.TaskStatusWaiting}).
		Update("status", model.TaskStatusSkipped).Error; err != nil {
		return err
	}

	startNodeID := instance.CurrentNodeID
	if startNodeID == "" && instance.CurrentStep > 0 {
		// 旧快照没有 current_node_id，按线性流程的节点命名回推
		startNodeID = fmt.Sprintf("step_%d", instance.CurrentStep)
	}
	_, err = e.RouteForward(tx, instance, startNodeID)
	return err
}

func (e *Engine) markFinished(tx *gorm.DB, instance *model.ApprovalInstance, status string) error {
	now := time.Now()
	instance.Status = status
	instance.FinishedAt = &now
	return e.approvals.UpdateInstance(tx, instance)
}

func (e *Engine) createStepTasks(tx *gorm.DB, instanceID uint, stepNo int, stepName, approvalMode string, approverIDs []uint, status, comment string) error {
	for _, approverID := range approverIDs {
		task := &model.ApprovalInstanceTask{
			InstanceID:   instanceID,
			StepNo:       stepNo,
			StepName:     stepName,
			ApprovalMode: approvalMode,
			ApproverID:   approverID,
			Status:       status,
			Comment:      comment,
		}
		if err := e.approvals.CreateTask(tx, task); err != nil {
			return err
		}
	}
	return nil
}

// createSequentialTasks 依次审批：第一个人 pending，其余 waiting 排队
func (e *Engine) createSequentialTasks(tx *gorm.DB, instanceID uint, stepNo int, stepName string, approverIDs []uint) error {
	for idx, approverID := range approverIDs {
		task := &model.ApprovalInstanceTask{
			InstanceID:   instanceID,
			StepNo:       stepNo,
			StepName:     stepName,
			ApprovalMode: workflow.ApprovalModeAll,
			ApproverID:   approverID,
			Status:       model.TaskStatusPending,
		}
		if idx > 0 {
			task.Status = model.TaskStatusWaiting
			task.Comment = "sequential_waiting"
		}
		if err := e.approvals.CreateTask(tx, task); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) logEvent(tx *gorm.DB, instanceID, userID uint, action string, taskID *uint, comment string, detail any) error {
	event := &model.ApprovalInstanceEvent{
		InstanceID: instanceID,
		TaskID:     taskID,
		UserID:     userID,
		Action:     action,
		Comment:    comment,
	}
	if detail != nil {
		event.Detail = marshalJSON(detail)
	}
	return e.approvals.CreateEvent(tx, event)
}
