package approval

import (
	"testing"

	"github.com/fisker/zcrm-backend/internal/model"
)

func TestHandleActionAnyMode(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	carol := seedUser(t, db, "carol", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "报销流程",
		[]map[string]any{userStep("经理审批", []uint{bob.ID, carol.ID}, nil)})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	if detail.Status != model.InstanceStatusPending || detail.CurrentStep != 1 {
		t.Fatalf("实例状态 = %s 步骤 = %d, 期望 pending/1", detail.Status, detail.CurrentStep)
	}
	if tasks := stepTaskList(t, db, detail.ID, 1); len(tasks) != 2 {
		t.Fatalf("任务数 = %d, 期望 2", len(tasks))
	}

	result, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve", Comment: "同意"}, "")
	if err != nil {
		t.Fatalf("审批失败: %v", err)
	}
	if result.Detail.Status != model.InstanceStatusApproved {
		t.Fatalf("实例状态 = %s, 期望 approved", result.Detail.Status)
	}
	// 或签命中后同步骤其余任务跳过
	if status := taskStatusOf(t, db, detail.ID, carol.ID); status != model.TaskStatusSkipped {
		t.Errorf("carol 任务状态 = %s, 期望 skipped", status)
	}
}

func TestHandleActionAllMode(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	carol := seedUser(t, db, "carol", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "合同会签",
		[]map[string]any{userStep("会签", []uint{bob.ID, carol.ID},
			map[string]any{"approval_type": "all"})})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	result, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, "")
	if err != nil {
		t.Fatalf("bob 审批失败: %v", err)
	}
	if result.Detail.Status != model.InstanceStatusPending {
		t.Fatalf("会签未齐时实例状态 = %s, 期望 pending", result.Detail.Status)
	}

	result, err = svc.HandleAction(detail.ID, carol, &ActionRequest{Action: "approve"}, "")
	if err != nil {
		t.Fatalf("carol 审批失败: %v", err)
	}
	if result.Detail.Status != model.InstanceStatusApproved {
		t.Fatalf("会签齐后实例状态 = %s, 期望 approved", result.Detail.Status)
	}
}

func TestHandleActionSequential(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	carol := seedUser(t, db, "carol", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "逐级审批",
		[]map[string]any{userStep("逐级审批", []uint{bob.ID, carol.ID},
			map[string]any{"approval_type": "sequential"})})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	// 依次审批：第一人待审，其余排队
	if status := taskStatusOf(t, db, detail.ID, bob.ID); status != model.TaskStatusPending {
		t.Fatalf("bob 任务状态 = %s, 期望 pending", status)
	}
	if status := taskStatusOf(t, db, detail.ID, carol.ID); status != model.TaskStatusWaiting {
		t.Fatalf("carol 任务状态 = %s, 期望 waiting", status)
	}

	// carol 还没轮到，不能先审
	_, err := svc.HandleAction(detail.ID, carol, &ActionRequest{Action: "approve"}, "")
	assertErrCode(t, err, "no_pending_task")

	result, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, "")
	if err != nil {
		t.Fatalf("bob 审批失败: %v", err)
	}
	if result.Detail.Status != model.InstanceStatusPending {
		t.Fatalf("队列未走完实例状态 = %s, 期望 pending", result.Detail.Status)
	}
	if status := taskStatusOf(t, db, detail.ID, carol.ID); status != model.TaskStatusPending {
		t.Fatalf("bob 通过后 carol 任务状态 = %s, 期望 pending", status)
	}

	result, err = svc.HandleAction(detail.ID, carol, &ActionRequest{Action: "approve"}, "")
	if err != nil {
		t.Fatalf("carol 审批失败: %v", err)
	}
	if result.Detail.Status != model.InstanceStatusApproved {
		t.Fatalf("实例状态 = %s, 期望 approved", result.Detail.Status)
	}
}

func TestHandleActionReject(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	carol := seedUser(t, db, "carol", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "报销流程",
		[]map[string]any{userStep("会签", []uint{bob.ID, carol.ID},
			map[string]any{"approval_type": "all"})})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	// 单票否决：一人拒绝实例即终止
	result, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "reject", Comment: "金额有误"}, "")
	if err != nil {
		t.Fatalf("拒绝失败: %v", err)
	}
	if result.Detail.Status != model.InstanceStatusRejected {
		t.Fatalf("实例状态 = %s, 期望 rejected", result.Detail.Status)
	}
	if status := taskStatusOf(t, db, detail.ID, carol.ID); status != model.TaskStatusSkipped {
		t.Errorf("carol 任务状态 = %s, 期望 skipped", status)
	}

	// 终态实例不再接受动作
	_, err = svc.HandleAction(detail.ID, carol, &ActionRequest{Action: "approve"}, "")
	assertErrCode(t, err, "invalid_instance_status")
}

func TestCreateInstanceFailClosed(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	inactive := seedUserWithStatus(t, db, "dave", model.RoleUser, nil, "inactive")

	t.Run("审批人全部停用时直接拒绝", func(t *testing.T) {
		tpl := createActiveTemplate(t, svc, admin, "停用人流程",
			[]map[string]any{userStep("经理审批", []uint{inactive.ID}, nil)})
		detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})
		if detail.Status != model.InstanceStatusRejected {
			t.Fatalf("实例状态 = %s, 期望 rejected", detail.Status)
		}
	})

	t.Run("禁止自审批且仅剩申请人时直接拒绝", func(t *testing.T) {
		tpl := createActiveTemplate(t, svc, admin, "自审批流程",
			[]map[string]any{userStep("经理审批", []uint{applicant.ID},
				map[string]any{"allow_self_approve": false})})
		detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})
		if detail.Status != model.InstanceStatusRejected {
			t.Fatalf("实例状态 = %s, 期望 rejected", detail.Status)
		}
	})
}

func TestHandleActionWithdraw(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	stranger := seedUser(t, db, "carol", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "请假流程",
		[]map[string]any{userStep("经理审批", []uint{bob.ID}, nil)})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	t.Run("无关成员按不存在处理", func(t *testing.T) {
		_, err := svc.HandleAction(detail.ID, stranger, &ActionRequest{Action: "withdraw"}, "")
		assertErrCode(t, err, "not_found")
	})

	t.Run("审批人不能撤回", func(t *testing.T) {
		_, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "withdraw"}, "")
		assertErrCode(t, err, "forbidden")
	})

	t.Run("申请人撤回后任务跳过", func(t *testing.T) {
		result, err := svc.HandleAction(detail.ID, applicant, &ActionRequest{Action: "withdraw", Comment: "填错了"}, "")
		if err != nil {
			t.Fatalf("撤回失败: %v", err)
		}
		if result.Detail.Status != model.InstanceStatusWithdrawn {
			t.Fatalf("实例状态 = %s, 期望 withdrawn", result.Detail.Status)
		}
		if status := taskStatusOf(t, db, detail.ID, bob.ID); status != model.TaskStatusSkipped {
			t.Errorf("bob 任务状态 = %s, 期望 skipped", status)
		}
	})
}

func TestHandleActionRemind(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "报销流程",
		[]map[string]any{userStep("经理审批", []uint{bob.ID}, nil)})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	result, err := svc.HandleAction(detail.ID, applicant, &ActionRequest{Action: "remind", Comment: "请尽快处理"}, "")
	if err != nil {
		t.Fatalf("催办失败: %v", err)
	}
	// 催办只记流水不改状态
	if result.Detail.Status != model.InstanceStatusPending {
		t.Fatalf("实例状态 = %s, 期望 pending", result.Detail.Status)
	}
	if status := taskStatusOf(t, db, detail.ID, bob.ID); status != model.TaskStatusPending {
		t.Errorf("bob 任务状态 = %s, 期望 pending", status)
	}
	found := false
	for _, event := range result.Detail.Events {
		if event.Action == model.ActionRemind {
			found = true
		}
	}
	if !found {
		t.Errorf("流水里没有 remind 记录")
	}
}

func TestHandleActionTransfer(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	dave := seedUser(t, db, "dave", model.RoleUser, nil)
	inactive := seedUserWithStatus(t, db, "eve", model.RoleUser, nil, "inactive")

	tpl := createActiveTemplate(t, svc, admin, "报销流程",
		[]map[string]any{userStep("经理审批", []uint{bob.ID}, nil)})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	t.Run("不能转给自己", func(t *testing.T) {
		_, err := svc.HandleAction(detail.ID, bob,
			&ActionRequest{Action: "transfer", TargetUserID: bob.ID}, "")
		assertErrCode(t, err, "invalid_target_user")
	})

	t.Run("不能转给停用用户", func(t *testing.T) {
		_, err := svc.HandleAction(detail.ID, bob,
			&ActionRequest{Action: "transfer", TargetUserID: inactive.ID}, "")
		assertErrCode(t, err, "invalid_target_user")
	})

	t.Run("转办后由新审批人接手", func(t *testing.T) {
		_, err := svc.HandleAction(detail.ID, bob,
			&ActionRequest{Action: "transfer", TargetUserID: dave.ID, Comment: "出差中"}, "")
		if err != nil {
			t.Fatalf("转办失败: %v", err)
		}
		if status := taskStatusOf(t, db, detail.ID, bob.ID); status != model.TaskStatusSkipped {
			t.Fatalf("bob 任务状态 = %s, 期望 skipped", status)
		}
		if status := taskStatusOf(t, db, detail.ID, dave.ID); status != model.TaskStatusPending {
			t.Fatalf("dave 任务状态 = %s, 期望 pending", status)
		}

		result, err := svc.HandleAction(detail.ID, dave, &ActionRequest{Action: "approve"}, "")
		if err != nil {
			t.Fatalf("dave 审批失败: %v", err)
		}
		if result.Detail.Status != model.InstanceStatusApproved {
			t.Fatalf("实例状态 = %s, 期望 approved", result.Detail.Status)
		}
	})
}

func TestHandleActionAddSign(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	dave := seedUser(t, db, "dave", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "报销流程",
		[]map[string]any{userStep("经理审批", []uint{bob.ID}, nil)})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	t.Run("重复加签已有审批人报错", func(t *testing.T) {
		_, err := svc.HandleAction(detail.ID, bob,
			&ActionRequest{Action: "add_sign", TargetUserIDs: []uint{bob.ID}}, "")
		assertErrCode(t, err, "target_user_task_exists")
	})

	t.Run("加签后新审批人进入当前步骤", func(t *testing.T) {
		_, err := svc.HandleAction(detail.ID, bob,
			&ActionRequest{Action: "add_sign", TargetUserIDs: []uint{dave.ID}}, "")
		if err != nil {
			t.Fatalf("加签失败: %v", err)
		}
		if status := taskStatusOf(t, db, detail.ID, dave.ID); status != model.TaskStatusPending {
			t.Fatalf("dave 任务状态 = %s, 期望 pending", status)
		}

		// 或签节点任意一人通过即可，dave 的任务随之跳过
		result, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, "")
		if err != nil {
			t.Fatalf("bob 审批失败: %v", err)
		}
		if result.Detail.Status != model.InstanceStatusApproved {
			t.Fatalf("实例状态 = %s, 期望 approved", result.Detail.Status)
		}
		if status := taskStatusOf(t, db, detail.ID, dave.ID); status != model.TaskStatusSkipped {
			t.Errorf("dave 任务状态 = %s, 期望 skipped", status)
		}
	})
}

func TestHandleActionIdempotentReplay(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "报销流程",
		[]map[string]any{userStep("经理审批", []uint{bob.ID}, nil)})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	first, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, "retry-key-1")
	if err != nil {
		t.Fatalf("首次审批失败: %v", err)
	}
	if first.Replayed {
		t.Fatalf("首次执行不应是回放")
	}
	if first.Detail.Status != model.InstanceStatusApproved {
		t.Fatalf("实例状态 = %s, 期望 approved", first.Detail.Status)
	}

	// 同一 key 重放：返回缓存响应而不是 invalid_instance_status
	replay, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, "retry-key-1")
	if err != nil {
		t.Fatalf("重放失败: %v", err)
	}
	if !replay.Replayed {
		t.Fatalf("重复提交应命中幂等回放")
	}
	if replay.StatusCode != 200 || len(replay.Response) == 0 {
		t.Fatalf("回放响应异常: status=%d len=%d", replay.StatusCode, len(replay.Response))
	}

	// 不带 key 的重复提交按终态拒绝
	_, err = svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, "")
	assertErrCode(t, err, "invalid_instance_status")

	var records int64
	if err := db.Model(&model.ApprovalActionIdempotency{}).Count(&records).Error; err != nil {
		t.Fatalf("统计幂等记录失败: %v", err)
	}
	if records != 1 {
		t.Errorf("幂等记录数 = %d, 期望 1", records)
	}
}

func TestApplyFormDataPatch(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "报销流程",
		[]map[string]any{userStep("经理审批", []uint{bob.ID}, map[string]any{
			"field_permissions": []map[string]any{
				{"field_key": "amount", "can_edit": true},
				{"field_key": "reason", "can_view": true},
			},
		})})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100, "reason": "打车"})

	t.Run("改写不可编辑字段被拒", func(t *testing.T) {
		_, err := svc.HandleAction(detail.ID, bob, &ActionRequest{
			Action:   "approve",
			FormData: map[string]any{"reason": "改个事由"},
		}, "")
		assertErrCode(t, err, "field_update_forbidden")
	})

	t.Run("改写可编辑字段随审批生效", func(t *testing.T) {
		result, err := svc.HandleAction(detail.ID, bob, &ActionRequest{
			Action:   "approve",
			FormData: map[string]any{"amount": 250},
		}, "")
		if err != nil {
			t.Fatalf("审批失败: %v", err)
		}
		if result.Detail.Status != model.InstanceStatusApproved {
			t.Fatalf("实例状态 = %s, 期望 approved", result.Detail.Status)
		}
		if got, _ := result.Detail.FormData["amount"].(float64); got != 250 {
			t.Errorf("amount = %v, 期望 250", result.Detail.FormData["amount"])
		}
	})
}

func TestConditionalRouting(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	carol := seedUser(t, db, "carol", model.RoleUser, nil)

	// 大额才走 bob 初审，carol 终审必经
	steps := []map[string]any{
		userStep("大额初审", []uint{bob.ID}, map[string]any{
			"condition": map[string]any{
				"logic": "and",
				"rules": []map[string]any{{"field": "amount", "operator": "gt", "value": 500}},
			},
		}),
		userStep("终审", []uint{carol.ID}, nil),
	}
	tpl := createActiveTemplate(t, svc, admin, "分级报销", steps)

	t.Run("小额跳过初审", func(t *testing.T) {
		detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})
		if detail.CurrentStepName != "终审" {
			t.Fatalf("当前节点 = %s, 期望 终审", detail.CurrentStepName)
		}
		tasks := stepTaskList(t, db, detail.ID, detail.CurrentStep)
		if len(tasks) != 1 || tasks[0].ApproverID != carol.ID {
			t.Fatalf("任务分配错误: %+v", tasks)
		}
		result, err := svc.HandleAction(detail.ID, carol, &ActionRequest{Action: "approve"}, "")
		if err != nil {
			t.Fatalf("carol 审批失败: %v", err)
		}
		if result.Detail.Status != model.InstanceStatusApproved {
			t.Fatalf("实例状态 = %s, 期望 approved", result.Detail.Status)
		}
	})

	t.Run("大额两级审批", func(t *testing.T) {
		detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 2000})
		if detail.CurrentStepName != "大额初审" {
			t.Fatalf("当前节点 = %s, 期望 大额初审", detail.CurrentStepName)
		}

		result, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, "")
		if err != nil {
			t.Fatalf("bob 审批失败: %v", err)
		}
		if result.Detail.Status != model.InstanceStatusPending || result.Detail.CurrentStepName != "终审" {
			t.Fatalf("初审后状态 = %s 节点 = %s, 期望 pending/终审",
				result.Detail.Status, result.Detail.CurrentStepName)
		}

		result, err = svc.HandleAction(detail.ID, carol, &ActionRequest{Action: "approve"}, "")
		if err != nil {
			t.Fatalf("carol 审批失败: %v", err)
		}
		if result.Detail.Status != model.InstanceStatusApproved {
			t.Fatalf("实例状态 = %s, 期望 approved", result.Detail.Status)
		}
	})
}

func TestCCNodeAutoRecord(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	carol := seedUser(t, db, "carol", model.RoleUser, nil)

	steps := []map[string]any{
		{
			"name":              "财务抄送",
			"step_type":         "cc",
			"approver_type":     "user",
			"approver_user_ids": []uint{carol.ID},
		},
		userStep("经理审批", []uint{bob.ID}, nil),
	}
	tpl := createActiveTemplate(t, svc, admin, "带抄送流程", steps)
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	// 抄送不阻塞流程，实例停在审批节点
	if detail.CurrentStepName != "经理审批" {
		t.Fatalf("当前节点 = %s, 期望 经理审批", detail.CurrentStepName)
	}

	// 抄送任务落为 skipped 仅作记录
	var ccTask model.ApprovalInstanceTask
	if err := db.Where("instance_id = ? AND approver_id = ?", detail.ID, carol.ID).
		First(&ccTask).Error; err != nil {
		t.Fatalf("查询抄送任务失败: %v", err)
	}
	if ccTask.Status != model.TaskStatusSkipped || ccTask.Comment != "cc_auto_record" {
		t.Errorf("抄送任务 status = %s comment = %s", ccTask.Status, ccTask.Comment)
	}

	result, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, "")
	if err != nil {
		t.Fatalf("审批失败: %v", err)
	}
	if result.Detail.Status != model.InstanceStatusApproved {
		t.Fatalf("实例状态 = %s, 期望 approved", result.Detail.Status)
	}
}
