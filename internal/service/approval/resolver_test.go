package approval

import (
	"testing"

	"github.com/fisker/zcrm-backend/internal/model"
	"gorm.io/gorm"
)

func seedOrgRole(t *testing.T, db *gorm.DB, name string, companyID *uint) *model.OrgRole {
	t.Helper()
	role := &model.OrgRole{Name: name, CompanyID: companyID, Status: "active"}
	if err := db.Create(role).Error; err != nil {
		t.Fatalf("创建组织角色 %s 失败: %v", name, err)
	}
	return role
}

func bindUserRole(t *testing.T, db *gorm.DB, userID, roleID uint) {
	t.Helper()
	if err := db.Create(&model.UserOrgRole{UserID: userID, RoleID: roleID}).Error; err != nil {
		t.Fatalf("绑定用户角色失败: %v", err)
	}
}

func seedOrgPosition(t *testing.T, db *gorm.DB, name string, companyID *uint) *model.OrgPosition {
	t.Helper()
	position := &model.OrgPosition{Name: name, CompanyID: companyID, Status: "active"}
	if err := db.Create(position).Error; err != nil {
		t.Fatalf("创建岗位 %s 失败: %v", name, err)
	}
	return position
}

func bindUserPosition(t *testing.T, db *gorm.DB, userID, positionID uint) {
	t.Helper()
	if err := db.Create(&model.UserOrgPosition{UserID: userID, PositionID: positionID}).Error; err != nil {
		t.Fatalf("绑定用户岗位失败: %v", err)
	}
}

// TestRoleApproverResolution 两级流程：第一步按角色解析审批人，第二步指定用户，
// 终审拒绝后整单拒绝
func TestRoleApproverResolution(t *testing.T) {
	svc, db := newTestService(t)
	company := seedCompany(t, db, "华东子公司")
	other := seedCompany(t, db, "华北子公司")

	subAdmin := seedUser(t, db, "frank", model.RoleSubsidiaryAdmin, &company.ID)
	applicant := seedUser(t, db, "alice", model.RoleUser, &company.ID)
	manager := seedUser(t, db, "bob", model.RoleUser, &company.ID)
	inactive := seedUserWithStatus(t, db, "erin", model.RoleUser, &company.ID, "inactive")
	outsider := seedUser(t, db, "gina", model.RoleUser, &other.ID)
	final := seedUser(t, db, "dave", model.RoleUser, &company.ID)

	// 公司范围的 manager 角色：bob 在岗，erin 停用，gina 是别家公司的
	role := seedOrgRole(t, db, "manager", &company.ID)
	bindUserRole(t, db, manager.ID, role.ID)
	bindUserRole(t, db, inactive.ID, role.ID)
	bindUserRole(t, db, outsider.ID, role.ID)

	tpl, err := svc.CreateProcessTemplate(subAdmin, &CreateProcessTemplateRequest{
		Name:       "费用报销",
		Status:     "active",
		FormSchema: testFormSchema(t),
		Steps: rawJSON(t, []map[string]any{
			{"name": "经理审批", "approver_type": "role", "approver_roles": []string{"manager"}},
			userStep("终审", []uint{final.ID}, nil),
		}),
	})
	if err != nil {
		t.Fatalf("创建流程模板失败: %v", err)
	}
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 800})

	// 角色解析只命中本公司在岗成员
	tasks := stepTaskList(t, db, detail.ID, 1)
	if len(tasks) != 1 || tasks[0].ApproverID != manager.ID {
		t.Fatalf("第一步任务分配错误: %+v", tasks)
	}

	result, err := svc.HandleAction(detail.ID, manager, &ActionRequest{Action: "approve"}, "")
	if err != nil {
		t.Fatalf("bob 审批失败: %v", err)
	}
	if result.Detail.CurrentStepName != "终审" {
		t.Fatalf("当前节点 = %s, 期望 终审", result.Detail.CurrentStepName)
	}

	result, err = svc.HandleAction(detail.ID, final, &ActionRequest{Action: "reject", Comment: "不同意"}, "")
	if err != nil {
		t.Fatalf("dave 拒绝失败: %v", err)
	}
	if result.Detail.Status != model.InstanceStatusRejected {
		t.Fatalf("实例状态 = %s, 期望 rejected", result.Detail.Status)
	}
}

// TestRoleResolutionFailClosed 角色存在但没有任何在岗成员时，发起即拒绝
func TestRoleResolutionFailClosed(t *testing.T) {
	svc, db := newTestService(t)
	company := seedCompany(t, db, "华东子公司")
	subAdmin := seedUser(t, db, "frank", model.RoleSubsidiaryAdmin, &company.ID)
	applicant := seedUser(t, db, "alice", model.RoleUser, &company.ID)
	inactive := seedUserWithStatus(t, db, "erin", model.RoleUser, &company.ID, "inactive")

	role := seedOrgRole(t, db, "auditor", &company.ID)
	bindUserRole(t, db, inactive.ID, role.ID)

	tpl, err := svc.CreateProcessTemplate(subAdmin, &CreateProcessTemplateRequest{
		Name:       "专项审计",
		Status:     "active",
		FormSchema: testFormSchema(t),
		Steps: rawJSON(t, []map[string]any{
			{"name": "审计审批", "approver_type": "role", "approver_roles": []string{"auditor"}},
		}),
	})
	if err != nil {
		t.Fatalf("创建流程模板失败: %v", err)
	}

	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})
	if detail.Status != model.InstanceStatusRejected {
		t.Fatalf("实例状态 = %s, 期望 rejected", detail.Status)
	}
}

// TestApproverGroupGating 审批组按条件求值：命中组合并，未命中组跳过
func TestApproverGroupGating(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	carol := seedUser(t, db, "carol", model.RoleUser, nil)

	// 大额时财务组（carol）加入会签，经理组（bob）无条件命中
	definition := map[string]any{
		"start_node_id": "start",
		"nodes": []map[string]any{
			{"id": "start", "node_type": "start"},
			{
				"id": "n1", "name": "分组审批", "node_type": "approval",
				"approval_mode": "all",
				"approver_groups": []map[string]any{
					{
						"name": "经理组", "approver_type": "user",
						"approver_user_ids": []uint{bob.ID},
					},
					{
						"name": "财务组", "approver_type": "user",
						"approver_user_ids": []uint{carol.ID},
						"condition": map[string]any{
							"logic": "and",
							"rules": []map[string]any{{"field": "amount", "operator": "gt", "value": 1000}},
						},
					},
				},
			},
			{"id": "end", "node_type": "end"},
		},
		"edges": []map[string]any{
			{"source": "start", "target": "n1"},
			{"source": "n1", "target": "end"},
		},
	}
	tpl, err := svc.CreateProcessTemplate(admin, &CreateProcessTemplateRequest{
		Name:       "分组审批流程",
		Status:     "active",
		FormSchema: testFormSchema(t),
		Definition: rawJSON(t, definition),
	})
	if err != nil {
		t.Fatalf("创建流程模板失败: %v", err)
	}

	t.Run("大额两组合并", func(t *testing.T) {
		detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 2000})
		tasks := stepTaskList(t, db, detail.ID, 1)
		if len(tasks) != 2 {
			t.Fatalf("任务数 = %d, 期望 2", len(tasks))
		}
		if _, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, ""); err != nil {
			t.Fatalf("bob 审批失败: %v", err)
		}
		result, err := svc.HandleAction(detail.ID, carol, &ActionRequest{Action: "approve"}, "")
		if err != nil {
			t.Fatalf("carol 审批失败: %v", err)
		}
		if result.Detail.Status != model.InstanceStatusApproved {
			t.Fatalf("实例状态 = %s, 期望 approved", result.Detail.Status)
		}
	})

	t.Run("小额只命中经理组", func(t *testing.T) {
		detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 200})
		tasks := stepTaskList(t, db, detail.ID, 1)
		if len(tasks) != 1 || tasks[0].ApproverID != bob.ID {
			t.Fatalf("任务分配错误: %+v", tasks)
		}
	})
}

// TestManagerApproverResolution manager 解析为申请人公司的子公司管理员，
// 没有子公司管理员时回退到集团管理员
func TestManagerApproverResolution(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	companyA := seedCompany(t, db, "华东子公司")
	companyB := seedCompany(t, db, "华北子公司")
	subAdminA := seedUser(t, db, "frank", model.RoleSubsidiaryAdmin, &companyA.ID)
	applicantA := seedUser(t, db, "alice", model.RoleUser, &companyA.ID)
	applicantB := seedUser(t, db, "hank", model.RoleUser, &companyB.ID)

	tpl, err := svc.CreateProcessTemplate(admin, &CreateProcessTemplateRequest{
		Name:       "直属上级审批",
		Status:     "active",
		FormSchema: testFormSchema(t),
		Steps: rawJSON(t, []map[string]any{
			{"name": "上级审批", "approver_type": "manager"},
		}),
	})
	if err != nil {
		t.Fatalf("创建流程模板失败: %v", err)
	}

	t.Run("有子公司管理员时指派给他", func(t *testing.T) {
		detail := startInstance(t, svc, tpl, applicantA, map[string]any{"amount": 100})
		tasks := stepTaskList(t, db, detail.ID, 1)
		if len(tasks) != 1 || tasks[0].ApproverID != subAdminA.ID {
			t.Fatalf("任务分配错误: %+v", tasks)
		}
	})

	t.Run("无子公司管理员时回退集团管理员", func(t *testing.T) {
		detail := startInstance(t, svc, tpl, applicantB, map[string]any{"amount": 100})
		tasks := stepTaskList(t, db, detail.ID, 1)
		if len(tasks) != 1 || tasks[0].ApproverID != admin.ID {
			t.Fatalf("任务分配错误: %+v", tasks)
		}
	})
}

// TestApplicantSelectApprover 申请人通过表单字段自选审批人
func TestApplicantSelectApprover(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)

	schema := rawJSON(t, []map[string]any{
		{"key": "amount", "label": "金额", "type": "number", "required": true},
		{"key": "assignee", "label": "审批人", "type": "number"},
	})
	tpl, err := svc.CreateProcessTemplate(admin, &CreateProcessTemplateRequest{
		Name:       "自选审批",
		Status:     "active",
		FormSchema: schema,
		Steps: rawJSON(t, []map[string]any{
			{"name": "指定审批", "approver_type": "applicant_select", "approver_field_key": "assignee"},
		}),
	})
	if err != nil {
		t.Fatalf("创建流程模板失败: %v", err)
	}

	detail := startInstance(t, svc, tpl, applicant,
		map[string]any{"amount": 100, "assignee": bob.ID})
	tasks := stepTaskList(t, db, detail.ID, 1)
	if len(tasks) != 1 || tasks[0].ApproverID != bob.ID {
		t.Fatalf("任务分配错误: %+v", tasks)
	}
}

// TestPreviousHandlerApprover 第二步回到上一步实际出过决定的审批人
func TestPreviousHandlerApprover(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	carol := seedUser(t, db, "carol", model.RoleUser, nil)

	tpl, err := svc.CreateProcessTemplate(admin, &CreateProcessTemplateRequest{
		Name:       "复核流程",
		Status:     "active",
		FormSchema: testFormSchema(t),
		Steps: rawJSON(t, []map[string]any{
			userStep("初审", []uint{bob.ID, carol.ID}, nil),
			{"name": "复核", "approver_type": "previous_handler"},
		}),
	})
	if err != nil {
		t.Fatalf("创建流程模板失败: %v", err)
	}

	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})
	if _, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, ""); err != nil {
		t.Fatalf("bob 审批失败: %v", err)
	}

	// 复核指回初审实际处理人 bob，而不是未处理的 carol
	tasks := stepTaskList(t, db, detail.ID, 2)
	if len(tasks) != 1 || tasks[0].ApproverID != bob.ID {
		t.Fatalf("复核任务分配错误: %+v", tasks)
	}

	result, err := svc.HandleAction(detail.ID, bob, &ActionRequest{Action: "approve"}, "")
	if err != nil {
		t.Fatalf("bob 复核失败: %v", err)
	}
	if result.Detail.Status != model.InstanceStatusApproved {
		t.Fatalf("实例状态 = %s, 期望 approved", result.Detail.Status)
	}
}

// TestPositionApproverResolution 按岗位名解析集团级岗位的在岗成员
func TestPositionApproverResolution(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	bob := seedUser(t, db, "bob", model.RoleUser, nil)
	inactive := seedUserWithStatus(t, db, "erin", model.RoleUser, nil, "inactive")

	position := seedOrgPosition(t, db, "财务主管", nil)
	bindUserPosition(t, db, bob.ID, position.ID)
	bindUserPosition(t, db, inactive.ID, position.ID)

	tpl, err := svc.CreateProcessTemplate(admin, &CreateProcessTemplateRequest{
		Name:       "财务审批",
		Status:     "active",
		FormSchema: testFormSchema(t),
		Steps: rawJSON(t, []map[string]any{
			{"name": "财务审批", "approver_type": "position", "approver_positions": []string{"财务主管"}},
		}),
	})
	if err != nil {
		t.Fatalf("创建流程模板失败: %v", err)
	}

	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})
	tasks := stepTaskList(t, db, detail.ID, 1)
	if len(tasks) != 1 || tasks[0].ApproverID != bob.ID {
		t.Fatalf("任务分配错误: %+v", tasks)
	}
}
