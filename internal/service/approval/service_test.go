package approval

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestService 每个测试用独立的内存库，避免用例之间互相污染
func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("获取底层连接失败: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(
		&model.Company{}, &model.User{},
		&model.OrgRole{}, &model.OrgPosition{},
		&model.UserOrgRole{}, &model.UserOrgPosition{},
		&model.ApprovalFormTemplate{}, &model.ApprovalProcessTemplate{},
		&model.ApprovalProcessTemplateVersion{},
		&model.ApprovalInstance{}, &model.ApprovalInstanceTask{},
		&model.ApprovalInstanceEvent{}, &model.ApprovalActionIdempotency{},
	); err != nil {
		t.Fatalf("迁移测试表失败: %v", err)
	}

	svc := NewService(db,
		repository.NewApprovalRepository(db),
		repository.NewProcessTemplateRepository(db),
		repository.NewFormTemplateRepository(db),
		repository.NewCompanyRepository(db),
		repository.NewUserRepository(db),
		repository.NewOrganizationRepository(db),
	)
	return svc, db
}

func seedCompany(t *testing.T, db *gorm.DB, name string) *model.Company {
	t.Helper()
	company := &model.Company{Name: name, Status: "active"}
	if err := db.Create(company).Error; err != nil {
		t.Fatalf("创建测试公司失败: %v", err)
	}
	return company
}

func seedUser(t *testing.T, db *gorm.DB, username, role string, companyID *uint) *model.User {
	t.Helper()
	return seedUserWithStatus(t, db, username, role, companyID, "active")
}

func seedUserWithStatus(t *testing.T, db *gorm.DB, username, role string, companyID *uint, status string) *model.User {
	t.Helper()
	user := &model.User{
		Username:  username,
		Password:  "secret",
		Name:      username,
		Role:      role,
		CompanyID: companyID,
		Status:    status,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("创建测试用户 %s 失败: %v", username, err)
	}
	return user
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("序列化测试数据失败: %v", err)
	}
	return raw
}

func testFormSchema(t *testing.T) json.RawMessage {
	t.Helper()
	return rawJSON(t, []map[string]any{
		{"key": "amount", "label": "金额", "type": "number", "required": true},
		{"key": "reason", "label": "事由", "type": "text"},
	})
}

// userStep 构造一个指定审批人的旧版线性步骤
func userStep(name string, approverIDs []uint, extra map[string]any) map[string]any {
	step := map[string]any{
		"name":              name,
		"approver_type":     "user",
		"approver_user_ids": approverIDs,
	}
	for k, v := range extra {
		step[k] = v
	}
	return step
}

func createActiveTemplate(t *testing.T, svc *Service, admin *model.User, name string, steps []map[string]any) *model.ApprovalProcessTemplate {
	t.Helper()
	tpl, err := svc.CreateProcessTemplate(admin, &CreateProcessTemplateRequest{
		Name:       name,
		Status:     "active",
		FormSchema: testFormSchema(t),
		Steps:      rawJSON(t, steps),
	})
	if err != nil {
		t.Fatalf("创建流程模板失败: %v", err)
	}
	return tpl
}

func startInstance(t *testing.T, svc *Service, tpl *model.ApprovalProcessTemplate, applicant *model.User, formData map[string]any) *InstanceDetail {
	t.Helper()
	detail, err := svc.CreateInstance(applicant, &CreateInstanceRequest{
		ProcessTemplateID: tpl.ID,
		Title:             "测试审批单",
		FormData:          formData,
	})
	if err != nil {
		t.Fatalf("发起审批实例失败: %v", err)
	}
	return detail
}

func stepTaskList(t *testing.T, db *gorm.DB, instanceID uint, stepNo int) []model.ApprovalInstanceTask {
	t.Helper()
	var tasks []model.ApprovalInstanceTask
	if err := db.Where("instance_id = ? AND step_no = ?", instanceID, stepNo).
		Order("id ASC").Find(&tasks).Error; err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	return tasks
}

func taskStatusOf(t *testing.T, db *gorm.DB, instanceID uint, approverID uint) string {
	t.Helper()
	var task model.ApprovalInstanceTask
	if err := db.Where("instance_id = ? AND approver_id = ?", instanceID, approverID).
		Order("id DESC").First(&task).Error; err != nil {
		t.Fatalf("查询审批人 %d 的任务失败: %v", approverID, err)
	}
	return task.Status
}

func assertErrCode(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatalf("期望错误码 %s, 实际没有错误", code)
	}
	if got := AsError(err).Code; got != code {
		t.Fatalf("错误码 = %s, 期望 %s", got, code)
	}
}

func TestCountPendingTasks(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	approver := seedUser(t, db, "bob", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "报销流程",
		[]map[string]any{userStep("经理审批", []uint{approver.ID}, nil)})
	detail := startInstance(t, svc, tpl, applicant, map[string]any{"amount": 100})

	count, err := svc.CountPendingTasks(approver.ID)
	if err != nil {
		t.Fatalf("统计待办失败: %v", err)
	}
	if count != 1 {
		t.Fatalf("待办数 = %d, 期望 1", count)
	}

	if _, err := svc.HandleAction(detail.ID, approver, &ActionRequest{Action: "approve"}, ""); err != nil {
		t.Fatalf("审批失败: %v", err)
	}
	count, err = svc.CountPendingTasks(approver.ID)
	if err != nil {
		t.Fatalf("统计待办失败: %v", err)
	}
	if count != 0 {
		t.Fatalf("审批后待办数 = %d, 期望 0", count)
	}
}

func TestListInstancesScopes(t *testing.T) {
	svc, db := newTestService(t)
	admin := seedUser(t, db, "admin", model.RoleGroupAdmin, nil)
	applicant := seedUser(t, db, "alice", model.RoleUser, nil)
	approver := seedUser(t, db, "bob", model.RoleUser, nil)
	stranger := seedUser(t, db, "carol", model.RoleUser, nil)

	tpl := createActiveTemplate(t, svc, admin, "请假流程",
		[]map[string]any{userStep("经理审批", []uint{approver.ID}, nil)})
	startInstance(t, svc, tpl, applicant, map[string]any{"amount": 1})

	t.Run("申请人mine可见", func(t *testing.T) {
		items, total, err := svc.ListInstances(applicant, "mine", "", 1, 20)
		if err != nil {
			t.Fatalf("查询失败: %v", err)
		}
		if total != 1 || len(items) != 1 {
			t.Fatalf("total = %d, len = %d, 期望各为 1", total, len(items))
		}
	})

	t.Run("审批人pending可见", func(t *testing.T) {
		items, total, err := svc.ListInstances(approver, "pending", "", 1, 20)
		if err != nil {
			t.Fatalf("查询失败: %v", err)
		}
		if total != 1 {
			t.Fatalf("total = %d, 期望 1", total)
		}
		if !items[0].PendingAction {
			t.Errorf("pending_action 应为 true")
		}
	})

	t.Run("无关成员all不可见", func(t *testing.T) {
		_, total, err := svc.ListInstances(stranger, "all", "", 1, 20)
		if err != nil {
			t.Fatalf("查询失败: %v", err)
		}
		if total != 0 {
			t.Fatalf("total = %d, 期望 0", total)
		}
	})

	t.Run("集团管理员all可见", func(t *testing.T) {
		_, total, err := svc.ListInstances(admin, "all", "", 1, 20)
		if err != nil {
			t.Fatalf("查询失败: %v", err)
		}
		if total != 1 {
			t.Fatalf("total = %d, 期望 1", total)
		}
	})

	t.Run("非法scope报错", func(t *testing.T) {
		_, _, err := svc.ListInstances(applicant, "everything", "", 1, 20)
		assertErrCode(t, err, "invalid_scope")
	})

	t.Run("非法status报错", func(t *testing.T) {
		_, _, err := svc.ListInstances(applicant, "all", "done", 1, 20)
		assertErrCode(t, err, "invalid_status")
	})
}
