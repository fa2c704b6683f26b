package repository

import (
	"errors"

	"github.com/fisker/zcrm-backend/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApprovalRepository 审批实例、任务、流水与幂等记录数据访问。
// 所有改动实例状态的写操作由 service 层在事务里调用。
type ApprovalRepository struct {
	db *gorm.DB
}

func NewApprovalRepository(db *gorm.DB) *ApprovalRepository {
	return &ApprovalRepository{db: db}
}

// DB 暴露底层连接供 service 层开启事务
func (r *ApprovalRepository) DB() *gorm.DB {
	return r.db
}

// ===== 实例 =====

func (r *ApprovalRepository) CreateInstance(tx *gorm.DB, instance *model.ApprovalInstance) error {
	return tx.Create(instance).Error
}

func (r *ApprovalRepository) UpdateInstance(tx *gorm.DB, instance *model.ApprovalInstance) error {
	return tx.Save(instance).Error
}

func (r *ApprovalRepository) FindInstanceByID(id uint) (*model.ApprovalInstance, error) {
	var instance model.ApprovalInstance
	if err := r.db.Preload("Applicant").First(&instance, id).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// FindInstanceForUpdate 行锁读取，动作处理用
func (r *ApprovalRepository) FindInstanceForUpdate(tx *gorm.DB, id uint) (*model.ApprovalInstance, error) {
	var instance model.ApprovalInstance
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&instance, id).Error
	if err != nil {
		return nil, err
	}
	return &instance, nil
}

// FindInstancesByApplicant 我发起的
func (r *ApprovalRepository) FindInstancesByApplicant(applicantID uint, status string, page, pageSize int) ([]model.ApprovalInstance, int64, error) {
	query := r.db.Model(&model.ApprovalInstance{}).Where("applicant_id = ?", applicantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	return r.pageInstances(query, page, pageSize)
}

// FindInstancesByPendingApprover 我的待办：存在 pending 任务的实例
func (r *ApprovalRepository) FindInstancesByPendingApprover(approverID uint, page, pageSize int) ([]model.ApprovalInstance, int64, error) {
	sub := r.db.Model(&model.ApprovalInstanceTask{}).
		Select("instance_id").
		Where("approver_id = ? AND status = ?", approverID, model.TaskStatusPending)
	query := r.db.Model(&model.ApprovalInstance{}).
		Where("status = ?", model.InstanceStatusPending).
		Where("id IN (?)", sub)
	return r.pageInstances(query, page, pageSize)
}

// FindInstances 管理侧全量列表，companyID 非空时限定公司
func (r *ApprovalRepository) FindInstances(companyID *uint, status, keyword string, page, pageSize int) ([]model.ApprovalInstance, int64, error) {
	query := r.db.Model(&model.ApprovalInstance{})
	if companyID != nil {
		query = query.Where("company_id = ?", *companyID)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if keyword != "" {
		query = query.Where("title LIKE ? OR process_name LIKE ?", "%"+keyword+"%", "%"+keyword+"%")
	}
	return r.pageInstances(query, page, pageSize)
}

func (r *ApprovalRepository) pageInstances(query *gorm.DB, page, pageSize int) ([]model.ApprovalInstance, int64, error) {
	var instances []model.ApprovalInstance
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	offset := (page - 1) * pageSize
	err := query.Preload("Applicant").
		Order("id DESC").Offset(offset).Limit(pageSize).Find(&instances).Error
	return instances, total, err
}

// ===== 任务 =====

func (r *ApprovalRepository) CreateTask(tx *gorm.DB, task *model.ApprovalInstanceTask) error {
	return tx.Create(task).Error
}

func (r *ApprovalRepository) UpdateTask(tx *gorm.DB, task *model.ApprovalInstanceTask) error {
	return tx.Save(task).Error
}

// FindInstanceTasks 实例下全部任务，按步骤与创建顺序排列
func (r *ApprovalRepository) FindInstanceTasks(tx *gorm.DB, instanceID uint) ([]model.ApprovalInstanceTask, error) {
	var tasks []model.ApprovalInstanceTask
	err := tx.Where("instance_id = ?", instanceID).
		Order("step_no ASC, id ASC").Find(&tasks).Error
	return tasks, err
}

// FindStepTasks 指定步骤的任务
func (r *ApprovalRepository) FindStepTasks(tx *gorm.DB, instanceID uint, stepNo int) ([]model.ApprovalInstanceTask, error) {
	var tasks []model.ApprovalInstanceTask
	err := tx.Where("instance_id = ? AND step_no = ?", instanceID, stepNo).
		Order("id ASC").Find(&tasks).Error
	return tasks, err
}

// FindPendingTask 当前步骤中指定审批人的 pending 任务，没有返回 nil
func (r *ApprovalRepository) FindPendingTask(tx *gorm.DB, instanceID uint, stepNo int, approverID uint) (*model.ApprovalInstanceTask, error) {
	var task model.ApprovalInstanceTask
	err := tx.Where("instance_id = ? AND step_no = ? AND approver_id = ? AND status = ?",
		instanceID, stepNo, approverID, model.TaskStatusPending).
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// CountPendingTasksForUser 待办角标数
func (r *ApprovalRepository) CountPendingTasksForUser(userID uint) (int64, error) {
	var count int64
	err := r.db.Model(&model.ApprovalInstanceTask{}).
		Joins("JOIN approval_instances i ON i.id = approval_instance_tasks.instance_id").
		Where("approval_instance_tasks.approver_id = ? AND approval_instance_tasks.status = ?",
			userID, model.TaskStatusPending).
		Where("i.status = ?", model.InstanceStatusPending).
		Count(&count).Error
	return count, err
}

// FindDecidedTasksAtStep 某一步已做出决定的任务，加签人解析用
func (r *ApprovalRepository) FindDecidedTasksAtStep(tx *gorm.DB, instanceID uint, stepNo int) ([]model.ApprovalInstanceTask, error) {
	var tasks []model.ApprovalInstanceTask
	err := tx.Where("instance_id = ? AND step_no = ? AND decision <> ''", instanceID, stepNo).
		Order("id ASC").Find(&tasks).Error
	return tasks, err
}

// ===== 流水 =====

func (r *ApprovalRepository) CreateEvent(tx *gorm.DB, event *model.ApprovalInstanceEvent) error {
	return tx.Create(event).Error
}

func (r *ApprovalRepository) FindInstanceEvents(instanceID uint) ([]model.ApprovalInstanceEvent, error) {
	var events []model.ApprovalInstanceEvent
	err := r.db.Preload("User").
		Where("instance_id = ?", instanceID).
		Order("id ASC").Find(&events).Error
	return events, err
}

// ===== 幂等 =====

// FindIdempotencyRecord 命中返回记录，未命中返回 nil
func (r *ApprovalRepository) FindIdempotencyRecord(tx *gorm.DB, key string, instanceID, actorID uint, action string) (*model.ApprovalActionIdempotency, error) {
	var record model.ApprovalActionIdempotency
	err := tx.Where("idem_key = ? AND instance_id = ? AND actor_id = ? AND action = ?",
		key, instanceID, actorID, action).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// SaveIdempotencyRecord 并发下重复写入以先到者为准
func (r *ApprovalRepository) SaveIdempotencyRecord(tx *gorm.DB, record *model.ApprovalActionIdempotency) error {
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "idem_key"}, {Name: "instance_id"}, {Name: "actor_id"}, {Name: "action"},
		},
		DoNothing: true,
	}).Create(record).Error
}
