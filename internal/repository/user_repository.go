package repository

import (
	"time"

	"github.com/fisker/zcrm-backend/internal/model"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) CreateUser(user *model.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepository) FindUserByUsername(username string) (*model.User, error) {
	var user model.User
	err := r.db.Where("username = ?", username).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) FindUserByID(id uint) (*model.User, error) {
	var user model.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) UpdateUser(user *model.User) error {
	return r.db.Save(user).Error
}

func (r *UserRepository) UpdateUserLastLogin(userID uint, loginTime time.Time, loginIP string) error {
	return r.db.Model(&model.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"last_login_time": loginTime,
			"last_login_ip":   loginIP,
		}).Error
}

// FindUsers 分页查询用户，companyID 非空时限定公司
func (r *UserRepository) FindUsers(page, pageSize int, companyID *uint, keyword string) ([]model.User, int64, error) {
	var users []model.User
	var total int64

	query := r.db.Model(&model.User{})
	if companyID != nil {
		query = query.Where("company_id = ?", *companyID)
	}
	if keyword != "" {
		like := "%" + keyword + "%"
		query = query.Where("username LIKE ? OR name LIKE ? OR email LIKE ?", like, like, like)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Preload("Company").Offset(offset).Limit(pageSize).Order("id ASC").Find(&users).Error
	return users, total, err
}

// FindActiveUsersByIDs 只返回 active 用户，保持入参顺序无关
func (r *UserRepository) FindActiveUsersByIDs(ids []uint) ([]model.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var users []model.User
	err := r.db.Where("status = ? AND id IN ?", "active", ids).Order("id ASC").Find(&users).Error
	return users, err
}

// FindActiveAdmins 按角色查找 active 管理员，companyID 为 nil 时查集团管理员
func (r *UserRepository) FindActiveAdmins(role string, companyID *uint) ([]model.User, error) {
	var users []model.User
	query := r.db.Where("status = ? AND role = ?", "active", role)
	if companyID != nil {
		query = query.Where("company_id = ?", *companyID)
	}
	err := query.Order("id ASC").Find(&users).Error
	return users, err
}

func (r *UserRepository) DeleteUser(id uint) error {
	return r.db.Delete(&model.User{}, id).Error
}
