package repository

import (
	"github.com/fisker/zcrm-backend/internal/model"
	"gorm.io/gorm"
)

// OrganizationRepository 组织维度（角色/岗位）数据访问
type OrganizationRepository struct {
	db *gorm.DB
}

func NewOrganizationRepository(db *gorm.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// ===== 角色 =====

func (r *OrganizationRepository) CreateRole(role *model.OrgRole) error {
	return r.db.Create(role).Error
}

func (r *OrganizationRepository) UpdateRole(role *model.OrgRole) error {
	return r.db.Save(role).Error
}

func (r *OrganizationRepository) FindRoleByID(id uint) (*model.OrgRole, error) {
	var role model.OrgRole
	if err := r.db.First(&role, id).Error; err != nil {
		return nil, err
	}
	return &role, nil
}

// FindRoles companyID 非空时返回该公司与集团级角色
func (r *OrganizationRepository) FindRoles(companyID *uint) ([]model.OrgRole, error) {
	var roles []model.OrgRole
	query := r.db.Where("status = ?", "active")
	if companyID != nil {
		query = query.Where("company_id = ? OR company_id IS NULL", *companyID)
	}
	err := query.Order("id ASC").Find(&roles).Error
	return roles, err
}

// FindRolesForAdmin 管理端角色列表。companyID 为 0 表示只看集团级，
// includeGlobal 时额外带上集团级角色。集团级排最前。
func (r *OrganizationRepository) FindRolesForAdmin(companyID *uint, includeGlobal bool, status, name string) ([]model.OrgRole, error) {
	query := r.db.Model(&model.OrgRole{})
	if companyID != nil {
		switch {
		case *companyID == 0:
			query = query.Where("company_id IS NULL")
		case includeGlobal:
			query = query.Where("company_id = ? OR company_id IS NULL", *companyID)
		default:
			query = query.Where("company_id = ?", *companyID)
		}
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}
	var roles []model.OrgRole
	err := query.Order("(company_id IS NULL) DESC, company_id ASC, name ASC, id ASC").Find(&roles).Error
	return roles, err
}

// RoleNameExists 同一作用域（公司级或集团级）内角色名必须唯一
func (r *OrganizationRepository) RoleNameExists(name string, companyID *uint, excludeID uint) (bool, error) {
	query := r.db.Model(&model.OrgRole{}).Where("name = ?", name)
	if companyID != nil {
		query = query.Where("company_id = ?", *companyID)
	} else {
		query = query.Where("company_id IS NULL")
	}
	if excludeID > 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	err := query.Count(&count).Error
	return count > 0, err
}

func (r *OrganizationRepository) DeleteRole(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("role_id = ?", id).Delete(&model.UserOrgRole{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.OrgRole{}, id).Error
	})
}

// ReplaceUserRoles 覆盖式更新用户的角色绑定
func (r *OrganizationRepository) ReplaceUserRoles(userID uint, roleIDs []uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.UserOrgRole{}).Error; err != nil {
			return err
		}
		for _, roleID := range roleIDs {
			if err := tx.Create(&model.UserOrgRole{UserID: userID, RoleID: roleID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FindActiveUserIDsByRoleNames 按角色名解析 active 用户。
// 角色限定在指定公司或集团级；companyID 非空时用户也要求同公司或集团管理员。
func (r *OrganizationRepository) FindActiveUserIDsByRoleNames(names []string, companyID *uint) ([]uint, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var ids []uint
	query := r.db.Model(&model.User{}).
		Distinct("users.id").
		Joins("JOIN user_org_roles uor ON uor.user_id = users.id").
		Joins("JOIN org_roles r ON r.id = uor.role_id").
		Where("users.status = ? AND r.status = ?", "active", "active").
		Where("r.name IN ?", names)
	if companyID != nil {
		query = query.
			Where("r.company_id = ? OR r.company_id IS NULL", *companyID).
			Where("users.company_id = ? OR users.role = ?", *companyID, model.RoleGroupAdmin)
	} else {
		query = query.Where("r.company_id IS NULL")
	}
	err := query.Order("users.id ASC").Pluck("users.id", &ids).Error
	return ids, err
}

// ===== 岗位 =====

func (r *OrganizationRepository) CreatePosition(position *model.OrgPosition) error {
	return r.db.Create(position).Error
}

func (r *OrganizationRepository) UpdatePosition(position *model.OrgPosition) error {
	return r.db.Save(position).Error
}

func (r *OrganizationRepository) FindPositionByID(id uint) (*model.OrgPosition, error) {
	var position model.OrgPosition
	if err := r.db.First(&position, id).Error; err != nil {
		return nil, err
	}
	return &position, nil
}

func (r *OrganizationRepository) FindPositions(companyID *uint) ([]model.OrgPosition, error) {
	var positions []model.OrgPosition
	query := r.db.Where("status = ?", "active")
	if companyID != nil {
		query = query.Where("company_id = ? OR company_id IS NULL", *companyID)
	}
	err := query.Order("id ASC").Find(&positions).Error
	return positions, err
}

// FindPositionsForAdmin 管理端岗位列表，作用域规则与角色一致
func (r *OrganizationRepository) FindPositionsForAdmin(companyID *uint, includeGlobal bool, status, name string) ([]model.OrgPosition, error) {
	query := r.db.Model(&model.OrgPosition{})
	if companyID != nil {
		switch {
		case *companyID == 0:
			query = query.Where("company_id IS NULL")
		case includeGlobal:
			query = query.Where("company_id = ? OR company_id IS NULL", *companyID)
		default:
			query = query.Where("company_id = ?", *companyID)
		}
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}
	var positions []model.OrgPosition
	err := query.Order("(company_id IS NULL) DESC, company_id ASC, name ASC, id ASC").Find(&positions).Error
	return positions, err
}

// PositionNameExists 同一作用域内岗位名必须唯一
func (r *OrganizationRepository) PositionNameExists(name string, companyID *uint, excludeID uint) (bool, error) {
	query := r.db.Model(&model.OrgPosition{}).Where("name = ?", name)
	if companyID != nil {
		query = query.Where("company_id = ?", *companyID)
	} else {
		query = query.Where("company_id IS NULL")
	}
	if excludeID > 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	err := query.Count(&count).Error
	return count > 0, err
}

func (r *OrganizationRepository) DeletePosition(id uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("position_id = ?", id).Delete(&model.UserOrgPosition{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.OrgPosition{}, id).Error
	})
}

// ReplaceUserPositions 覆盖式更新用户的岗位绑定
func (r *OrganizationRepository) ReplaceUserPositions(userID uint, positionIDs []uint) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&model.UserOrgPosition{}).Error; err != nil {
			return err
		}
		for _, positionID := range positionIDs {
			if err := tx.Create(&model.UserOrgPosition{UserID: userID, PositionID: positionID}).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// FindActiveUserIDsByPositionNames 按岗位名解析 active 用户，作用域规则与角色一致
func (r *OrganizationRepository) FindActiveUserIDsByPositionNames(names []string, companyID *uint) ([]uint, error) {
	if len(names) == 0 {
		return nil, nil
	}
	var ids []uint
	query := r.db.Model(&model.User{}).
		Distinct("users.id").
		Joins("JOIN user_org_positions uop ON uop.user_id = users.id").
		Joins("JOIN org_positions p ON p.id = uop.position_id").
		Where("users.status = ? AND p.status = ?", "active", "active").
		Where("p.name IN ?", names)
	if companyID != nil {
		query = query.
			Where("p.company_id = ? OR p.company_id IS NULL", *companyID).
			Where("users.company_id = ? OR users.role = ?", *companyID, model.RoleGroupAdmin)
	} else {
		query = query.Where("p.company_id IS NULL")
	}
	err := query.Order("users.id ASC").Pluck("users.id", &ids).Error
	return ids, err
}

// FindUserRoleIDs 用户当前绑定的角色 id
func (r *OrganizationRepository) FindUserRoleIDs(userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&model.UserOrgRole{}).Where("user_id = ?", userID).Pluck("role_id", &ids).Error
	return ids, err
}

// FindUserPositionIDs 用户当前绑定的岗位 id
func (r *OrganizationRepository) FindUserPositionIDs(userID uint) ([]uint, error) {
	var ids []uint
	err := r.db.Model(&model.UserOrgPosition{}).Where("user_id = ?", userID).Pluck("position_id", &ids).Error
	return ids, err
}
