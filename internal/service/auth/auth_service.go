package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/repository"
	"github.com/fisker/zcrm-backend/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// JWT Claims
type Claims struct {
	UserID    uint   `json:"userId"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	CompanyID *uint  `json:"companyId,omitempty"`
	jwt.RegisteredClaims
}

type AuthService struct {
	repo      *repository.UserRepository
	jwtSecret []byte // JWT签名密钥
	tokenTTL  time.Duration
}

// NewAuthService 创建认证服务
// jwtSecret: JWT签名密钥（建议64字节或更长，更安全）
func NewAuthService(repo *repository.UserRepository, jwtSecret string, tokenTTLHours int) *AuthService {
	jwtKey := []byte(jwtSecret)
	if len(jwtKey) == 0 {
		// 如果没有配置，使用默认值（仅用于开发环境）
		jwtKey = []byte("zcrm-dev-jwt-secret-do-not-use-in-production!!")
	}
	if tokenTTLHours <= 0 {
		tokenTTLHours = 24
	}

	return &AuthService{
		repo:      repo,
		jwtSecret: jwtKey,
		tokenTTL:  time.Duration(tokenTTLHours) * time.Hour,
	}
}

// Login 用户登录
func (s *AuthService) Login(req *model.LoginRequest, loginIP string) (*model.LoginResponse, error) {
	user, err := s.authenticateWithPassword(req.Username, req.Password)
	if err != nil {
		return nil, err
	}

	// 生成 JWT Token
	token, err := s.GenerateToken(user)
	if err != nil {
		return nil, fmt.Errorf("生成Token失败: %w", err)
	}

	// 更新最后登录时间和IP
	now := time.Now()
	if err := s.repo.UpdateUserLastLogin(user.ID, now, loginIP); err != nil {
		// 记录失败不影响登录
		logger.Warnf("更新最后登录时间失败: %v", err)
	}

	return &model.LoginResponse{
		Token: token,
		User:  *user,
	}, nil
}

// authenticateWithPassword 使用密码认证
func (s *AuthService) authenticateWithPassword(username, password string) (*model.User, error) {
	user, err := s.repo.FindUserByUsername(username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("用户名或密码错误")
		}
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}

	if !user.IsActive() {
		return nil, errors.New("用户已被禁用")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, errors.New("用户名或密码错误")
	}

	return user, nil
}

// ValidatePassword 验证用户密码
func (s *AuthService) ValidatePassword(user *model.User, password string) error {
	if !user.IsActive() {
		return errors.New("用户已被禁用")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return errors.New("密码错误")
	}
	return nil
}

// GenerateToken 生成 JWT Token
func (s *AuthService) GenerateToken(user *model.User) (string, error) {
	expirationTime := time.Now().Add(s.tokenTTL)

	claims := &Claims{
		UserID:    user.ID,
		Username:  user.Username,
		Role:      user.Role,
		CompanyID: user.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(expirationTime),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "zcrm",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

// ValidateToken 验证 JWT Token
func (s *AuthService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.jwtSecret, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("无效的Token")
}

// GetUserByID 根据ID获取用户
func (s *AuthService) GetUserByID(userID uint) (*model.User, error) {
	return s.repo.FindUserByID(userID)
}

// GetUserByUsername 根据用户名获取用户
func (s *AuthService) GetUserByUsername(username string) (*model.User, error) {
	return s.repo.FindUserByUsername(username)
}

// ===== 用户管理 =====

// GetUsersWithPagination 分页获取用户列表
func (s *AuthService) GetUsersWithPagination(page, pageSize int, companyID *uint, keyword string) ([]model.User, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	return s.repo.FindUsers(page, pageSize, companyID, keyword)
}

// CreateUser 创建新用户（管理员功能）
func (s *AuthService) CreateUser(req *model.CreateUserRequest) (*model.User, error) {
	// 检查用户名是否已存在
	if _, err := s.repo.FindUserByUsername(req.Username); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("检查用户名失败: %w", err)
		}
	} else {
		return nil, errors.New("用户名已存在")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("密码加密失败: %w", err)
	}

	role := req.Role
	if role != model.RoleGroupAdmin && role != model.RoleSubsidiaryAdmin && role != model.RoleUser {
		role = model.RoleUser
	}
	// 非集团管理员必须归属某个子公司
	if role != model.RoleGroupAdmin && req.CompanyID == nil {
		return nil, errors.New("请选择用户所属公司")
	}

	user := &model.User{
		Username:  req.Username,
		Password:  string(hashedPassword),
		Name:      req.Name,
		Email:     req.Email,
		Role:      role,
		CompanyID: req.CompanyID,
		Status:    "active",
	}

	if err := s.repo.CreateUser(user); err != nil {
		return nil, fmt.Errorf("创建用户失败: %w", err)
	}

	return user, nil
}

// UpdateUserInfo 更新用户信息（管理员功能）
func (s *AuthService) UpdateUserInfo(userID uint, req *model.UpdateUserRequest) (*model.User, error) {
	user, err := s.repo.FindUserByID(userID)
	if err != nil {
		return nil, errors.New("用户不存在")
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Email != nil {
		user.Email = *req.Email
	}
	if req.Role != nil {
		role := *req.Role
		if role != model.RoleGroupAdmin && role != model.RoleSubsidiaryAdmin && role != model.RoleUser {
			return nil, errors.New("无效的角色")
		}
		user.Role = role
	}
	if req.CompanyID != nil {
		user.CompanyID = req.CompanyID
	}
	if req.Status != nil {
		status := *req.Status
		if status != "active" && status != "inactive" {
			return nil, errors.New("无效的状态")
		}
		user.Status = status
	}

	if err := s.repo.UpdateUser(user); err != nil {
		return nil, fmt.Errorf("更新用户失败: %w", err)
	}
	return user, nil
}

// ResetUserPassword 重置用户密码（管理员功能）
func (s *AuthService) ResetUserPassword(userID uint, newPassword string) error {
	user, err := s.repo.FindUserByID(userID)
	if err != nil {
		return errors.New("用户不存在")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("密码加密失败: %w", err)
	}

	user.Password = string(hashedPassword)
	return s.repo.UpdateUser(user)
}

// DeleteUser 删除用户（管理员功能）
func (s *AuthService) DeleteUser(userID uint) error {
	if _, err := s.repo.FindUserByID(userID); err != nil {
		return errors.New("用户不存在")
	}
	return s.repo.DeleteUser(userID)
}
