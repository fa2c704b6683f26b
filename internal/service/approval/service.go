package approval

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/fisker/zcrm-backend/internal/model"
	"github.com/fisker/zcrm-backend/internal/repository"
	"github.com/fisker/zcrm-backend/pkg/logger"
	"github.com/fisker/zcrm-backend/pkg/redis"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Service 审批域服务：模板、实例、动作都从这里走
type Service struct {
	db          *gorm.DB
	approvals   *repository.ApprovalRepository
	processTpls *repository.ProcessTemplateRepository
	formTpls    *repository.FormTemplateRepository
	companies   *repository.CompanyRepository
	users       *repository.UserRepository
	resolver    *Resolver
	engine      *Engine
}

func NewService(
	db *gorm.DB,
	approvals *repository.ApprovalRepository,
	processTpls *repository.ProcessTemplateRepository,
	formTpls *repository.FormTemplateRepository,
	companies *repository.CompanyRepository,
	users *repository.UserRepository,
	orgs *repository.OrganizationRepository,
) *Service {
	resolver := NewResolver(users, orgs, approvals)
	return &Service{
		db:          db,
		approvals:   approvals,
		processTpls: processTpls,
		formTpls:    formTpls,
		companies:   companies,
		users:       users,
		resolver:    resolver,
		engine:      NewEngine(approvals, resolver),
	}
}

const pendingBadgeTTL = 30 * time.Second

func pendingBadgeKey(userID uint) string {
	return fmt.Sprintf("zcrm:approval:pending_badge:%d", userID)
}

// CountPendingTasks 待办角标数，Redis 可用时缓存 30 秒
func (s *Service) CountPendingTasks(userID uint) (int64, error) {
	if redis.IsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if cached, err := redis.GetClient().Get(ctx, pendingBadgeKey(userID)).Result(); err == nil {
			if count, err := strconv.ParseInt(cached, 10, 64); err == nil {
				return count, nil
			}
		}
	}

	count, err := s.approvals.CountPendingTasksForUser(userID)
	if err != nil {
		return 0, err
	}

	if redis.IsEnabled() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := redis.GetClient().Set(ctx, pendingBadgeKey(userID), count, pendingBadgeTTL).Err(); err != nil {
			logger.Warnf("写入待办角标缓存失败: %v", err)
		}
	}
	return count, nil
}

// invalidatePendingBadge 审批动作之后主动清掉相关人的角标缓存
func (s *Service) invalidatePendingBadge(userIDs ...uint) {
	if !redis.IsEnabled() || len(userIDs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	keys := make([]string, 0, len(userIDs))
	for _, userID := range userIDs {
		keys = append(keys, pendingBadgeKey(userID))
	}
	if err := redis.GetClient().Del(ctx, keys...).Err(); err != nil {
		logger.Warnf("清理待办角标缓存失败: %v", err)
	}
}

// scopedCompanyID 子公司管理员和普通用户只能在自己公司范围内操作
func scopedCompanyID(user *model.User) *uint {
	if user.IsGroupAdmin() {
		return nil
	}
	return user.CompanyID
}

func lockForUpdate() clause.Locking {
	return clause.Locking{Strength: "UPDATE"}
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
