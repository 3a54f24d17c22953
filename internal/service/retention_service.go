package service

import (
	"context"
	"fmt"
	"pii-audit-go/internal/model"
	"pii-audit-go/internal/repository"
	"pii-audit-go/pkg/log"
	"pii-audit-go/pkg/metrics"
	"strings"
	"time"
)

// RetentionSetting 是租户当前生效的保留配置，IsDefault 表示租户未显式配置。
type RetentionSetting struct {
	TenantID      string `json:"tenantId"`
	RetentionDays int    `json:"retentionDays"`
	IsDefault     bool   `json:"isDefault"`
}

// RetentionService 接口定义了保留策略相关的业务操作。
type RetentionService interface {
	AuditRetention(ctx context.Context, now time.Time) ([]model.RetentionAuditLog, error)
	SetRetention(ctx context.Context, tenantID string, days int) (*RetentionSetting, error)
	GetRetention(ctx context.Context, tenantID string) (*RetentionSetting, error)
	ListRetentionAudits(ctx context.Context, tenantID string) ([]model.RetentionAuditLog, error)
}

type retentionService struct {
	convRepo      repository.ConversationRepository
	retentionRepo repository.RetentionRepository
	defaultDays   int
}

// NewRetentionService 创建一个新的 RetentionService 实例。defaultDays 不在允许集合内时使用 90。
func NewRetentionService(convRepo repository.ConversationRepository, retentionRepo repository.RetentionRepository, defaultDays int) RetentionService {
	if !model.IsAllowedRetention(defaultDays) {
		defaultDays = model.DefaultRetentionDays
	}
	return &retentionService{
		convRepo:      convRepo,
		retentionRepo: retentionRepo,
		defaultDays:   defaultDays,
	}
}

// AuditRetention 对每个有对话日志的租户统计超过保留期的记录数，并写入一条保留审计记录。
// 不删除任何数据。单个租户失败只记录日志并继续；ctx 取消时停止处理剩余租户。
func (s *retentionService) AuditRetention(ctx context.Context, now time.Time) ([]model.RetentionAuditLog, error) {
	tenants, err := s.convRepo.DistinctTenants(ctx)
	if err != nil {
		return nil, fmt.Errorf("查询租户列表失败: %w", err)
	}

	now = now.UTC()
	audits := make([]model.RetentionAuditLog, 0, len(tenants))
	for _, tenantID := range tenants {
		if err := ctx.Err(); err != nil {
			log.Warnf("[RetentionService] 审计被取消, 已完成 %d/%d 个租户", len(audits), len(tenants))
			return audits, err
		}
		audit, err := s.auditTenant(ctx, tenantID, now)
		if err != nil {
			metrics.RetentionAudits.WithLabelValues("error").Inc()
			log.Errorw("[RetentionService] 租户保留审计失败", "tenantId", tenantID, "error", err)
			continue
		}
		metrics.RetentionAudits.WithLabelValues("ok").Inc()
		log.Infow("[RetentionService] 租户保留审计完成",
			"tenantId", tenantID,
			"retentionDays", audit.RetentionDays,
			"cutoff", audit.CutoffAt,
			"eligible", audit.EligibleCount,
		)
		audits = append(audits, *audit)
	}
	return audits, nil
}

func (s *retentionService) auditTenant(ctx context.Context, tenantID string, now time.Time) (*model.RetentionAuditLog, error) {
	setting, err := s.GetRetention(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-time.Duration(setting.RetentionDays) * 24 * time.Hour)
	count, err := s.convRepo.CountBefore(ctx, tenantID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("统计过期记录失败: %w", err)
	}
	audit := &model.RetentionAuditLog{
		TenantID:      tenantID,
		RetentionDays: setting.RetentionDays,
		CutoffAt:      cutoff,
		EligibleCount: count,
		RunTimestamp:  now,
	}
	if err := s.retentionRepo.CreateAudit(ctx, audit); err != nil {
		return nil, fmt.Errorf("保存保留审计记录失败: %w", err)
	}
	return audit, nil
}

// SetRetention 设置租户的保留天数，只接受 30、90、180。
func (s *retentionService) SetRetention(ctx context.Context, tenantID string, days int) (*RetentionSetting, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, &ValidationError{Field: "tenantId", Reason: "must not be empty"}
	}
	if !model.IsAllowedRetention(days) {
		return nil, &ValidationError{
			Field:  "retentionDays",
			Reason: fmt.Sprintf("%d is not one of %v", days, model.AllowedRetentionDays),
		}
	}
	if err := s.retentionRepo.UpsertSetting(ctx, &model.TenantRetention{TenantID: tenantID, RetentionDays: days}); err != nil {
		return nil, fmt.Errorf("保存保留配置失败: %w", err)
	}
	log.Infow("[RetentionService] 租户保留配置已更新", "tenantId", tenantID, "retentionDays", days)
	return &RetentionSetting{TenantID: tenantID, RetentionDays: days}, nil
}

// GetRetention 返回租户当前生效的保留天数，未配置时使用默认值。
func (s *retentionService) GetRetention(ctx context.Context, tenantID string) (*RetentionSetting, error) {
	setting, err := s.retentionRepo.GetSetting(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("读取保留配置失败: %w", err)
	}
	if setting == nil {
		return &RetentionSetting{TenantID: tenantID, RetentionDays: s.defaultDays, IsDefault: true}, nil
	}
	return &RetentionSetting{TenantID: tenantID, RetentionDays: setting.RetentionDays}, nil
}

// ListRetentionAudits 返回租户的保留审计历史，最新的在前。
func (s *retentionService) ListRetentionAudits(ctx context.Context, tenantID string) ([]model.RetentionAuditLog, error) {
	return s.retentionRepo.ListAudits(ctx, tenantID)
}
