package repository

import (
	"context"
	"errors"
	"pii-audit-go/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RetentionRepository 定义了租户保留配置与保留审计记录的持久化操作。
type RetentionRepository interface {
	// GetSetting 返回租户的保留配置，未配置时返回 (nil, nil)。
	GetSetting(ctx context.Context, tenantID string) (*model.TenantRetention, error)
	UpsertSetting(ctx context.Context, setting *model.TenantRetention) error
	CreateAudit(ctx context.Context, audit *model.RetentionAuditLog) error
	ListAudits(ctx context.Context, tenantID string) ([]model.RetentionAuditLog, error)
}

type retentionRepository struct {
	db *gorm.DB
}

// NewRetentionRepository 创建一个新的 RetentionRepository 实例。
func NewRetentionRepository(db *gorm.DB) RetentionRepository {
	return &retentionRepository{db: db}
}

func (r *retentionRepository) GetSetting(ctx context.Context, tenantID string) (*model.TenantRetention, error) {
	var setting model.TenantRetention
	err := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &setting, nil
}

// UpsertSetting 插入或覆盖租户的保留天数。
func (r *retentionRepository) UpsertSetting(ctx context.Context, setting *model.TenantRetention) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"retention_days", "updated_at"}),
	}).Create(setting).Error
}

func (r *retentionRepository) CreateAudit(ctx context.Context, audit *model.RetentionAuditLog) error {
	return r.db.WithContext(ctx).Create(audit).Error
}

// ListAudits 返回租户的保留审计历史，最新的在前。
func (r *retentionRepository) ListAudits(ctx context.Context, tenantID string) ([]model.RetentionAuditLog, error) {
	var audits []model.RetentionAuditLog
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("run_timestamp DESC").Order("id DESC").
		Find(&audits).Error
	return audits, err
}
