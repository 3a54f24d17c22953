// Package repository 提供了数据访问层的实现。
package repository

import (
	"context"
	"pii-audit-go/internal/model"
	"time"

	"gorm.io/gorm"
)

// ConversationRepository 定义了对话审计日志的持久化操作。
// 只提供创建与查询，审计日志不可修改或删除。
type ConversationRepository interface {
	Create(ctx context.Context, log *model.ConversationAuditLog) error
	FindByID(ctx context.Context, id string) (*model.ConversationAuditLog, error)
	FindWithPagination(ctx context.Context, tenantID string, offset, limit int) ([]model.ConversationAuditLog, int64, error)
	FindAllByTenant(ctx context.Context, tenantID string) ([]model.ConversationAuditLog, error)
	DistinctTenants(ctx context.Context) ([]string, error)
	CountBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error)
	CountByTenant(ctx context.Context, tenantID string) (int64, error)
}

// conversationRepository 是 ConversationRepository 接口的 GORM 实现。
type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository 创建一个新的 ConversationRepository 实例。
func NewConversationRepository(db *gorm.DB) ConversationRepository {
	return &conversationRepository{db: db}
}

// Create 写入一条新的对话审计日志。
func (r *conversationRepository) Create(ctx context.Context, log *model.ConversationAuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// FindByID 根据 ID 查找对话审计日志，不存在时返回 gorm.ErrRecordNotFound。
func (r *conversationRepository) FindByID(ctx context.Context, id string) (*model.ConversationAuditLog, error) {
	var log model.ConversationAuditLog
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&log).Error; err != nil {
		return nil, err
	}
	return &log, nil
}

// FindWithPagination 分页查询租户的对话日志，按时间倒序。
// 它返回当前页数据、总记录数和可能发生的错误。
func (r *conversationRepository) FindWithPagination(ctx context.Context, tenantID string, offset, limit int) ([]model.ConversationAuditLog, int64, error) {
	var logs []model.ConversationAuditLog
	var total int64

	db := r.db.WithContext(ctx).Model(&model.ConversationAuditLog{}).Where("tenant_id = ?", tenantID)
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := db.Order("timestamp DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&logs).Error
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

// FindAllByTenant 返回租户的全部对话日志，按 (timestamp, id) 倒序，排序完全确定。
func (r *conversationRepository) FindAllByTenant(ctx context.Context, tenantID string) ([]model.ConversationAuditLog, error) {
	var logs []model.ConversationAuditLog
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("timestamp DESC").Order("id DESC").
		Find(&logs).Error
	return logs, err
}

// DistinctTenants 返回至少有一条对话日志的租户，按字典序排列。
func (r *conversationRepository) DistinctTenants(ctx context.Context) ([]string, error) {
	var tenants []string
	err := r.db.WithContext(ctx).
		Model(&model.ConversationAuditLog{}).
		Distinct("tenant_id").
		Order("tenant_id").
		Pluck("tenant_id", &tenants).Error
	return tenants, err
}

// CountBefore 统计租户中时间戳严格早于 cutoff 的对话日志数量。
func (r *conversationRepository) CountBefore(ctx context.Context, tenantID string, cutoff time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ConversationAuditLog{}).
		Where("tenant_id = ? AND timestamp < ?", tenantID, cutoff).
		Count(&count).Error
	return count, err
}

// CountByTenant 统计租户的对话日志总数。
func (r *conversationRepository) CountByTenant(ctx context.Context, tenantID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ConversationAuditLog{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}
