// Package pipeline 定义了对话审计日志的 PII 扫描流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"pii-audit-go/internal/model"
	"pii-audit-go/internal/pii"
	"pii-audit-go/internal/repository"
	"pii-audit-go/pkg/log"
	"pii-audit-go/pkg/metrics"
	"pii-audit-go/pkg/tasks"

	"gorm.io/gorm"
)

// DetectionIndexer 将检测摘要写入检索索引。
type DetectionIndexer interface {
	IndexDetection(ctx context.Context, doc model.EsDetectionDocument) error
}

// Processor 封装了扫描一条对话日志并持久化检测结果的全部依赖。
type Processor struct {
	scanner  *pii.Scanner
	convRepo repository.ConversationRepository
	detRepo  repository.PIIDetectionRepository
	indexer  DetectionIndexer
	nerModel string
}

// NewProcessor 创建一个新的 Processor 实例。indexer 为 nil 时不写检索索引。
func NewProcessor(
	scanner *pii.Scanner,
	convRepo repository.ConversationRepository,
	detRepo repository.PIIDetectionRepository,
	indexer DetectionIndexer,
	nerModel string,
) *Processor {
	return &Processor{
		scanner:  scanner,
		convRepo: convRepo,
		detRepo:  detRepo,
		indexer:  indexer,
		nerModel: nerModel,
	}
}

// Process 处理一条来自 Kafka 的扫描任务。
func (p *Processor) Process(ctx context.Context, task tasks.PIIScanTask) error {
	conv, err := p.convRepo.FindByID(ctx, task.AuditLogID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 记录不存在时重试没有意义
			log.Warnf("[Processor] 对话日志不存在, 跳过扫描, auditLogId: %s", task.AuditLogID)
			return nil
		}
		return fmt.Errorf("读取对话日志失败: %w", err)
	}
	_, err = p.ScanConversation(ctx, conv)
	return err
}

// ScanConversation 扫描一条已落库的对话日志。已有检测结果时直接返回已有结果，
// 保证重复投递不会产生第二条检测记录。没有任何命中时返回 (nil, nil)。
func (p *Processor) ScanConversation(ctx context.Context, conv *model.ConversationAuditLog) (*model.PIIDetectionLog, error) {
	existing, err := p.detRepo.FindByAuditLogID(ctx, conv.ID)
	if err == nil {
		log.Infof("[Processor] 检测结果已存在, 跳过, auditLogId: %s", conv.ID)
		return existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("查询已有检测结果失败: %w", err)
	}

	report := p.scanner.Scan(ctx, conv.Prompt, conv.Response)
	log.Infow("[Processor] 扫描完成",
		"auditLogId", conv.ID,
		"tenantId", conv.TenantID,
		"total", report.Total,
		"highRisk", report.HighRiskCount,
		"nerPrompt", report.PromptOutcome,
		"nerResponse", report.ResponseOutcome,
	)

	det := report.DetectionLog(conv, p.nerModel)
	if det == nil {
		return nil, nil
	}
	if err := p.detRepo.Create(ctx, det); err != nil {
		return nil, fmt.Errorf("保存检测结果失败: %w", err)
	}
	metrics.DetectionsPersisted.Inc()
	for _, f := range det.PIIDetected {
		metrics.AddFinding(string(f.RiskLevel))
	}

	if p.indexer != nil {
		// 索引只是检索辅助，失败不影响检测结果
		if err := p.indexer.IndexDetection(ctx, model.NewEsDetectionDocument(det)); err != nil {
			log.Warnw("[Processor] 写入检索索引失败", "detectionId", det.ID, "error", err)
		}
	}
	return det, nil
}
