package service

import (
	"context"
	"errors"
	"fmt"
	"pii-audit-go/internal/model"
	"pii-audit-go/internal/pii"
	"pii-audit-go/internal/repository"
	"pii-audit-go/pkg/es"
	"pii-audit-go/pkg/log"
	"pii-audit-go/pkg/tasks"
	"strings"

	"gorm.io/gorm"
)

// ScanTaskPublisher 将扫描任务投递到异步队列。
type ScanTaskPublisher interface {
	PublishScanTask(ctx context.Context, task tasks.PIIScanTask) error
}

// ConversationScanner 扫描一条已落库的对话日志并持久化检测结果。
type ConversationScanner interface {
	ScanConversation(ctx context.Context, conv *model.ConversationAuditLog) (*model.PIIDetectionLog, error)
}

// DetectionSearcher 检索检测摘要。
type DetectionSearcher interface {
	SearchDetections(ctx context.Context, q es.DetectionQuery) ([]model.DetectionSearchHit, int64, error)
}

// LogConversationRequest 是写入一条对话审计日志所需的输入。
type LogConversationRequest struct {
	TenantID  string              `json:"tenantId"`
	AgentID   string              `json:"agentId"`
	SessionID string              `json:"sessionId"`
	Channel   string              `json:"channel"`
	Prompt    string              `json:"prompt"`
	Response  string              `json:"response"`
	ModelInfo string              `json:"modelInfo"`
	Metadata  model.ModelMetadata `json:"modelMetadata"`
}

// LogConversationResult 是写入结果。异步扫描时 Detection 为空且 ScanQueued 为 true。
type LogConversationResult struct {
	Log        *model.ConversationAuditLog `json:"log"`
	Detection  *model.PIIDetectionLog      `json:"detection,omitempty"`
	ScanQueued bool                        `json:"scanQueued"`
}

// ConversationPage 是对话日志的分页结果。
type ConversationPage struct {
	Content       []model.ConversationAuditLog `json:"content"`
	TotalElements int64                        `json:"totalElements"`
	TotalPages    int                          `json:"totalPages"`
	Size          int                          `json:"size"`
	Number        int                          `json:"number"`
}

// FindingPage 是检测摘要检索的分页结果。
type FindingPage struct {
	Content       []model.DetectionSearchHit `json:"content"`
	TotalElements int64                      `json:"totalElements"`
	Size          int                        `json:"size"`
	Number        int                        `json:"number"`
}

// AuditService 接口定义了对话审计相关的业务操作。
type AuditService interface {
	LogConversation(ctx context.Context, req LogConversationRequest) (*LogConversationResult, error)
	ListConversations(ctx context.Context, tenantID string, page, size int) (*ConversationPage, error)
	GetDetection(ctx context.Context, auditLogID, tenantScope string) (*model.PIIDetectionLog, error)
	ScanExchange(ctx context.Context, prompt, response string) *pii.Report
	SearchFindings(ctx context.Context, q es.DetectionQuery, page int) (*FindingPage, error)
}

type auditService struct {
	convRepo  repository.ConversationRepository
	detRepo   repository.PIIDetectionRepository
	scanner   *pii.Scanner
	processor ConversationScanner
	publisher ScanTaskPublisher
	searcher  DetectionSearcher
}

// NewAuditService 创建一个新的 AuditService 实例。
// publisher 为 nil 时在请求路径上同步扫描；searcher 为 nil 时检索不可用。
func NewAuditService(
	convRepo repository.ConversationRepository,
	detRepo repository.PIIDetectionRepository,
	scanner *pii.Scanner,
	processor ConversationScanner,
	publisher ScanTaskPublisher,
	searcher DetectionSearcher,
) AuditService {
	return &auditService{
		convRepo:  convRepo,
		detRepo:   detRepo,
		scanner:   scanner,
		processor: processor,
		publisher: publisher,
		searcher:  searcher,
	}
}

func validateLogRequest(req LogConversationRequest) error {
	required := []struct{ field, value string }{
		{"tenantId", req.TenantID},
		{"agentId", req.AgentID},
		{"sessionId", req.SessionID},
		{"channel", req.Channel},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &ValidationError{Field: r.field, Reason: "must not be empty"}
		}
	}
	if req.Prompt == "" && req.Response == "" {
		return &ValidationError{Field: "prompt", Reason: "prompt and response must not both be empty"}
	}
	return nil
}

// LogConversation 写入一条对话审计日志并触发 PII 扫描。
// 对话日志写入成功即视为成功，检测结果是尽力而为的附加数据。
func (s *auditService) LogConversation(ctx context.Context, req LogConversationRequest) (*LogConversationResult, error) {
	if err := validateLogRequest(req); err != nil {
		return nil, err
	}

	conv := &model.ConversationAuditLog{
		TenantID:      req.TenantID,
		AgentID:       req.AgentID,
		SessionID:     req.SessionID,
		Channel:       req.Channel,
		Prompt:        req.Prompt,
		Response:      req.Response,
		ModelInfo:     req.ModelInfo,
		ModelMetadata: req.Metadata,
	}
	if err := s.convRepo.Create(ctx, conv); err != nil {
		return nil, fmt.Errorf("保存对话日志失败: %w", err)
	}
	result := &LogConversationResult{Log: conv}

	if s.publisher != nil {
		err := s.publisher.PublishScanTask(ctx, tasks.PIIScanTask{AuditLogID: conv.ID, TenantID: conv.TenantID})
		if err == nil {
			result.ScanQueued = true
			return result, nil
		}
		log.Warnw("[AuditService] 投递扫描任务失败，改为同步扫描", "auditLogId", conv.ID, "error", err)
	}

	det, err := s.processor.ScanConversation(ctx, conv)
	if err != nil {
		log.Errorw("[AuditService] PII 扫描失败，对话日志已保存", "auditLogId", conv.ID, "error", err)
		return result, nil
	}
	result.Detection = det
	return result, nil
}

// ListConversations 分页返回租户的对话日志，page 从 0 开始。
func (s *auditService) ListConversations(ctx context.Context, tenantID string, page, size int) (*ConversationPage, error) {
	if tenantID == "" {
		return nil, &ValidationError{Field: "tenantId", Reason: "must not be empty"}
	}
	if page < 0 {
		page = 0
	}
	if size <= 0 || size > 200 {
		size = 20
	}
	logs, total, err := s.convRepo.FindWithPagination(ctx, tenantID, page*size, size)
	if err != nil {
		return nil, err
	}
	return &ConversationPage{
		Content:       logs,
		TotalElements: total,
		TotalPages:    int((total + int64(size) - 1) / int64(size)),
		Size:          size,
		Number:        page,
	}, nil
}

// GetDetection 返回对话日志的检测结果。tenantScope 非空时只允许访问该租户的数据。
// 对话日志不存在或不属于该租户时返回 ErrNotFound；日志存在但没有命中时返回 (nil, nil)。
func (s *auditService) GetDetection(ctx context.Context, auditLogID, tenantScope string) (*model.PIIDetectionLog, error) {
	conv, err := s.convRepo.FindByID(ctx, auditLogID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if tenantScope != "" && conv.TenantID != tenantScope {
		return nil, ErrNotFound
	}
	det, err := s.detRepo.FindByAuditLogID(ctx, auditLogID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return det, err
}

// ScanExchange 只计算不落库。
func (s *auditService) ScanExchange(ctx context.Context, prompt, response string) *pii.Report {
	return s.scanner.Scan(ctx, prompt, response)
}

// SearchFindings 检索检测摘要，page 从 0 开始。
func (s *auditService) SearchFindings(ctx context.Context, q es.DetectionQuery, page int) (*FindingPage, error) {
	if s.searcher == nil {
		return nil, ErrSearchDisabled
	}
	if q.TenantID == "" {
		return nil, &ValidationError{Field: "tenantId", Reason: "must not be empty"}
	}
	if q.Size <= 0 || q.Size > 200 {
		q.Size = 20
	}
	if page < 0 {
		page = 0
	}
	q.Offset = page * q.Size
	hits, total, err := s.searcher.SearchDetections(ctx, q)
	if err != nil {
		return nil, err
	}
	return &FindingPage{Content: hits, TotalElements: total, Size: q.Size, Number: page}, nil
}
