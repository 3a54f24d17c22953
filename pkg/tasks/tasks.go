// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// PIIScanTask asks a consumer to scan one stored conversation record for PII.
type PIIScanTask struct {
	AuditLogID string `json:"audit_log_id"`
	TenantID   string `json:"tenant_id"`
}
