package port

import "github.com/garyjia/sms-orchestrator/internal/domain/entity"

// AuditExporter renders audit logs into a downloadable document
type AuditExporter interface {
	Export(logs []*entity.ApprovalAuditLogEntry) ([]byte, error)

	// ContentType is the MIME type of the exported document
	ContentType() string
}
