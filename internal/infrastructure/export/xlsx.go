package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/sms-orchestrator/internal/application/port"
	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// XLSXContentType is the MIME type of Excel workbooks
const XLSXContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// AuditSheet is the worksheet holding audit rows
const AuditSheet = "Audit Log"

var auditHeader = []interface{}{
	"Log ID", "Queue ID", "Action", "Approved By", "Reason",
	"Original Response", "Final Response", "Created At (UTC)",
}

// XLSXExporter writes approval audit logs as an Excel workbook
type XLSXExporter struct {
	logger *zap.Logger
}

// NewXLSXExporter creates a new exporter
func NewXLSXExporter(logger *zap.Logger) *XLSXExporter {
	return &XLSXExporter{logger: logger}
}

// ContentType implements port.AuditExporter
func (e *XLSXExporter) ContentType() string {
	return XLSXContentType
}

// Export implements port.AuditExporter. Rows keep the order of logs.
func (e *XLSXExporter) Export(logs []*entity.ApprovalAuditLogEntry) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", AuditSheet); err != nil {
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}

	if err := f.SetSheetRow(AuditSheet, "A1", &auditHeader); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(auditHeader))
	if err := f.SetCellStyle(AuditSheet, "A1", lastCol+"1", headerStyle); err != nil {
		return nil, fmt.Errorf("failed to style header: %w", err)
	}

	for i, log := range logs {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			log.ID,
			log.ResponseQueueID,
			string(log.Action),
			log.ApprovedBy,
			log.Reason,
			log.OriginalResponse,
			log.FinalResponse,
			log.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		if err := f.SetSheetRow(AuditSheet, cell, &row); err != nil {
			return nil, fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	e.setWidth(f, "A", "D", 22)
	e.setWidth(f, "E", "E", 30)
	e.setWidth(f, "F", "G", 60)
	e.setWidth(f, "H", "H", 20)

	if err := f.SetPanes(AuditSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		e.logger.Warn("Failed to freeze header row", zap.Error(err))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}

	e.logger.Info("Audit log exported", zap.Int("rows", len(logs)), zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (e *XLSXExporter) setWidth(f *excelize.File, start, end string, width float64) {
	if err := f.SetColWidth(AuditSheet, start, end, width); err != nil {
		e.logger.Warn("Failed to set column width",
			zap.String("start", start),
			zap.String("end", end),
			zap.Error(err))
	}
}

// Verify interface compliance
var _ port.AuditExporter = (*XLSXExporter)(nil)
