package handler

import (
	"mime"
	"net/http"
	"pii-audit-go/internal/service"

	"github.com/gin-gonic/gin"
)

// ExportHandler 负责合规导出包的下载。
type ExportHandler struct {
	exportService service.ExportService
}

// NewExportHandler 创建一个新的 ExportHandler 实例。
func NewExportHandler(exportService service.ExportService) *ExportHandler {
	return &ExportHandler{exportService: exportService}
}

// Export 生成租户的合规导出包并以附件形式返回。归档成功时在 X-Archive-URL 中返回下载链接。
func (h *ExportHandler) Export(c *gin.Context) {
	tenantID, ok := resolveTenant(c, c.Query("tenantId"))
	if !ok {
		return
	}
	bundle, err := h.exportService.ExportBundle(c.Request.Context(), tenantID)
	if err != nil {
		respondError(c, err, "合规导出失败")
		return
	}
	if bundle.ArchiveURL != "" {
		c.Header("X-Archive-URL", bundle.ArchiveURL)
	}
	c.Header("Content-Disposition", contentDisposition(bundle.FileName))
	c.Data(http.StatusOK, "application/zip", bundle.Data)
}

// contentDisposition 生成附件头，文件名中的引号与控制字符按 RFC 2231 转义。
func contentDisposition(fileName string) string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": fileName}); v != "" {
		return v
	}
	return "attachment"
}
