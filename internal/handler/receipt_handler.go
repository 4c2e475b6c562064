package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-fee-ledger/internal/service"
	"github.com/noah-isme/sma-fee-ledger/pkg/response"
)

type receiptResolver interface {
	ResolveDownload(ctx context.Context, token string) (*service.ReceiptDownload, error)
}

// ReceiptHandler streams stored receipts behind signed links.
type ReceiptHandler struct {
	receipts receiptResolver
}

// NewReceiptHandler constructs ReceiptHandler.
func NewReceiptHandler(receipts receiptResolver) *ReceiptHandler {
	return &ReceiptHandler{receipts: receipts}
}

// Download godoc
// @Summary Download a receipt PDF
// @Tags Receipts
// @Produce application/pdf
// @Param token path string true "Signed download token"
// @Success 200 {file} file
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /receipts/download/{token} [get]
func (h *ReceiptHandler) Download(c *gin.Context) {
	download, err := h.receipts.ResolveDownload(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer download.File.Close() //nolint:errcheck

	size := int64(-1)
	if info, err := download.File.Stat(); err == nil {
		size = info.Size()
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=\"%s\"", download.Filename))
	c.Header("Cache-Control", "private, max-age=300")
	c.DataFromReader(http.StatusOK, size, "application/pdf", download.File, nil)
}
