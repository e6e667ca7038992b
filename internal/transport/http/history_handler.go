package httptransport

import (
	"github.com/gin-gonic/gin"
)

type historyRequest struct {
	Emails []string `json:"emails" binding:"required,max=50"`
}

type historyResponse struct {
	Emails []string `json:"emails"`
}

// listHistory 获取收件人历史
// GET /v1/email-history
func (h *Handler) listHistory(c *gin.Context) {
	emails, err := h.history.List()
	if err != nil {
		respondError(c, err, MsgHistoryFailed)
		return
	}
	Success(c, historyResponse{Emails: emails})
}

// addHistory 追加收件人历史
// POST /v1/email-history
func (h *Handler) addHistory(c *gin.Context) {
	var req historyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	emails, err := h.history.Add(req.Emails...)
	if err != nil {
		respondError(c, err, MsgHistoryFailed)
		return
	}
	Success(c, historyResponse{Emails: emails})
}

// clearHistory 清空收件人历史
// DELETE /v1/email-history
func (h *Handler) clearHistory(c *gin.Context) {
	if err := h.history.Clear(); err != nil {
		respondError(c, err, MsgHistoryFailed)
		return
	}
	SuccessWithMsg(c, "email history cleared", historyResponse{Emails: []string{}})
}
