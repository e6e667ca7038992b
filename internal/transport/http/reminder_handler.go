package httptransport

import (
	"github.com/gin-gonic/gin"

	"remindmail/backend/internal/service"
)

type reminderListResponse struct {
	Items []service.ReminderView `json:"items"`
	Count int                    `json:"count"`
}

type clearResponse struct {
	Deleted int `json:"deleted"`
}

// listReminders 获取全部提醒（含推导状态）
// GET /v1/reminders
func (h *Handler) listReminders(c *gin.Context) {
	views, err := h.reminders.List()
	if err != nil {
		respondError(c, err, MsgReminderListFailed)
		return
	}
	Success(c, reminderListResponse{Items: views, Count: len(views)})
}

// createReminder 创建提醒
// POST /v1/reminders
func (h *Handler) createReminder(c *gin.Context) {
	var req service.CreateReminderInput
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, MsgInvalidRequest)
		return
	}

	view, err := h.reminders.Create(req)
	if err != nil {
		respondError(c, err, "")
		return
	}
	Created(c, view)
}

// deleteReminder 按 id 删除提醒
// DELETE /v1/reminders/:id
func (h *Handler) deleteReminder(c *gin.Context) {
	if err := h.reminders.Delete(c.Param("id")); err != nil {
		respondError(c, err, "")
		return
	}
	SuccessWithMsg(c, "reminder deleted", nil)
}

// clearReminders 删除全部提醒
// DELETE /v1/reminders
func (h *Handler) clearReminders(c *gin.Context) {
	n, err := h.reminders.ClearAll()
	if err != nil {
		respondError(c, err, "")
		return
	}
	SuccessWithMsg(c, "all reminders deleted", clearResponse{Deleted: n})
}

// checkReminders 立即执行一次调度，返回本次结果
// POST /v1/reminders/check
func (h *Handler) checkReminders(c *gin.Context) {
	report, err := h.reminders.CheckNow(c.Request.Context())
	if err != nil {
		respondError(c, err, MsgReminderCheckFailed)
		return
	}
	Success(c, report)
}
