package server

import (
	"net/http"
	"strconv"
	"time"

	"messaging-gateway/internal/chat"
	"messaging-gateway/internal/httputil"
	"messaging-gateway/internal/model"
	"messaging-gateway/internal/notification"
	"messaging-gateway/internal/platform/middleware"

	"github.com/gin-gonic/gin"
)

type handlers struct {
	chat          *chat.Service
	notifications *notification.Service
	pageLimit     int
}

// queryInt 解析非負整數查詢參數，缺省時返回 fallback
func queryInt(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		httputil.ValidationError(c, name, "必須是非負整數")
		return 0, false
	}
	return v, true
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		httputil.BadRequest(c, "無效的請求格式")
		return false
	}
	return true
}

func (h *handlers) createDirect(c *gin.Context) {
	var req struct {
		UserID string `json:"user_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if err := middleware.ValidateUserID(req.UserID); err != nil {
		httputil.ValidationError(c, "user_id", err.Error())
		return
	}

	conv, existed, err := h.chat.GetOrCreateDirect(c.Request.Context(), middleware.GetIdentity(c), req.UserID)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	c.JSON(status, httputil.OK(gin.H{"conversation": conv, "existed": existed}))
}

func (h *handlers) createGroup(c *gin.Context) {
	var req struct {
		Name      string   `json:"name"`
		MemberIDs []string `json:"member_ids"`
	}
	if !bindJSON(c, &req) {
		return
	}

	conv, err := h.chat.CreateGroup(c.Request.Context(), middleware.GetIdentity(c), req.Name, req.MemberIDs)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, httputil.OK(conv))
}

func (h *handlers) listConversations(c *gin.Context) {
	views, err := h.chat.ListConversations(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		httputil.Error(c, err)
		return
	}
	if views == nil {
		views = []model.ConversationView{}
	}
	c.JSON(http.StatusOK, httputil.OK(views))
}

func (h *handlers) unreadSummary(c *gin.Context) {
	summary, err := h.chat.UnreadSummary(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.OK(summary))
}

func (h *handlers) listMessages(c *gin.Context) {
	limit, ok := queryInt(c, "limit", h.pageLimit)
	if !ok {
		return
	}
	q := chat.PageQuery{Limit: limit}
	if raw := c.Query("before"); raw != "" {
		before, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			httputil.ValidationError(c, "before", "必須是 RFC3339 時間")
			return
		}
		q.Before = &before
	}

	page, err := h.chat.Messages(c.Request.Context(), middleware.GetIdentity(c), c.Param("id"), q)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.OK(page))
}

func (h *handlers) sendMessage(c *gin.Context) {
	var req struct {
		Body     string            `json:"body"`
		Type     model.MessageType `json:"type"`
		FileURL  string            `json:"file_url"`
		Metadata map[string]any    `json:"metadata"`
	}
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.chat.SendMessage(c.Request.Context(), middleware.GetIdentity(c), c.Param("id"), chat.SendInput{
		Body:     req.Body,
		Type:     req.Type,
		FileURL:  req.FileURL,
		Metadata: req.Metadata,
	})
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, httputil.OK(view))
}

func (h *handlers) markConversationRead(c *gin.Context) {
	if err := h.chat.MarkRead(c.Request.Context(), middleware.GetIdentity(c), c.Param("id")); err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.Done())
}

func (h *handlers) setMute(c *gin.Context) {
	var req struct {
		Muted *bool `json:"muted"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.Muted == nil {
		httputil.ValidationError(c, "muted", "必填")
		return
	}
	if err := h.chat.SetMute(c.Request.Context(), middleware.GetIdentity(c), c.Param("id"), *req.Muted); err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.Done())
}

func (h *handlers) setArchive(c *gin.Context) {
	var req struct {
		Archived *bool `json:"archived"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if req.Archived == nil {
		httputil.ValidationError(c, "archived", "必填")
		return
	}
	if err := h.chat.SetArchive(c.Request.Context(), middleware.GetIdentity(c), c.Param("id"), *req.Archived); err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.Done())
}

func (h *handlers) editMessage(c *gin.Context) {
	var req struct {
		Body string `json:"body"`
	}
	if !bindJSON(c, &req) {
		return
	}

	view, err := h.chat.EditMessage(c.Request.Context(), middleware.GetIdentity(c), c.Param("id"), req.Body)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.OK(view))
}

func (h *handlers) deleteMessage(c *gin.Context) {
	if err := h.chat.DeleteMessage(c.Request.Context(), middleware.GetIdentity(c), c.Param("id")); err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.Done())
}

func (h *handlers) listNotifications(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	unreadOnly, _ := strconv.ParseBool(c.Query("unread_only"))

	who := middleware.GetIdentity(c)
	list, err := h.notifications.List(c.Request.Context(), who.UserID, notification.ListQuery{
		UnreadOnly: unreadOnly,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		httputil.Error(c, err)
		return
	}
	if list == nil {
		list = []model.Notification{}
	}
	c.JSON(http.StatusOK, httputil.OK(list))
}

func (h *handlers) notificationUnreadCount(c *gin.Context) {
	count, err := h.notifications.UnreadCount(c.Request.Context(), middleware.GetIdentity(c).UserID)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.OKWithCount(count))
}

func (h *handlers) createNotification(c *gin.Context) {
	var req struct {
		UserID      string                 `json:"user_id"`
		Type        model.NotificationType `json:"type"`
		Title       string                 `json:"title"`
		Body        string                 `json:"body"`
		Description string                 `json:"description"`
		Data        map[string]any         `json:"data"`
		ExpiresAt   *time.Time             `json:"expires_at"`
	}
	if !bindJSON(c, &req) {
		return
	}

	n, err := h.notifications.Create(c.Request.Context(), middleware.GetIdentity(c), notification.CreateInput{
		UserID:      req.UserID,
		Type:        req.Type,
		Title:       req.Title,
		Body:        req.Body,
		Description: req.Description,
		Data:        req.Data,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusCreated, httputil.OK(n))
}

func (h *handlers) broadcast(c *gin.Context) {
	var req struct {
		Title string         `json:"title"`
		Body  string         `json:"body"`
		Data  map[string]any `json:"data"`
	}
	if !bindJSON(c, &req) {
		return
	}

	recipients, err := h.notifications.Broadcast(c.Request.Context(), middleware.GetIdentity(c), notification.BroadcastInput{
		Title: req.Title,
		Body:  req.Body,
		Data:  req.Data,
	})
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.OKWithCount(recipients))
}

func (h *handlers) markNotificationRead(c *gin.Context) {
	if err := h.notifications.MarkRead(c.Request.Context(), middleware.GetIdentity(c).UserID, c.Param("id")); err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.Done())
}

func (h *handlers) markAllNotificationsRead(c *gin.Context) {
	count, err := h.notifications.MarkAllRead(c.Request.Context(), middleware.GetIdentity(c).UserID)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.OKWithCount(count))
}

func (h *handlers) deleteNotification(c *gin.Context) {
	if err := h.notifications.Delete(c.Request.Context(), middleware.GetIdentity(c).UserID, c.Param("id")); err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.Done())
}

func (h *handlers) deleteNotifications(c *gin.Context) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if !bindJSON(c, &req) {
		return
	}
	for _, id := range req.IDs {
		if err := middleware.ValidateObjectID(id); err != nil {
			httputil.ValidationError(c, "ids", err.Error())
			return
		}
	}

	count, err := h.notifications.DeleteMany(c.Request.Context(), middleware.GetIdentity(c).UserID, req.IDs)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.OKWithCount(count))
}

func (h *handlers) deleteReadNotifications(c *gin.Context) {
	count, err := h.notifications.DeleteRead(c.Request.Context(), middleware.GetIdentity(c).UserID)
	if err != nil {
		httputil.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, httputil.OKWithCount(count))
}
