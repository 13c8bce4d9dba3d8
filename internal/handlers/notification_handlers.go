package handlers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/agribazaar/agribazaar-golang/internal/models"
)

//
// --- Notification Handlers & Helpers ---
//

// AddNotification inserts a notification inside an existing transaction,
// so it commits or rolls back with the operation that caused it.
func (h *Handlers) AddNotification(tx *sql.Tx, userID int64, title, message, category, link string, metadata map[string]string) error {
	meta, err := encodeMeta(metadata)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO notifications (user_id, title, message, category, link, metadata)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)`,
		userID, title, message, category, link, meta,
	)
	return err
}

// Notify is the fire-and-forget variant used after a transaction has
// already committed. A failed notification is logged, never surfaced: it
// must not undo or block the payment operation it describes.
func (h *Handlers) Notify(userID int64, title, message, category, link string, metadata map[string]string) {
	meta, err := encodeMeta(metadata)
	if err != nil {
		h.Logger.Error().Err(err).Int64("user_id", userID).Msg("Failed to encode notification metadata")
		return
	}
	_, err = h.DB.Exec(`
		INSERT INTO notifications (user_id, title, message, category, link, metadata)
		VALUES (?, ?, ?, ?, NULLIF(?, ''), ?)`,
		userID, title, message, category, link, meta,
	)
	if err != nil {
		h.Logger.Error().Err(err).Int64("user_id", userID).Str("title", title).Msg("Failed to insert notification")
	}
}

// GetMyNotifications is the handler for GET /v1/notifications
func (h *Handlers) GetMyNotifications(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	// Pagination (default: newest 20)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	rows, err := h.DB.Query(`
		SELECT id, user_id, title, message, category, link, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch notifications"})
		return
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Title, &n.Message, &n.Category, &n.Link, &n.IsRead, &n.CreatedAt); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to scan notification"})
			return
		}
		notifications = append(notifications, n)
	}

	var unread int
	_ = h.DB.QueryRow("SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = FALSE", userID).Scan(&unread)

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"unreadCount":   unread,
		"page":          page,
	})
}

// MarkNotificationAsRead is the handler for PATCH /v1/notifications/:id/read
func (h *Handlers) MarkNotificationAsRead(c *gin.Context) {
	userIDRaw, _ := c.Get("userID")
	userID := userIDRaw.(int64)

	notificationID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
		return
	}

	result, err := h.DB.Exec(
		"UPDATE notifications SET is_read = TRUE WHERE id = ? AND user_id = ?",
		notificationID, userID,
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update notification"})
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}
