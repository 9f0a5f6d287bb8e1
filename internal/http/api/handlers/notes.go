package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	dbutil "github.com/notedock/notedock/internal/db"
	"github.com/notedock/notedock/internal/models"
	"gorm.io/gorm"
)

// Pagination bounds for note listing. Out-of-range values are
// rejected, not clamped.
const (
	noteDefaultPage  = 1
	noteDefaultLimit = 10
	noteMaxLimit     = 50
)

// NoteHandler manages owner-scoped note CRUD endpoints.
type NoteHandler struct {
	db *gorm.DB // Database handle for note records.
}

// NewNoteHandler constructs a NoteHandler.
func NewNoteHandler(db *gorm.DB) *NoteHandler {
	return &NoteHandler{db: db}
}

// noteRequest captures the payload for creating or updating a note.
type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (r *noteRequest) validate() (string, string, bool) {
	title := strings.TrimSpace(r.Title)
	if title == "" || len(title) > models.NoteTitleMaxLen {
		return "", "", false
	}
	if len(r.Content) > models.NoteContentMaxLen {
		return "", "", false
	}
	return title, r.Content, true
}

// Create inserts a note owned by the caller.
func (h *NoteHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	var body noteRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	title, content, valid := body.validate()
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required (max 100 chars), content max 10000 chars"})
		return
	}

	now := time.Now().UTC()
	note := models.Note{
		UserID:    userID,
		Title:     title,
		Content:   content,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&note).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "note creation failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"note": noteResponse(&note)})
}

// List returns the caller's notes, newest first, with pagination
// metadata and an optional title/content search.
func (h *NoteHandler) List(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	page, limit, okPage := parsePagination(c)
	if !okPage {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page must be >= 1 and limit must be 1-50"})
		return
	}

	searchQ := strings.TrimSpace(c.Query("search"))
	filtered := func() *gorm.DB {
		q := h.db.WithContext(c.Request.Context()).Model(&models.Note{}).Where("user_id = ?", userID)
		if searchQ != "" {
			pattern := dbutil.NormalizeLikePattern(h.db, "%"+searchQ+"%")
			q = q.Where(
				dbutil.CaseInsensitiveLikeExpr(h.db, "title")+" OR "+dbutil.CaseInsensitiveLikeExpr(h.db, "content"),
				pattern,
				pattern,
			)
		}
		return q
	}

	var total int64
	if errCount := filtered().Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list notes failed"})
		return
	}

	var rows []models.Note
	errFind := filtered().Order("created_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error
	if errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list notes failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, noteResponse(&rows[i]))
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	c.JSON(http.StatusOK, gin.H{
		"notes": out,
		"pagination": gin.H{
			"total":       total,
			"page":        page,
			"limit":       limit,
			"totalPages":  totalPages,
			"hasNextPage": page < totalPages,
			"hasPrevPage": page > 1,
		},
	})
}

// Update modifies one of the caller's notes. A note owned by someone
// else behaves exactly like a missing note.
func (h *NoteHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	id, okID := parseNoteID(c)
	if !okID {
		return
	}
	var body noteRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	title, content, valid := body.validate()
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title is required (max 100 chars), content max 10000 chars"})
		return
	}

	ctx := c.Request.Context()
	res := h.db.WithContext(ctx).Model(&models.Note{}).
		Where("id = ? AND user_id = ?", id, userID).
		Updates(map[string]any{
			"title":      title,
			"content":    content,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "note update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
		return
	}

	var note models.Note
	if errFind := h.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&note).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "note update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": noteResponse(&note)})
}

// Delete removes one of the caller's notes. Missing and wrong-owner
// are indistinguishable to the caller.
func (h *NoteHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	id, okID := parseNoteID(c)
	if !okID {
		return
	}

	res := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", id, userID).
		Delete(&models.Note{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "note deletion failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "note deleted"})
}

// parseNoteID validates the :id path parameter before any store
// access, writing the 400 response for malformed identifiers.
func parseNoteID(c *gin.Context) (uint64, bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid note id"})
		return 0, false
	}
	return id, true
}

// parsePagination reads page and limit query parameters, applying
// defaults when absent and rejecting out-of-range values.
func parsePagination(c *gin.Context) (int, int, bool) {
	page := noteDefaultPage
	limit := noteDefaultLimit

	if raw := strings.TrimSpace(c.Query("page")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 1 {
			return 0, 0, false
		}
		page = parsed
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 1 || parsed > noteMaxLimit {
			return 0, 0, false
		}
		limit = parsed
	}
	return page, limit, true
}

// noteResponse shapes a note for API responses.
func noteResponse(note *models.Note) gin.H {
	return gin.H{
		"id":        note.ID,
		"title":     note.Title,
		"content":   note.Content,
		"userId":    note.UserID,
		"createdAt": note.CreatedAt,
		"updatedAt": note.UpdatedAt,
	}
}
