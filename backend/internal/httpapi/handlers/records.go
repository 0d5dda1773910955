package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/conflict"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/store"
	"github.com/DeepselSystems/deepsel-cms-sub000/backend/internal/ws"
)

type RecordHandlers struct {
	records *store.RecordStore
	manager *ws.Manager
	sink    ws.EventSink
}

func NewRecordHandlers(records *store.RecordStore, manager *ws.Manager, sink ws.EventSink) *RecordHandlers {
	return &RecordHandlers{records: records, manager: manager, sink: sink}
}

func recordTypeParam(c *gin.Context) (conflict.RecordType, bool) {
	t := conflict.RecordType(c.Param("type"))
	if !t.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_RECORD_TYPE", "message": "record type must be page or blog_post"})
		return "", false
	}
	return t, true
}

func recordIDParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_RECORD_ID", "message": "invalid record id"})
		return 0, false
	}
	return id, true
}

// GET /v1/records/:type/:id
func (h *RecordHandlers) GetRecord(c *gin.Context) {
	recordType, ok := recordTypeParam(c)
	if !ok {
		return
	}
	id, ok := recordIDParam(c)
	if !ok {
		return
	}
	rec, err := h.records.Get(c.Request.Context(), recordType, id)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "record not found"})
			return
		}
		log.Printf("handlers: get record error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "fetch failed"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// POST /v1/records/:type
func (h *RecordHandlers) CreateRecord(c *gin.Context) {
	recordType, ok := recordTypeParam(c)
	if !ok {
		return
	}
	var rec conflict.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_BODY", "message": err.Error()})
		return
	}
	rec.Type = recordType
	created, err := h.records.Create(c.Request.Context(), &rec, c.GetString("username"))
	if err != nil {
		if errors.Is(err, conflict.ErrDuplicateLocale) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "DUPLICATE_LOCALE", "message": err.Error()})
			return
		}
		log.Printf("handlers: create record error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "create failed"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// PUT /v1/records/:type/:id
func (h *RecordHandlers) UpdateRecord(c *gin.Context) {
	recordType, ok := recordTypeParam(c)
	if !ok {
		return
	}
	id, ok := recordIDParam(c)
	if !ok {
		return
	}
	var rec conflict.Record
	if err := c.ShouldBindJSON(&rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_BODY", "message": err.Error()})
		return
	}
	rec.Type = recordType
	rec.ID = id
	updated, err := h.records.Update(c.Request.Context(), &rec, c.GetString("username"))
	if err != nil {
		switch {
		case errors.Is(err, store.ErrRecordNotFound):
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "record not found"})
		case errors.Is(err, conflict.ErrDuplicateLocale):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "DUPLICATE_LOCALE", "message": err.Error()})
		default:
			log.Printf("handlers: update record error: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "update failed"})
		}
		return
	}
	c.JSON(http.StatusOK, updated)
}

// POST /v1/conflict-check
func (h *RecordHandlers) ConflictCheck(c *gin.Context) {
	var req conflict.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_BODY", "message": err.Error()})
		return
	}
	if !req.RecordType.Valid() || req.RecordID == 0 || req.EditStartTimestamp.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"code": "BAD_REQUEST", "message": "record_type, record_id and edit_start_timestamp are required"})
		return
	}
	current, err := h.records.Get(c.Request.Context(), req.RecordType, req.RecordID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"code": "NOT_FOUND", "message": "record not found"})
			return
		}
		log.Printf("handlers: conflict check error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "message": "conflict check failed"})
		return
	}
	c.JSON(http.StatusOK, conflict.Check(req, current))
}

type leaveRequest struct {
	RecordType string `json:"record_type"`
	RecordID   uint64 `json:"record_id"`
	ContentID  uint64 `json:"content_id,omitempty"`
	UserID     uint64 `json:"user_id"`
}

// POST /v1/edit-sessions/leave
// 页面卸载时的 beacon：不鉴权（sendBeacon 带不了 Header），尽力而为，永远 204。
func (h *RecordHandlers) LeaveSession(c *gin.Context) {
	var req leaveRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	recordType := conflict.RecordType(req.RecordType)
	if !recordType.Valid() || req.RecordID == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	session := ws.Session{RecordType: recordType, RecordID: req.RecordID, ContentID: req.ContentID}
	ctx := c.Request.Context()

	presence := h.manager.Hub().Presence()
	// 先查名字再删（删完名字表就没了）
	username := ""
	if alive, err := presence.GetAliveEditors(ctx, session.Key()); err == nil {
		for _, e := range alive {
			if e.UserID == req.UserID {
				username = e.Username
				break
			}
		}
	}
	if err := presence.RemoveEditor(ctx, session.Key(), req.UserID); err != nil {
		log.Printf("handlers: beacon remove editor error: %v", err)
	}
	remaining, err := presence.GetAliveEditors(ctx, session.Key())
	if err != nil {
		log.Printf("handlers: beacon get alive editors error: %v", err)
	}
	h.manager.Hub().BroadcastEditorLeft(session, ws.EditorInfo{UserID: req.UserID, Username: username}, len(remaining) <= 1, nil)
	if h.sink != nil {
		h.sink.EditorLeft(session, req.UserID, username)
	}
	c.Status(http.StatusNoContent)
}
