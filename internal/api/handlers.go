package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"keenscan/internal/models"
	"keenscan/internal/service/ai"
	"keenscan/internal/service/flows"
	"keenscan/internal/service/qa"
	"keenscan/internal/service/workspace"
	"keenscan/internal/worker"
)

// BatchRunner is the extraction batch interface the handlers depend on.
type BatchRunner interface {
	Run(*worker.Batch) (*models.Session, error)
	Status() worker.Status
}

// Handler wires HTTP routes to the workspace, flow, and runner services.
type Handler struct {
	workspace *workspace.Service
	flows     *flows.Service
	qa        *qa.Service
	runner    BatchRunner
	fileBase  string
	uploadTTL time.Duration
}

// NewHandler constructs a Handler instance.
func NewHandler(ws *workspace.Service, fl *flows.Service, qaSvc *qa.Service, runner BatchRunner, fileBase string, uploadTTL time.Duration) *Handler {
	return &Handler{
		workspace: ws,
		flows:     fl,
		qa:        qaSvc,
		runner:    runner,
		fileBase:  fileBase,
		uploadTTL: uploadTTL,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api")
	api.POST("/uploads", h.uploadFile)
	api.GET("/uploads/:id/preview", h.previewUpload)
	api.DELETE("/uploads/:id", h.deleteUpload)
	api.POST("/extract", h.extract)
	api.GET("/extract/status", h.extractStatus)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/:id", h.getSession)
	api.PUT("/sessions/:id/text", h.updateSessionText)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.POST("/sessions/:id/proofread", h.proofreadSession)
	api.POST("/sessions/:id/spelling", h.correctSessionSpelling)
	api.POST("/sessions/:id/ask", h.askQuestion)
	api.GET("/sessions/:id/messages", h.sessionMessages)
	api.DELETE("/sessions/:id/messages", h.clearSessionMessages)
	api.POST("/keys", h.setAPIKey)
	api.GET("/keys", h.listAPIKeys)
	api.DELETE("/keys", h.deleteAPIKey)
}

// credentialsRequest is embedded in every request that reaches the model. The
// api key is resolved per call: explicit value, then the stored provider key,
// then the configured one.
type credentialsRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
}

func (h *Handler) resolveCredentials(ctx context.Context, req credentialsRequest) (ai.Credentials, error) {
	provider := strings.TrimSpace(req.Provider)
	if provider == "" {
		return ai.Credentials{}, errors.New("provider is required")
	}
	key := strings.TrimSpace(req.APIKey)
	if key == "" {
		stored, err := h.workspace.GetAPIKey(ctx, provider)
		if err != nil {
			return ai.Credentials{}, err
		}
		key = stored
	}
	return ai.Credentials{Provider: provider, Model: strings.TrimSpace(req.Model), APIKey: key}, nil
}

func sessionIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return 0, false
	}
	return id, true
}

func flowErrorStatus(err error) int {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound
	case errors.Is(err, ai.ErrRemote):
		return http.StatusBadGateway
	default:
		return http.StatusBadRequest
	}
}

// Sessions

func (h *Handler) listSessions(c *gin.Context) {
	sessions, err := h.workspace.ListSessions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sessions == nil {
		sessions = make([]models.Session, 0)
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *Handler) getSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	session, err := h.workspace.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *Handler) updateSessionText(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.workspace.UpdateSessionText(c.Request.Context(), id, req.Text); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) deleteSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	if err := h.workspace.DeleteSession(c.Request.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.qa.Clear(id)
	c.Status(http.StatusNoContent)
}

// Text refinement

func (h *Handler) proofreadSession(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.workspace.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	creds, err := h.resolveCredentials(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.flows.ProofreadText(c.Request.Context(), flows.ProofreadRequest{
		Credentials: creds,
		Text:        session.Text,
	})
	if err != nil {
		c.JSON(flowErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	if result.ProofreadText != "" {
		if err := h.workspace.UpdateSessionText(c.Request.Context(), id, result.ProofreadText); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		session.Text = result.ProofreadText
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

func (h *Handler) correctSessionSpelling(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.workspace.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	creds, err := h.resolveCredentials(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := h.flows.CorrectSpelling(c.Request.Context(), flows.SpellingRequest{
		Credentials: creds,
		Text:        session.Text,
	})
	if err != nil {
		c.JSON(flowErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	if result.CorrectedText != "" {
		if err := h.workspace.UpdateSessionText(c.Request.Context(), id, result.CorrectedText); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		session.Text = result.CorrectedText
	}
	c.JSON(http.StatusOK, gin.H{"session": session})
}

// Q&A

func (h *Handler) askQuestion(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	var req struct {
		credentialsRequest
		Question   string `json:"question"`
		AnswerType string `json:"answer_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	creds, err := h.resolveCredentials(c.Request.Context(), req.credentialsRequest)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	answerType := flows.AnswerType(req.AnswerType)
	if answerType != "" {
		if _, ok := answerType.Instruction(); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown answer type: %s", req.AnswerType)})
			return
		}
	}
	message, err := h.qa.Ask(c.Request.Context(), id, req.Question, answerType, creds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(flowErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": message})
}

func (h *Handler) sessionMessages(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	history := h.qa.History(id)
	if history == nil {
		history = make([]models.Message, 0)
	}
	c.JSON(http.StatusOK, gin.H{"messages": history})
}

func (h *Handler) clearSessionMessages(c *gin.Context) {
	id, ok := sessionIDParam(c)
	if !ok {
		return
	}
	h.qa.Clear(id)
	c.Status(http.StatusNoContent)
}

// API keys

func (h *Handler) setAPIKey(c *gin.Context) {
	var req struct {
		Provider string `json:"provider"`
		Key      string `json:"key"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.workspace.SetAPIKey(c.Request.Context(), req.Provider, req.Key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listAPIKeys(c *gin.Context) {
	keys, err := h.workspace.ListAPIKeys(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if keys == nil {
		keys = make([]workspace.APIKeyInfo, 0)
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

func (h *Handler) deleteAPIKey(c *gin.Context) {
	var req struct {
		Provider string `json:"provider"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.workspace.DeleteAPIKey(c.Request.Context(), req.Provider); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// Extraction

type extractRequest struct {
	credentialsRequest
	UploadIDs []int64 `json:"upload_ids"`
	Mode      string  `json:"mode"`
	SessionID int64   `json:"session_id"`
}

func (h *Handler) extract(c *gin.Context) {
	var req extractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	mode := worker.CommitMode(req.Mode)
	if mode == "" {
		mode = worker.CommitNew
	}
	if mode != worker.CommitNew && mode != worker.CommitContinue {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid mode: %s", req.Mode)})
		return
	}
	if mode == worker.CommitContinue && req.SessionID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "continue mode requires session_id"})
		return
	}
	uploads, err := h.resolveUploads(c.Request.Context(), req.UploadIDs)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, sql.ErrNoRows) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	creds, err := h.resolveCredentials(c.Request.Context(), req.credentialsRequest)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if st := h.runner.Status(); st.Phase != worker.PhaseIdle {
		c.JSON(http.StatusConflict, gin.H{"error": "an extraction batch is already running"})
		return
	}

	batchCtx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Minute)
	defer cancel()

	// SSE request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		var data []byte
		switch v := payload.(type) {
		case string:
			data = []byte(v)
		default:
			var err error
			data, err = json.Marshal(v)
			if err != nil {
				return err
			}
		}
		if event != "" {
			if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	session, err := h.runner.Run(&worker.Batch{
		Context:     batchCtx,
		Uploads:     uploads,
		Mode:        mode,
		SessionID:   req.SessionID,
		Credentials: creds,
		ProgressFn: func(index, total int, fileName string) {
			_ = sendEvent("progress", gin.H{
				"current": index,
				"total":   total,
				"file":    fileName,
			})
		},
	})
	if err != nil {
		msg := err.Error()
		if errors.Is(err, worker.ErrBusy) {
			msg = "an extraction batch is already running, please retry"
		}
		_ = sendEvent("error", gin.H{"message": msg})
		return
	}
	_ = sendEvent("done", gin.H{"session": session})
}

func (h *Handler) extractStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.runner.Status())
}

// resolveUploads fetches the batch files, preserving the requested order.
func (h *Handler) resolveUploads(ctx context.Context, ids []int64) ([]*models.Upload, error) {
	if len(ids) == 0 {
		return nil, errors.New("upload_ids is required")
	}
	seen := make(map[int64]struct{}, len(ids))
	ordered := make([]int64, 0, len(ids))
	for _, id := range ids {
		if id <= 0 {
			return nil, errors.New("invalid upload id")
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ordered = append(ordered, id)
	}
	uploads, err := h.workspace.GetUploadsByIDs(ctx, ordered)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]*models.Upload, len(uploads))
	for _, u := range uploads {
		byID[u.ID] = u
	}
	result := make([]*models.Upload, 0, len(ordered))
	for _, id := range ordered {
		u, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("upload id %d not found: %w", id, sql.ErrNoRows)
		}
		result = append(result, u)
	}
	return result, nil
}

// Uploads

const (
	maxUploadBytes = 15 << 20  // 15 MB per file
	storageLimit   = 100 << 20 // 100 MB pending total
)

func isAllowedContentType(ct string) bool {
	return strings.HasPrefix(ct, "image/") || ct == "application/pdf"
}

func (h *Handler) uploadFile(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(maxUploadBytes); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
		return
	}
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
		return
	}
	usage, err := h.workspace.UploadStorageUsage(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "calculate usage failed"})
		return
	}
	if usage+file.Size > storageLimit {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "storage quota exceeded"})
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "open file failed"})
		return
	}
	buf := make([]byte, 512)
	n, _ := f.Read(buf)
	_ = f.Close()
	contentType := http.DetectContentType(buf[:n])
	if !isAllowedContentType(contentType) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported file type, expected image or pdf"})
		return
	}
	filename := filepath.Base(file.Filename)
	destDir, destPath, finalName := h.getUniqueFilePath(filename)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create directory failed"})
		return
	}
	if err := c.SaveUploadedFile(file, destPath); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "save file failed"})
		return
	}
	uploadID, err := h.workspace.RecordUpload(c.Request.Context(), finalName, destPath, contentType, file.Size, h.uploadTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record file failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"upload_id": uploadID,
		"file_name": finalName,
		"size":      file.Size,
		"mime":      contentType,
		"used":      usage + file.Size,
		"limit":     storageLimit,
	})
}

func (h *Handler) previewUpload(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload id"})
		return
	}
	u, err := h.workspace.GetUpload(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Content-Type", u.MimeType)
	c.File(u.StoredPath)
}

func (h *Handler) deleteUpload(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid upload id"})
		return
	}
	u, err := h.workspace.GetUpload(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "upload not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.workspace.ReleaseUpload(c.Request.Context(), u); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) getFilePath(filename string) (string, string) {
	destDir := filepath.Join(h.fileBase, time.Now().UTC().Format("2006-01"))
	destPath := filepath.Join(destDir, filename)
	return destDir, destPath
}

func (h *Handler) getUniqueFilePath(filename string) (string, string, string) {
	destDir, destPath := h.getFilePath(filename)
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destDir, destPath, filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		dir, path := h.getFilePath(candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return dir, path, candidate
		}
	}
	fallback := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	return destDir, filepath.Join(destDir, fallback), fallback
}
