package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shortsfs/shortsfs/internal/models"
	"github.com/shortsfs/shortsfs/internal/pkg/kerrors"
	"github.com/shortsfs/shortsfs/internal/service"
	"github.com/shortsfs/shortsfs/pkg/logging"
	"github.com/shortsfs/shortsfs/pkg/logging/slogext"
)

// Handler translates HTTP requests into engine calls. Every response
// carries status_code (0 or a negative kernel errno) and error_message;
// payload fields are operation-specific.
type Handler struct {
	service service.FileSystemService
}

func NewHandler(service service.FileSystemService) *Handler {
	return &Handler{service: service}
}

type envelope struct {
	StatusCode   int64  `json:"status_code"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type attrsResponse struct {
	envelope
	Attrs *models.Attrs `json:"attrs,omitempty"`
}

type readDirResponse struct {
	envelope
	Entries []models.Dirent `json:"entries,omitempty"`
}

type createResponse struct {
	envelope
	Ino uint64 `json:"ino,omitempty"`
}

type writeResponse struct {
	envelope
	BytesWritten int64 `json:"bytes_written"`
}

type readResponse struct {
	envelope
	Data      []byte `json:"data,omitempty"`
	BytesRead int64  `json:"bytes_read"`
}

type pathRequest struct {
	Path string `json:"path"`
}

type createRequest struct {
	Path string `json:"path"`
	Mode uint32 `json:"mode"`
}

type renameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type writeRequest struct {
	Path   string `json:"path"`
	Data   []byte `json:"data"`
	Offset int64  `json:"offset"`
}

type readRequest struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Offset int64  `json:"offset"`
}

type timeSpec struct {
	How  string     `json:"how"` // "omit", "now" or "set"
	Time *time.Time `json:"time,omitempty"`
}

type utimensRequest struct {
	Path  string   `json:"path"`
	Atime timeSpec `json:"atime"`
	Mtime timeSpec `json:"mtime"`
}

func (h *Handler) HandleGetAttr(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pathRequest
	if !decodeRequest(w, r, &req) || !requirePath(w, req.Path) {
		return
	}

	attrs, err := h.service.GetAttr(ctx, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, attrsResponse{Attrs: attrs})
}

func (h *Handler) HandleReadDir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pathRequest
	if !decodeRequest(w, r, &req) || !requirePath(w, req.Path) {
		return
	}

	entries, err := h.service.ReadDir(ctx, req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, readDirResponse{Entries: entries})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if !decodeRequest(w, r, &req) || !requirePath(w, req.Path) {
		return
	}

	ino, err := h.service.Create(ctx, req.Path, req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, createResponse{Ino: ino})
}

func (h *Handler) HandleMkdir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createRequest
	if !decodeRequest(w, r, &req) || !requirePath(w, req.Path) {
		return
	}

	if err := h.service.Mkdir(ctx, req.Path, req.Mode); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, envelope{})
}

func (h *Handler) HandleRmdir(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pathRequest
	if !decodeRequest(w, r, &req) || !requirePath(w, req.Path) {
		return
	}

	if err := h.service.Rmdir(ctx, req.Path); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, envelope{})
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req pathRequest
	if !decodeRequest(w, r, &req) || !requirePath(w, req.Path) {
		return
	}

	if err := h.service.Unlink(ctx, req.Path); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, envelope{})
}

func (h *Handler) HandleRename(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req renameRequest
	if !decodeRequest(w, r, &req) || !requirePath(w, req.From) || !requirePath(w, req.To) {
		return
	}

	if err := h.service.Rename(ctx, req.From, req.To); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, envelope{})
}

func (h *Handler) HandleWrite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	const op = "handler.HandleWrite"

	logger := logging.GetLoggerFromContextWithOp(ctx, op)

	var req writeRequest
	if !decodeRequest(w, r, &req) || !requirePath(w, req.Path) {
		return
	}
	if req.Offset < 0 {
		writeJSON(w, envelope{StatusCode: kerrors.EINVAL_NEG, ErrorMessage: "invalid offset"})
		return
	}

	handle, err := h.service.Open(ctx, req.Path, true, true)
	if err != nil {
		writeError(w, err)
		return
	}

	written, err := h.service.Write(ctx, handle, req.Data, req.Offset)
	if err != nil {
		logger.Error("Write failed", slogext.Err(err),
			slog.String("path", req.Path),
			slog.Int64("bytes_written", written),
		)
		// Partial progress is reported alongside the error so the
		// client can resume the append from the new size.
		writeJSON(w, writeResponse{
			envelope:     errorEnvelope(err),
			BytesWritten: written,
		})
		return
	}

	writeJSON(w, writeResponse{BytesWritten: written})
}

func (h *Handler) HandleRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req readRequest
	if !decodeRequest(w, r, &req) || !requirePath(w, req.Path) {
		return
	}
	if req.Offset < 0 || req.Size < 0 {
		writeJSON(w, envelope{StatusCode: kerrors.EINVAL_NEG, ErrorMessage: "invalid offset or size"})
		return
	}

	handle, err := h.service.Open(ctx, req.Path, false, false)
	if err != nil {
		writeError(w, err)
		return
	}

	// Size zero means "read to end of file".
	size := req.Size
	if size == 0 {
		attrs, err := h.service.GetAttr(ctx, req.Path)
		if err != nil {
			writeError(w, err)
			return
		}
		size = attrs.Size - req.Offset
		if size <= 0 {
			writeJSON(w, readResponse{Data: []byte{}})
			return
		}
	}

	data, err := h.service.Read(ctx, handle, size, req.Offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, readResponse{Data: data, BytesRead: int64(len(data))})
}

func (h *Handler) HandleUtimens(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req utimensRequest
	if !decodeRequest(w, r, &req) || !requirePath(w, req.Path) {
		return
	}

	atime, ok := parseTimeSpec(req.Atime)
	if !ok {
		writeJSON(w, envelope{StatusCode: kerrors.EINVAL_NEG, ErrorMessage: "invalid atime spec"})
		return
	}
	mtime, ok := parseTimeSpec(req.Mtime)
	if !ok {
		writeJSON(w, envelope{StatusCode: kerrors.EINVAL_NEG, ErrorMessage: "invalid mtime spec"})
		return
	}

	if err := h.service.SetTimes(ctx, req.Path, atime, mtime); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, envelope{})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok","service":"shortsfs"}`))
}

func parseTimeSpec(ts timeSpec) (models.TimeSpec, bool) {
	switch ts.How {
	case "", "omit":
		return models.OmitTime(), true
	case "now":
		return models.NowTime(), true
	case "set":
		if ts.Time == nil {
			return models.TimeSpec{}, false
		}
		return models.SetTime(*ts.Time), true
	default:
		return models.TimeSpec{}, false
	}
}

func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, envelope{StatusCode: kerrors.EINVAL_NEG, ErrorMessage: "malformed request body"})
		return false
	}
	return true
}

func requirePath(w http.ResponseWriter, p string) bool {
	if p == "" {
		writeJSON(w, envelope{StatusCode: kerrors.EINVAL_NEG, ErrorMessage: "path is required"})
		return false
	}
	return true
}

func errorEnvelope(err error) envelope {
	return envelope{
		StatusCode:   mapErrorToCode(err),
		ErrorMessage: err.Error(),
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorEnvelope(err))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}

func mapErrorToCode(err error) int64 {
	if kind, ok := kerrors.KindOf(err); ok {
		return -kerrors.Errno(kind)
	}
	return -kerrors.EIO
}
