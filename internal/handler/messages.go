package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/eno-chat/internal/metrics"
	"github.com/iliyamo/eno-chat/internal/middleware"
	"github.com/iliyamo/eno-chat/internal/model"
	"github.com/iliyamo/eno-chat/internal/storage"
)

// MessageStore persists and lists messages.  *repository.MessageRepo
// satisfies it.
type MessageStore interface {
	Append(ctx context.Context, senderID uint64, p model.Payload) (model.Message, error)
	List(ctx context.Context, limit int) ([]model.Message, error)
}

// AttachmentStore checks, saves and serves uploaded files.
// *storage.Store satisfies it.
type AttachmentStore interface {
	MaxBytes() int64
	Check(size int64, originalName, declaredType string) (string, error)
	Save(ctx context.Context, data []byte, originalName, declaredType string) (storage.Saved, error)
	Retrieve(ctx context.Context, name string) (io.ReadCloser, storage.ObjectInfo, error)
}

// CacheInvalidator drops cached message lists.
type CacheInvalidator interface {
	Invalidate(ctx context.Context)
}

// EventPublisher announces stored messages.
type EventPublisher interface {
	MessageCreated(ctx context.Context, m model.Message) error
}

// multipartSlack is the room left for multipart framing on top of the file
// size limit.
const multipartSlack = 64 << 10

// MessageHandler serves the shared channel.
type MessageHandler struct {
	Messages   MessageStore
	Files      AttachmentStore
	Cache      CacheInvalidator // optional
	Events     EventPublisher   // optional
	PublicPath string           // URL prefix of GET /uploads/:name
	Log        *zap.Logger
}

func NewMessageHandler(messages MessageStore, files AttachmentStore, publicPath string, log *zap.Logger) *MessageHandler {
	return &MessageHandler{
		Messages:   messages,
		Files:      files,
		PublicPath: strings.TrimRight(publicPath, "/"),
		Log:        log,
	}
}

type sendReq struct {
	Type    string `json:"type"`
	Text    string `json:"text"`
	Emoji   string `json:"emoji"`
	Sticker string `json:"sticker"`
}

// payload builds the variant named by Type.  Attachments are rejected here:
// they only enter through Upload.
func (r sendReq) payload() (model.Payload, map[string]string) {
	switch model.MessageType(strings.ToLower(strings.TrimSpace(r.Type))) {
	case "":
		return nil, map[string]string{"type": "is required"}
	case model.TypeText:
		return model.Text{Body: r.Text}, nil
	case model.TypeEmoji:
		return model.Emoji{Emoji: r.Emoji}, nil
	case model.TypeSticker:
		return model.Sticker{Sticker: r.Sticker}, nil
	case model.TypeImage, model.TypeFile:
		return nil, map[string]string{"type": "image and file messages are sent with POST /upload"}
	}
	return nil, map[string]string{"type": "must be one of text, emoji, sticker"}
}

// Send stores a text, emoji or sticker message from the authenticated user.
func (h *MessageHandler) Send(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing token"})
	}
	var req sendReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	p, fields := req.payload()
	if fields != nil {
		return validationFailed(c, fields)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	m, err := h.Messages.Append(ctx, uid, p)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	h.afterAppend(ctx, m)
	return c.JSON(http.StatusCreated, h.withURL(m))
}

// List returns the most recent messages, oldest first.  An optional
// ?limit= is clamped by the store.
func (h *MessageHandler) List(c echo.Context) error {
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return validationFailed(c, map[string]string{"limit": "must be an integer"})
		}
		limit = n
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	msgs, err := h.Messages.List(ctx, limit)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	out := make([]model.Message, len(msgs))
	for i, m := range msgs {
		out[i] = h.withURL(m)
	}
	return c.JSON(http.StatusOK, out)
}

// Upload stores the multipart field "file" and appends an image or file
// message pointing at it.
func (h *MessageHandler) Upload(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing token"})
	}
	limit := h.Files.MaxBytes()
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, limit+multipartSlack)

	fh, err := c.FormFile("file")
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			metrics.UploadsRejected.WithLabelValues("size").Inc()
			return respondError(c, h.Log, storage.ErrFileTooLarge)
		}
		// Missing field, non-multipart body or a malformed form.
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msgNoFile})
	}

	name := cleanFileName(fh.Filename)
	declared := fh.Header.Get(echo.HeaderContentType)
	// Cheap rejection from the part header before reading any content.
	if _, err := h.Files.Check(fh.Size, name, declared); err != nil {
		metrics.UploadsRejected.WithLabelValues(rejectReason(err)).Inc()
		return respondError(c, h.Log, err)
	}

	f, err := fh.Open()
	if err != nil {
		return respondError(c, h.Log, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	if int64(len(data)) > limit {
		metrics.UploadsRejected.WithLabelValues("size").Inc()
		return respondError(c, h.Log, storage.ErrFileTooLarge)
	}

	ctx, cancel := context.WithTimeout(req.Context(), 30*time.Second)
	defer cancel()

	saved, err := h.Files.Save(ctx, data, name, declared)
	if err != nil {
		metrics.UploadsRejected.WithLabelValues(rejectReason(err)).Inc()
		return respondError(c, h.Log, err)
	}
	metrics.UploadBytes.Observe(float64(saved.Size))

	att := model.Attachment{
		FileName:    name,
		Path:        saved.Name,
		Size:        saved.Size,
		ContentType: saved.ContentType,
		Checksum:    saved.Checksum,
	}
	var p model.Payload = model.File{Attachment: att}
	if storage.IsImage(name) {
		p = model.Image{Attachment: att}
	}

	m, err := h.Messages.Append(ctx, uid, p)
	if err != nil {
		// The stored file has no message referring to it.
		metrics.OrphanedAttachments.Inc()
		h.Log.Warn("upload: attachment stored without message",
			zap.String("attachment", saved.Name),
			zap.Uint64("user_id", uid),
			zap.Error(err),
		)
		return respondError(c, h.Log, err)
	}
	h.afterAppend(ctx, m)
	return c.JSON(http.StatusCreated, h.withURL(m))
}

// ServeUpload streams a stored attachment by its generated name.
func (h *MessageHandler) ServeUpload(c echo.Context) error {
	rc, info, err := h.Files.Retrieve(c.Request().Context(), c.Param("name"))
	if err != nil {
		return respondError(c, h.Log, err)
	}
	defer rc.Close()

	ctype := info.ContentType
	if ctype == "" {
		ctype = echo.MIMEOctetStream
	}
	hdr := c.Response().Header()
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("Cache-Control", "public, max-age=31536000, immutable")
	if !storage.IsImage(c.Param("name")) {
		hdr.Set(echo.HeaderContentDisposition, "attachment")
	}
	if info.Size > 0 {
		hdr.Set(echo.HeaderContentLength, strconv.FormatInt(info.Size, 10))
	}
	return c.Stream(http.StatusOK, ctype, rc)
}

// afterAppend drops cached lists and publishes the event.  Neither can fail
// the request.
func (h *MessageHandler) afterAppend(ctx context.Context, m model.Message) {
	metrics.MessagesPosted.WithLabelValues(string(m.Type())).Inc()
	if h.Cache != nil {
		h.Cache.Invalidate(ctx)
	}
	if h.Events == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Events.MessageCreated(ctx, m); err != nil {
			h.Log.Warn("publish message.created failed", zap.Uint64("message_id", m.ID), zap.Error(err))
		}
	}()
}

// withURL sets FileURL for attachment messages.
func (h *MessageHandler) withURL(m model.Message) model.Message {
	switch p := m.Payload.(type) {
	case model.Image:
		m.FileURL = h.PublicPath + "/" + p.Path
	case model.File:
		m.FileURL = h.PublicPath + "/" + p.Path
	}
	return m
}

// cleanFileName keeps the base name the client sent, for display only.
func cleanFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimSpace(filepath.Base(name))
	if name == "." || name == "/" {
		return ""
	}
	if len(name) > 255 {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:255-len(ext)], "") + ext
	}
	return name
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, storage.ErrFileTooLarge):
		return "size"
	case errors.Is(err, storage.ErrUnsupportedType):
		return "type"
	case errors.Is(err, storage.ErrEmptyFile):
		return "empty"
	}
	return "error"
}
