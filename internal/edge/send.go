package edge

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/auth"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/processor"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/registry"
	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/store"
)

type sendMessageRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
	Type    string `json:"type"`
	TempID  string `json:"temp_id"`
	ReplyTo string `json:"reply_to"`
}

// handleSendMessage implements POST /send-message: text send via the
// optimistic outbound pipeline (spec.md §6).
func (s *Server) handleSendMessage(c *fiber.Ctx) error {
	var req sendMessageRequest
	if err := c.BodyParser(&req); err != nil || req.UserID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "user_id and message are required", "status": "failed"})
	}
	if !s.reg.Consume(auth.Username(c), registry.KindText) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
	}
	kind := store.KindText
	if req.Type != "" {
		kind = store.Kind(req.Type)
	}
	msg, err := s.proc.ProcessOutgoing(c.Context(), processor.OutgoingRequest{
		UserID:  req.UserID,
		Kind:    kind,
		Body:    req.Message,
		TempID:  req.TempID,
		ReplyTo: req.ReplyTo,
	})
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
	}
	messagesOutboundTotal.WithLabelValues(string(kind)).Inc()
	return c.JSON(msg)
}

// saveMultipartFile persists an uploaded file under a temp path the
// Message Processor's background dispatch will clean up after send.
func saveMultipartFile(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	path := filepath.Join(os.TempDir(), fmt.Sprintf("wa-upload-%s%s", uuid.NewString(), filepath.Ext(fh.Filename)))
	dst, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func mediaKindFromType(mediaType string) store.Kind {
	switch strings.ToLower(mediaType) {
	case "video":
		return store.KindVideo
	case "audio":
		return store.KindAudio
	case "document":
		return store.KindDocument
	default:
		return store.KindImage
	}
}

// handleSendMedia implements POST /send-media: synchronous multipart
// media send -- the HTTP response waits for the optimistic record
// (local file save + pipeline hand-off), same as /send-message,
// whereas the upstream round-trip itself always happens in the
// Processor's own background dispatch goroutine (spec.md §4.5/§5).
func (s *Server) handleSendMedia(c *fiber.Ctx) error {
	msg, status, err := s.processSendMedia(c)
	if err != nil {
		return c.Status(status).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
	}
	return c.JSON(msg)
}

// handleSendMediaAsync implements POST /send-media-async: same pipeline,
// but the multipart file is saved before the 202 response (files[] are
// only readable while the request is live) and the outbound pipeline
// call itself runs in a detached goroutine.
func (s *Server) handleSendMediaAsync(c *fiber.Ctx) error {
	req, files, status, err := parseSendMediaRequest(c)
	if err != nil {
		return c.Status(status).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
	}
	paths := make([]string, 0, len(files))
	for _, fh := range files {
		p, err := saveMultipartFile(fh)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "status": "failed"})
		}
		paths = append(paths, p)
	}
	if !s.reg.Consume(auth.Username(c), registry.KindMedia) {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
	}
	go func() {
		for _, p := range paths {
			s.dispatchSavedMedia(req, p)
		}
	}()
	return c.SendStatus(fiber.StatusAccepted)
}

type sendMediaForm struct {
	UserID    string
	MediaType string
	Caption   string
	Price     string
}

func parseSendMediaRequest(c *fiber.Ctx) (sendMediaForm, []*multipart.FileHeader, int, error) {
	req := sendMediaForm{
		UserID:    c.FormValue("user_id"),
		MediaType: c.FormValue("media_type"),
		Caption:   c.FormValue("caption"),
		Price:     c.FormValue("price"),
	}
	if req.UserID == "" {
		return req, nil, fiber.StatusBadRequest, fmt.Errorf("user_id is required")
	}
	form, err := c.MultipartForm()
	if err != nil {
		return req, nil, fiber.StatusBadRequest, fmt.Errorf("multipart form required: %w", err)
	}
	files := form.File["files"]
	if len(files) == 0 {
		return req, nil, fiber.StatusBadRequest, fmt.Errorf("at least one file is required")
	}
	return req, files, 0, nil
}

func (s *Server) processSendMedia(c *fiber.Ctx) (*store.Message, int, error) {
	req, files, status, err := parseSendMediaRequest(c)
	if err != nil {
		return nil, status, err
	}
	if !s.reg.Consume(auth.Username(c), registry.KindMedia) {
		return nil, fiber.StatusTooManyRequests, fmt.Errorf("rate_limited")
	}
	var last *store.Message
	for _, fh := range files {
		path, err := saveMultipartFile(fh)
		if err != nil {
			return nil, fiber.StatusBadRequest, err
		}
		msg, err := s.proc.ProcessOutgoing(c.Context(), processor.OutgoingRequest{
			UserID:         req.UserID,
			Kind:           mediaKindFromType(req.MediaType),
			Caption:        req.Caption,
			Price:          req.Price,
			MediaLocalPath: path,
		})
		if err != nil {
			return nil, fiber.StatusBadRequest, err
		}
		messagesOutboundTotal.WithLabelValues(string(mediaKindFromType(req.MediaType))).Inc()
		last = msg
	}
	return last, 0, nil
}

func (s *Server) dispatchSavedMedia(req sendMediaForm, path string) {
	ctx := context.Background()
	_, err := s.proc.ProcessOutgoing(ctx, processor.OutgoingRequest{
		UserID:         req.UserID,
		Kind:           mediaKindFromType(req.MediaType),
		Caption:        req.Caption,
		Price:          req.Price,
		MediaLocalPath: path,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("user_id", req.UserID).Msg("async media send failed")
		return
	}
	messagesOutboundTotal.WithLabelValues(string(mediaKindFromType(req.MediaType))).Inc()
}
