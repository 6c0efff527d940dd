package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/repliahq/replia/internal/normalize"
	"github.com/repliahq/replia/internal/pipeline"
	"github.com/repliahq/replia/internal/queue"
)

// WebhookHandler exposes the two inbound surfaces: the synchronous
// webhook that returns the reply in the response body, and the async
// channel endpoint that enqueues a job and acknowledges immediately.
type WebhookHandler struct {
	processor  *pipeline.Processor
	dispatcher *queue.Dispatcher
	logger     *slog.Logger
}

type webhookPayload struct {
	Text           string `json:"text" validate:"required"`
	ExternalUserID string `json:"external_user_id" validate:"required"`
}

type webhookResponse struct {
	Response string `json:"response"`
}

type inboundPayload struct {
	ID       string         `json:"id"`
	From     string         `json:"from" validate:"required"`
	Type     string         `json:"type"`
	Content  string         `json:"content" validate:"required"`
	Filename string         `json:"filename,omitempty"`
	MimeType string         `json:"mime_type,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func NewWebhookHandler(log *slog.Logger, processor *pipeline.Processor, dispatcher *queue.Dispatcher) *WebhookHandler {
	return &WebhookHandler{
		processor:  processor,
		dispatcher: dispatcher,
		logger:     log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/:business_id", h.Webhook)
	e.POST("/channel/:business_id/inbound", h.Inbound)
}

// Webhook processes a text message synchronously. The response is
// always 200 with a reply body; internal failures surface to the end
// user only as the standard apology.
func (h *WebhookHandler) Webhook(c echo.Context) error {
	businessID, err := requireBusinessID(c)
	if err != nil {
		return err
	}
	var payload webhookPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msg := normalize.InboundMessage{
		ID:      uuid.NewString(),
		From:    payload.ExternalUserID,
		Type:    normalize.TypeText,
		Content: payload.Text,
	}
	reply := h.processor.Respond(c.Request().Context(), businessID, msg)
	return c.JSON(http.StatusOK, webhookResponse{Response: reply})
}

// Inbound accepts a channel message of any modality and queues it for
// asynchronous processing.
func (h *WebhookHandler) Inbound(c echo.Context) error {
	businessID, err := requireBusinessID(c)
	if err != nil {
		return err
	}
	var payload inboundPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	msgType, err := parseMessageType(payload.Type)
	if err != nil {
		return err
	}
	msg := normalize.InboundMessage{
		ID:       payload.ID,
		From:     payload.From,
		Type:     msgType,
		Content:  payload.Content,
		Filename: payload.Filename,
		MimeType: payload.MimeType,
		Metadata: payload.Metadata,
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if err := h.dispatcher.Dispatch(c.Request().Context(), businessID, msg); err != nil {
		h.logger.Error("dispatch inbound",
			slog.String("business_id", businessID),
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "could not accept message")
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"status":     "accepted",
		"message_id": msg.ID,
	})
}

func requireBusinessID(c echo.Context) (string, error) {
	businessID := strings.TrimSpace(c.Param("business_id"))
	if businessID == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "business_id is required")
	}
	return businessID, nil
}

func parseMessageType(raw string) (normalize.MessageType, error) {
	switch normalize.MessageType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", normalize.TypeText:
		return normalize.TypeText, nil
	case normalize.TypeAudio:
		return normalize.TypeAudio, nil
	case normalize.TypeImage:
		return normalize.TypeImage, nil
	case normalize.TypeDocument:
		return normalize.TypeDocument, nil
	default:
		return "", echo.NewHTTPError(http.StatusBadRequest, "unsupported message type: "+raw)
	}
}
