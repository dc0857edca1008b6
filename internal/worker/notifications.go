// Package worker runs the background side of the storefront: it mails order
// notifications, fires delayed jobs and sweeps abandoned carts.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/joao-fontenele/giftshop/internal/domain"
	"github.com/joao-fontenele/giftshop/internal/email"
	"github.com/joao-fontenele/giftshop/internal/messaging"
	"github.com/joao-fontenele/giftshop/internal/telemetry"
)

const (
	audienceCustomer = "customer"
	audienceOps      = "ops"
)

type Mailer interface {
	Send(ctx context.Context, msg email.Message) error
}

type NotificationHandler struct {
	mailer    Mailer
	templates *template.Template
	opsEmail  string
	siteURL   string
	metrics   *telemetry.OrderMetrics
	logger    *slog.Logger
}

func NewNotificationHandler(mailer Mailer, settings domain.Settings, metrics *telemetry.OrderMetrics, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		mailer:    mailer,
		templates: parseTemplates(),
		opsEmail:  settings.OpsEmail,
		siteURL:   strings.TrimRight(settings.SiteURL, "/"),
		metrics:   metrics,
		logger:    logger,
	}
}

type mailData struct {
	domain.OrderEvent
	SiteURL string
}

// Handle mails everyone an event concerns. It returns nil even when delivery
// fails: a notification is logged and dropped rather than redelivered, since
// the order change it reports has already been committed.
func (h *NotificationHandler) Handle(ctx context.Context, msg messaging.Message) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		h.logger.Error("dropping malformed order event", "error", err, "key", msg.Key)
		h.metrics.Notification(ctx, msg.EventType, "malformed")
		return nil
	}

	data := mailData{OrderEvent: event, SiteURL: h.siteURL}
	h.deliver(ctx, audienceCustomer, event.CustomerEmail, data)
	h.deliver(ctx, audienceOps, h.opsEmail, data)
	return nil
}

func (h *NotificationHandler) deliver(ctx context.Context, audience, to string, data mailData) {
	eventType := string(data.Type)
	msg, ok, err := h.render(audience, data)
	if err != nil {
		h.logger.Error("failed to render notification", "error", err, "type", eventType, "audience", audience)
		h.metrics.Notification(ctx, eventType, "render_failed")
		return
	}
	if !ok {
		return
	}
	if to == "" {
		h.logger.Warn("notification without recipient", "type", eventType, "audience", audience, "order_number", data.OrderNumber)
		h.metrics.Notification(ctx, eventType, "no_recipient")
		return
	}
	msg.To = to

	if err := h.mailer.Send(ctx, msg); err != nil {
		h.logger.Error("failed to send notification", "error", err, "type", eventType, "audience", audience, "order_number", data.OrderNumber)
		h.metrics.Notification(ctx, eventType, "failed")
		return
	}

	h.logger.Info("notification sent", "type", eventType, "audience", audience, "order_number", data.OrderNumber)
	h.metrics.Notification(ctx, eventType, "sent")
}

// render reports ok=false when the event has no message for audience.
func (h *NotificationHandler) render(audience string, data mailData) (email.Message, bool, error) {
	prefix := string(data.Type) + "/" + audience
	subjectTmpl := h.templates.Lookup(prefix + "/subject")
	bodyTmpl := h.templates.Lookup(prefix + "/body")
	if subjectTmpl == nil || bodyTmpl == nil {
		return email.Message{}, false, nil
	}

	var subject, body bytes.Buffer
	if err := subjectTmpl.Execute(&subject, data); err != nil {
		return email.Message{}, false, fmt.Errorf("subject: %w", err)
	}
	if err := bodyTmpl.Execute(&body, data); err != nil {
		return email.Message{}, false, fmt.Errorf("body: %w", err)
	}

	return email.Message{
		Subject: strings.TrimSpace(subject.String()),
		Body:    strings.TrimLeft(body.String(), "\n"),
	}, true, nil
}
