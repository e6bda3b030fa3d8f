package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/common"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/events"
	"github.com/aryavtiwari2005/supplement-hub-sub000/internal/queue"
)

var orderTemplate = template.Must(template.New("order").Parse(`<!doctype html>
<html><body style="font-family:sans-serif">
<p>Hi {{if .Name}}{{.Name}}{{else}}there{{end}},</p>
<p>Thanks for shopping with {{.Store}}. Your order <strong>{{.OrderID}}</strong> is confirmed.</p>
<table>
<tr><td>Items</td><td>{{.Items}}</td></tr>
<tr><td>Total</td><td>&#8377;{{.Total}}</td></tr>
<tr><td>Payment</td><td>{{.Method}}</td></tr>
{{if .Points}}<tr><td>Scoop points earned</td><td>{{.Points}}</td></tr>{{end}}
</table>
{{if .Link}}<p><a href="{{.Link}}">Track your order</a></p>{{end}}
</body></html>`))

// Mailer renders and sends queued e-mail tasks.
type Mailer struct {
	Sender    common.EmailSender
	StoreName string
	// StoreBaseURL builds the order tracking link.
	StoreBaseURL string
	// Sent, when set, remembers delivered event ids so a redelivered task
	// does not mail twice.
	Sent    *redis.Client
	SentTTL time.Duration
	Logger  *zerolog.Logger
}

// Handle processes one queue task.
func (m Mailer) Handle(ctx context.Context, task queue.Task) error {
	if m.Sender == nil {
		return errors.New("notify: email sender not configured")
	}
	var env Envelope
	if err := json.Unmarshal(task.Payload, &env); err != nil {
		m.logger().Error().Err(err).Msg("drop undecodable email task")
		return nil
	}
	if env.Topic != events.TopicOrderPlaced {
		return nil
	}
	var placed events.OrderPlaced
	if err := json.Unmarshal(env.Payload, &placed); err != nil {
		m.logger().Error().Err(err).Str("event_id", env.EventID).Msg("drop undecodable order event")
		return nil
	}
	to := strings.TrimSpace(placed.Email)
	if to == "" {
		return nil
	}

	if m.Sent != nil && env.EventID != "" {
		n, err := m.Sent.Exists(ctx, m.sentKey(env.EventID)).Result()
		if err == nil && n > 0 {
			return nil
		}
	}

	subject, body, err := m.renderOrder(placed)
	if err != nil {
		return err
	}
	if err := m.Sender.Send(ctx, to, subject, body); err != nil {
		return errors.Wrap(err, "send order email")
	}
	if m.Sent != nil && env.EventID != "" {
		ttl := m.SentTTL
		if ttl <= 0 {
			ttl = 7 * 24 * time.Hour
		}
		_ = m.Sent.Set(ctx, m.sentKey(env.EventID), "1", ttl).Err()
	}
	m.logger().Info().Str("event_id", env.EventID).Str("order_id", placed.OrderID).Msg("order email sent")
	return nil
}

func (m Mailer) renderOrder(p events.OrderPlaced) (string, string, error) {
	store := m.StoreName
	if store == "" {
		store = "Supplement Hub"
	}
	var link string
	if m.StoreBaseURL != "" {
		link = strings.TrimRight(m.StoreBaseURL, "/") + "/orders/" + p.OrderID
	}
	var buf bytes.Buffer
	err := orderTemplate.Execute(&buf, map[string]any{
		"Name":    p.Name,
		"Store":   store,
		"OrderID": p.OrderID,
		"Items":   p.Items,
		"Total":   p.Total,
		"Method":  strings.ToUpper(p.PaymentMethod),
		"Points":  p.ScoopPointsEarned,
		"Link":    link,
	})
	if err != nil {
		return "", "", errors.Wrap(err, "render order email")
	}
	return fmt.Sprintf("%s order %s confirmed", store, p.OrderID), buf.String(), nil
}

func (m Mailer) sentKey(eventID string) string {
	return "mail:sent:" + eventID
}

func (m Mailer) logger() *zerolog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	nop := zerolog.Nop()
	return &nop
}
