package bus

import (
	"encoding/json"
	"log/slog"

	"github.com/loqalabs/reed/internal/playback"
	"github.com/loqalabs/reed/internal/protocol"
)

// Publisher broadcasts playback status updates. It only publishes; nothing on
// the bus can control playback.
type Publisher struct {
	client  *Client
	subject string
}

func NewPublisher(client *Client, subject string) *Publisher {
	if subject == "" {
		subject = protocol.SubjectPlaybackStatus
	}
	return &Publisher{client: client, subject: subject}
}

func (p *Publisher) Emit(status playback.Status) {
	if p == nil || !p.client.Ready() {
		return
	}
	msg := protocol.PlaybackStatus{
		SessionID: status.SessionID,
		Kind:      string(status.Kind),
		Message:   status.Message,
		Timestamp: status.Time.UTC(),
	}
	if status.Kind == playback.KindGenerating {
		msg.Text = status.Text
	}
	if status.Err != nil {
		msg.Error = status.Err.Error()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		p.client.log.Warn("failed to encode playback status", slog.String("error", err.Error()))
		return
	}
	subject := protocol.StatusSubject(p.subject, msg.Kind)
	if err := p.client.conn.Publish(subject, data); err != nil {
		p.client.log.Warn("failed to publish playback status",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
