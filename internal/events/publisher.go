// Пакет events — публикация доменных событий аукционов в NATS.
//
// Два типа событий:
//   - auction.closed.<id> — аукцион закрыт (обязательный сигнал завершения)
//   - auction.bid.<id>    — ставка принята (best-effort уведомление)
//
// Доставка best-effort: потеря события не влияет на корректность
// status/winner — подписчики при необходимости перечитывают хранилище.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// ClosedEvent — событие закрытия аукциона.
type ClosedEvent struct {
	AuctionID string    `json:"auction_id"`
	Winner    *string   `json:"winner,omitempty"`
	FinalBid  float64   `json:"final_bid"`
	ClosedAt  time.Time `json:"closed_at"`
}

// BidEvent — событие принятой ставки.
type BidEvent struct {
	EventID     string    `json:"event_id"`
	AuctionID   string    `json:"auction_id"`
	BidderID    string    `json:"bidder_id"`
	Amount      float64   `json:"amount"`
	PreviousBid float64   `json:"previous_bid"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher — издатель доменных событий.
type Publisher interface {
	// AuctionClosed публикует событие закрытия аукциона.
	AuctionClosed(ctx context.Context, ev *ClosedEvent) error
	// BidAccepted публикует событие принятой ставки.
	BidAccepted(ctx context.Context, ev *BidEvent) error
	// Close освобождает ресурсы издателя.
	Close()
}

// NATSPublisher — издатель событий через NATS.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSPublisher подключается к NATS и создаёт издателя.
func NewNATSPublisher(url string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к NATS: %w", err)
	}

	return &NATSPublisher{
		conn:   conn,
		logger: logger.With(slog.String("component", "events")),
	}, nil
}

// AuctionClosed публикует событие в subject auction.closed.<id>.
func (p *NATSPublisher) AuctionClosed(_ context.Context, ev *ClosedEvent) error {
	return p.publish(fmt.Sprintf("auction.closed.%s", ev.AuctionID), ev)
}

// BidAccepted публикует событие в subject auction.bid.<id>.
func (p *NATSPublisher) BidAccepted(_ context.Context, ev *BidEvent) error {
	return p.publish(fmt.Sprintf("auction.bid.%s", ev.AuctionID), ev)
}

func (p *NATSPublisher) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("ошибка публикации в %s: %w", subject, err)
	}
	return nil
}

// Close закрывает подключение к NATS, дождавшись отправки буфера.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.logger.Warn("ошибка drain NATS-подключения",
			slog.String("error", err.Error()),
		)
	}
}

// NopPublisher — издатель-заглушка: события отброшены.
// Используется, когда NATS недоступен при старте.
type NopPublisher struct{}

func (NopPublisher) AuctionClosed(context.Context, *ClosedEvent) error { return nil }
func (NopPublisher) BidAccepted(context.Context, *BidEvent) error     { return nil }
func (NopPublisher) Close()                                           {}
