// Package pgfeed turns Postgres NOTIFY events from the messages trigger into
// bus events, so rows written by the bot directly into the database reach
// realtime subscribers.
package pgfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/matheus3301/wppadmin/internal/bus"
	"github.com/matheus3301/wppadmin/internal/model"
	"go.uber.org/zap"
)

// Channel is the NOTIFY channel written by the messages_inserted_notify trigger.
const Channel = "messages_inserted"

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// Loader reads a full message row. The notification only names it.
type Loader interface {
	GetMessage(ctx context.Context, id string) (*model.Message, error)
}

// Feed listens on Channel and republishes every row as bus.KindMessageInserted.
type Feed struct {
	cfg    *pgx.ConnConfig
	rows   Loader
	bus    bus.Publisher
	logger *zap.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func New(cfg *pgx.ConnConfig, rows Loader, b bus.Publisher, logger *zap.Logger) *Feed {
	return &Feed{cfg: cfg, rows: rows, bus: b, logger: logger.Named("pgfeed")}
}

// Start runs the listen loop until Stop. Connection loss is retried with
// exponential backoff.
func (f *Feed) Start(ctx context.Context) {
	ctx, f.cancel = context.WithCancel(ctx)
	f.done = make(chan struct{})
	go func() {
		defer close(f.done)
		backoff := minBackoff
		for {
			err := f.listen(ctx, func() { backoff = minBackoff })
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("listen connection lost", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, maxBackoff)
		}
	}()
}

// Stop cancels the loop and waits for it to exit.
func (f *Feed) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
}

func (f *Feed) listen(ctx context.Context, connected func()) error {
	conn, err := pgx.ConnectConfig(ctx, f.cfg)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	connected()
	f.logger.Info("listening for message inserts", zap.String("channel", Channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		f.handle(ctx, n.Payload)
	}
}

// handle loads the notified row and publishes it. Rows that vanished
// before the read (deleted contact) are skipped.
func (f *Feed) handle(ctx context.Context, payload string) {
	n, err := Decode(payload)
	if err != nil {
		f.logger.Warn("bad notification payload", zap.Error(err))
		return
	}
	msg, err := f.rows.GetMessage(ctx, n.ID)
	if err != nil {
		f.logger.Warn("load notified message", zap.String("message_id", n.ID), zap.Error(err))
		return
	}
	f.bus.Publish(bus.Event{Kind: bus.KindMessageInserted, Timestamp: time.Now(), Payload: *msg})
}

// Notice is the trigger payload: the keys of the inserted row.
type Notice struct {
	ID        string `json:"id"`
	ContactID string `json:"contact_id"`
}

func Decode(payload string) (*Notice, error) {
	var n Notice
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if n.ID == "" || n.ContactID == "" {
		return nil, fmt.Errorf("notification without id or contact_id")
	}
	return &n, nil
}
