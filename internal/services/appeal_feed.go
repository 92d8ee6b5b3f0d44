package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// AppealChannel carries appeal events between instances.
const AppealChannel = "abuse:appeals"

// AppealEvent is the payload published over Redis and pushed to reviewer sockets.
type AppealEvent struct {
	Type      string    `json:"type"`
	AppealID  string    `json:"appeal_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Points    int       `json:"points"`
	Timestamp time.Time `json:"timestamp"`
}

// AppealPublisher announces new appeals on AppealChannel.
type AppealPublisher struct {
	rdb redis.Cmdable
}

func NewAppealPublisher(rdb redis.Cmdable) *AppealPublisher {
	return &AppealPublisher{rdb: rdb}
}

func (p *AppealPublisher) AppealSubmitted(ctx context.Context, appeal *models.AbuseAppeal) error {
	return p.Publish(ctx, AppealEvent{
		Type:      "appeal_submitted",
		AppealID:  appeal.ID.String(),
		UserID:    appeal.UserID.String(),
		Status:    string(appeal.Status),
		Points:    appeal.Snapshot.Points,
		Timestamp: appeal.CreatedAt,
	})
}

// AppealReviewed publishes a reviewer decision so other dashboards refresh.
func (p *AppealPublisher) AppealReviewed(ctx context.Context, appeal *models.AbuseAppeal) error {
	event := AppealEvent{
		Type:     "appeal_reviewed",
		AppealID: appeal.ID.String(),
		UserID:   appeal.UserID.String(),
		Status:   string(appeal.Status),
		Points:   appeal.Snapshot.Points,
	}
	if appeal.ReviewedAt != nil {
		event.Timestamp = *appeal.ReviewedAt
	}
	return p.Publish(ctx, event)
}

func (p *AppealPublisher) Publish(ctx context.Context, event AppealEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return &abuse.NotificationError{Sink: "redis", Err: err}
	}
	if err := p.rdb.Publish(ctx, AppealChannel, data).Err(); err != nil {
		return &abuse.NotificationError{Sink: "redis", Err: err}
	}
	return nil
}

// FeedConn is the part of a WebSocket connection the hub writes to.
type FeedConn interface {
	WriteJSON(v interface{}) error
	Close() error
}

type feedClient struct {
	conn FeedConn
	mu   sync.Mutex
}

func (c *feedClient) write(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// AppealHub fans appeal events out to the reviewer sockets connected to this
// instance.
type AppealHub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*feedClient
	started sync.Once
}

func NewAppealHub() *AppealHub {
	return &AppealHub{clients: make(map[uuid.UUID]*feedClient)}
}

// Register adds a connection and returns its id for Unregister.
func (h *AppealHub) Register(conn FeedConn) uuid.UUID {
	id := uuid.New()
	h.mu.Lock()
	h.clients[id] = &feedClient{conn: conn}
	h.mu.Unlock()
	return id
}

func (h *AppealHub) Unregister(id uuid.UUID) {
	h.mu.Lock()
	delete(h.clients, id)
	h.mu.Unlock()
}

// Len is the number of connected reviewers.
func (h *AppealHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast writes event to every connection. Connections that fail are dropped.
func (h *AppealHub) Broadcast(event AppealEvent) {
	h.mu.RLock()
	clients := make(map[uuid.UUID]*feedClient, len(h.clients))
	for id, c := range h.clients {
		clients[id] = c
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	for id, c := range clients {
		wg.Add(1)
		go func(id uuid.UUID, c *feedClient) {
			defer wg.Done()
			if err := c.write(event); err != nil {
				logrus.WithError(err).Debug("Dropping appeal feed connection")
				h.Unregister(id)
				_ = c.conn.Close()
			}
		}(id, c)
	}
	wg.Wait()
}

// Start runs one shared Redis subscriber for this hub until ctx is done.
func (h *AppealHub) Start(ctx context.Context, client *redis.Client) {
	h.started.Do(func() {
		if client == nil {
			logrus.Warn("Redis client not initialized; appeal feed subscriber not started")
			return
		}
		go h.run(ctx, client)
	})
}

func (h *AppealHub) run(ctx context.Context, client *redis.Client) {
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		func() {
			pubsub := client.Subscribe(ctx, AppealChannel)
			defer pubsub.Close()

			logrus.Infof("✅ Appeal feed subscriber started (channel: %s)", AppealChannel)

			for {
				msg, err := pubsub.ReceiveMessage(ctx)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logrus.WithError(err).Warn("Appeal feed subscriber error")
					time.Sleep(backoff)
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
					return
				}

				backoff = time.Second

				var event AppealEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					logrus.WithError(err).Warn("Failed to decode appeal event")
					continue
				}
				h.Broadcast(event)
			}
		}()
	}
}
