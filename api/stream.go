package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"roadmap-api/domain"
)

// UpdateBroker fans roadmap snapshots out to connected SSE clients, keyed by
// user. Slow clients are skipped rather than blocking the broadcast.
type UpdateBroker struct {
	mu          sync.Mutex
	subscribers map[string]map[chan []byte]struct{}
}

func NewUpdateBroker() *UpdateBroker {
	return &UpdateBroker{subscribers: make(map[string]map[chan []byte]struct{})}
}

func (b *UpdateBroker) Subscribe(userID string) chan []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan []byte, 10)
	if b.subscribers[userID] == nil {
		b.subscribers[userID] = make(map[chan []byte]struct{})
	}
	b.subscribers[userID][ch] = struct{}{}
	return ch
}

func (b *UpdateBroker) Unsubscribe(userID string, ch chan []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[userID]; ok {
		delete(subs, ch)
		if len(subs) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *UpdateBroker) Broadcast(userID string, data []byte) {
	b.mu.Lock()
	subs := b.subscribers[userID]
	b.mu.Unlock()
	for ch := range subs {
		select {
		case ch <- data:
		default:
		}
	}
}

type updateNotice struct {
	UserID       string `json:"UserId"`
	EnrollmentID string `json:"EnrollmentId"`
}

// SubscribeRoadmapUpdates consumes read model update notices published by
// the updater, re-reads the affected roadmap, and broadcasts the fresh
// snapshot with its progress summary. The subscription reconnects on channel
// loss until the context is cancelled.
func SubscribeRoadmapUpdates(ctx context.Context, logger *log.Logger, rc *redis.Client, store Storage, channel string, broker *UpdateBroker) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	receive:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break receive
				}
				var notice updateNotice
				if err := sonic.ConfigStd.UnmarshalFromString(msg.Payload, &notice); err != nil {
					logger.WithError(err).Error("unable to parse roadmap update notice")
					continue
				}
				if notice.UserID == "" || notice.EnrollmentID == "" {
					continue
				}
				roadmap, err := store.FetchRoadmap(ctx, notice.UserID, notice.EnrollmentID)
				if err != nil {
					logger.WithError(err).Errorf("fetch roadmap for stream, user=%s", notice.UserID)
					continue
				}
				data, err := sonic.ConfigStd.Marshal(roadmapResponse{
					Roadmap:  roadmap,
					Progress: domain.Summarize(roadmap, time.Now()),
				})
				if err != nil {
					logger.WithError(err).Error("marshal roadmap snapshot")
					continue
				}
				broker.Broadcast(notice.UserID, data)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Error("roadmap updates pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}

// RegisterStream wires the SSE endpoint. Browsers cannot set headers on
// EventSource requests, so the bearer token may also arrive as a query
// parameter.
func RegisterStream(e *echo.Echo, auth Authenticator, broker *UpdateBroker) {
	e.GET("/api/roadmaps/stream", streamRoadmaps(auth, broker))
}

func streamRoadmaps(auth Authenticator, broker *UpdateBroker) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get(echo.HeaderAuthorization)
		if header == "" {
			if token := c.QueryParam("token"); token != "" {
				header = "Bearer " + token
			}
		}
		userID, err := auth.UserIDFromAuthHeader(header)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().WriteHeader(http.StatusOK)
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		// Initial comment flushes headers to the client.
		if _, err := c.Response().Write([]byte(":ok\n\n")); err != nil {
			return nil
		}
		flusher.Flush()

		ch := broker.Subscribe(userID)
		defer broker.Unsubscribe(userID, ch)
		ctx := c.Request().Context()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case data := <-ch:
				if _, err := c.Response().Write([]byte("data: ")); err != nil {
					return nil
				}
				if _, err := c.Response().Write(data); err != nil {
					return nil
				}
				if _, err := c.Response().Write([]byte("\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ticker.C:
				if _, err := c.Response().Write([]byte(":keepalive\n\n")); err != nil {
					return nil
				}
				flusher.Flush()
			case <-ctx.Done():
				return nil
			}
		}
	}
}
