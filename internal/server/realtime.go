package server

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lumehq/lume/internal/calendarsync"
)

const (
	RealtimeEventSessionSync = "session-sync"
	realtimeEventHeartbeat   = "heartbeat"
	realtimeSourceBackend    = "lume-api"
	realtimeHeartbeatPeriod  = 25 * time.Second
)

type RealtimeMessage struct {
	PractitionerID string
	EventType      string
	Outcome        calendarsync.SyncOutcome
	Timestamp      time.Time
}

type sessionSyncEvent struct {
	SessionID  string `json:"sessionId"`
	SyncStatus string `json:"syncStatus"`
	SyncError  string `json:"syncError,omitempty"`
	EventID    string `json:"eventId,omitempty"`
	Timestamp  string `json:"timestamp"`
	Source     string `json:"source"`
}

type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, practitionerID string) (<-chan RealtimeMessage, func()) {
	if practitionerID == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(practitionerID, subscriber)
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			d.unregisterSubscriber(practitionerID, subscriber.id)
		})
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers the message to every subscriber of the practitioner. Slow subscribers
// miss messages rather than block the publisher.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.PractitionerID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.PractitionerID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*realtimeSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// PublishSyncOutcome forwards a finished session sync to the practitioner's streams.
func (d *RealtimeDispatcher) PublishSyncOutcome(practitionerID string, outcome calendarsync.SyncOutcome) {
	timestamp := outcome.At
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}
	d.Publish(RealtimeMessage{
		PractitionerID: practitionerID,
		EventType:      RealtimeEventSessionSync,
		Outcome:        outcome,
		Timestamp:      timestamp,
	})
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(practitionerID string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[practitionerID]; !ok {
		d.subscribers[practitionerID] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[practitionerID][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(practitionerID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[practitionerID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, practitionerID)
		}
	}
	d.mu.Unlock()
}

func (h *httpHandler) handleSessionStream(c *gin.Context) {
	practitioner := practitionerID(c)
	stream, cleanup := h.realtime.Subscribe(c.Request.Context(), practitioner)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatPeriod)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, toSessionSyncEvent(message))
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC().Format(time.RFC3339), "source": realtimeSourceBackend})
			return true
		}
	})
}

func toSessionSyncEvent(message RealtimeMessage) sessionSyncEvent {
	return sessionSyncEvent{
		SessionID:  message.Outcome.SessionID,
		SyncStatus: string(message.Outcome.Status),
		SyncError:  message.Outcome.Error,
		EventID:    message.Outcome.EventID,
		Timestamp:  message.Timestamp.UTC().Format(time.RFC3339),
		Source:     realtimeSourceBackend,
	}
}
