package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type EventType string

const (
	EventTypeTrackSelected     EventType = "track_selected"
	EventTypeVoteCast          EventType = "vote_cast"
	EventTypeRoundAdvanced     EventType = "round_advanced"
	EventTypeParticipantJoined EventType = "participant_joined"
	EventTypePlaybackStarted   EventType = "playback_started"
	EventTypePlaybackPaused    EventType = "playback_paused"
)

type Event struct {
	Type      EventType       `json:"type"`
	RoomCode  string          `json:"room_code"`
	UserID    string          `json:"user_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Publisher emits room lifecycle events to Kafka. A nil Publisher is valid
// and drops every event, so brokerless deployments need no branching at
// call sites.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}

	return &Publisher{writer: writer}
}

func (p *Publisher) Publish(ctx context.Context, typ EventType, roomCode, userID string, payload interface{}) error {
	if p == nil {
		return nil
	}

	event := Event{
		Type:      typ,
		RoomCode:  roomCode,
		UserID:    userID,
		Timestamp: time.Now(),
	}

	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		event.Payload = raw
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(uuid.New().String()),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// Event payload types

type TrackSelectedPayload struct {
	TrackURI  string `json:"track_uri"`
	TrackName string `json:"track_name"`
	Artists   string `json:"artists"`
	ChosenBy  string `json:"chosen_by,omitempty"`
}

type VoteCastPayload struct {
	TrackURI string `json:"track_uri"`
	IsLike   bool   `json:"is_like"`
	Likes    int    `json:"likes"`
}

type PlaybackPayload struct {
	TrackURI string `json:"track_uri"`
	DeviceID string `json:"device_id"`
}
