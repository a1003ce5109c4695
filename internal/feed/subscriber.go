// Package feed subscribes to the upstream event stream
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/r3labs/sse/v2"

	"github.com/navikt/breakouts/internal/config"
	"github.com/navikt/breakouts/internal/logging"
	"github.com/navikt/breakouts/internal/models"
	"github.com/navikt/breakouts/internal/utils"
)

// EventApplier applies feed events to local state
type EventApplier interface {
	ApplyEvent(ctx context.Context, event *models.FeedEvent) error
}

// Subscriber consumes feed events from an upstream SSE stream
type Subscriber struct {
	client  *sse.Client
	stream  string
	applier EventApplier
}

// NewSubscriber creates a subscriber for the configured stream.
// token, if set, is sent as a bearer token.
func NewSubscriber(cfg config.FeedConfig, token string, applier EventApplier) *Subscriber {
	client := sse.NewClient(cfg.SSEURL)
	if token != "" {
		client.Headers["Authorization"] = "Bearer " + token
	}

	logger := logging.Module("feed")
	client.OnConnect(func(c *sse.Client) {
		logger.Info().Str("url", utils.RedactURL(c.URL)).Msg("Connected to upstream feed")
	})
	client.OnDisconnect(func(c *sse.Client) {
		logger.Warn().Str("url", utils.RedactURL(c.URL)).Msg("Disconnected from upstream feed")
	})

	return &Subscriber{
		client:  client,
		stream:  cfg.SSEStream,
		applier: applier,
	}
}

// Run consumes the stream until ctx is cancelled, reconnecting with backoff
func (s *Subscriber) Run(ctx context.Context) error {
	err := s.client.SubscribeWithContext(ctx, s.stream, func(msg *sse.Event) {
		s.handle(ctx, msg)
	})
	if err != nil && ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("feed subscription ended: %w", err)
	}
	return nil
}

func (s *Subscriber) handle(ctx context.Context, msg *sse.Event) {
	logger := logging.Module("feed")

	event, err := decodeEvent(msg)
	if err != nil {
		logger.Warn().Err(err).Str("id", utils.SanitizeLogString(string(msg.ID))).Msg("Dropping malformed feed event")
		return
	}
	if event == nil {
		return
	}

	if err := s.applier.ApplyEvent(ctx, event); err != nil {
		logger.Warn().Err(err).
			Str("event", utils.SanitizeLogString(event.Event)).
			Msg("Failed to apply feed event")
	}
}

// decodeEvent parses an SSE message. Messages without data are keep-alives
// and decode to nil. The SSE event name is used when the body has none.
func decodeEvent(msg *sse.Event) (*models.FeedEvent, error) {
	data := bytes.TrimSpace(msg.Data)
	if len(data) == 0 {
		return nil, nil
	}

	var event models.FeedEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, fmt.Errorf("failed to parse feed event: %w", err)
	}
	if event.Event == "" {
		event.Event = string(msg.Event)
	}
	if event.Event == "" {
		return nil, errors.New("feed event without type")
	}
	return &event, nil
}
