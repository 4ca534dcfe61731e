// Package discovery turns MQTT device announcements and heartbeats into
// registry calls.
//
//	devicehub/announce/{type}   {"id":"mt5-01","name":"MT5 Live","config":{...}}
//	devicehub/heartbeat/{id}    {"status":"online","metadata":{"battery":87}}
//
// An announcement without a type takes it from the topic. A heartbeat
// without a status only marks the device as seen; it never changes the
// status, so it cannot reactivate a disabled device.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/devicehub-core/internal/device"
	"github.com/nerrad567/devicehub-core/internal/infrastructure/mqtt"
)

// DefaultHandleTimeout bounds the registry work done for one message.
const DefaultHandleTimeout = 10 * time.Second

// ErrInvalidMessage is returned for messages that cannot be applied.
var ErrInvalidMessage = errors.New("discovery: invalid message")

// Logger defines the logging interface used by the Service.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registrar is the registry surface discovery writes through.
type Registrar interface {
	RegisterDevice(ctx context.Context, in device.RegisterInput) (*device.Device, error)
	UpdateDeviceStatus(ctx context.Context, id string, status device.Status, patch map[string]any) (*device.Device, error)
	TouchDevice(ctx context.Context, id string, patch map[string]any) (*device.Device, error)
}

// Subscriber is the MQTT client surface discovery needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// Heartbeat is the payload of a heartbeat message.
type Heartbeat struct {
	Status   device.Status  `json:"status"`
	Metadata map[string]any `json:"metadata"`
}

// Service subscribes to announcement and heartbeat topics.
type Service struct {
	reg     Registrar
	sub     Subscriber
	qos     byte
	timeout time.Duration
	logger  Logger

	mu     sync.Mutex
	ctx    context.Context //nolint:containedctx // base context for MQTT callbacks, which carry none
	topics []string
}

// New creates a discovery service.
func New(reg Registrar, sub Subscriber, qos byte, logger Logger) *Service {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Service{
		reg:     reg,
		sub:     sub,
		qos:     qos,
		timeout: DefaultHandleTimeout,
		logger:  logger,
		ctx:     context.Background(),
	}
}

// Start subscribes to the announcement and heartbeat wildcards. ctx is the
// parent of every per-message context.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	topics := mqtt.Topics{}
	subs := []struct {
		topic   string
		handler mqtt.MessageHandler
	}{
		{topics.AllAnnouncements(), s.HandleAnnounce},
		{topics.AllHeartbeats(), s.HandleHeartbeat},
	}
	for _, sub := range subs {
		if err := s.sub.Subscribe(sub.topic, s.qos, sub.handler); err != nil {
			s.Stop()
			return fmt.Errorf("subscribing to %s: %w", sub.topic, err)
		}
		s.mu.Lock()
		s.topics = append(s.topics, sub.topic)
		s.mu.Unlock()
	}

	s.logger.Info("device discovery started", "topics", len(subs))
	return nil
}

// Stop removes the subscriptions made by Start.
func (s *Service) Stop() {
	s.mu.Lock()
	topics := s.topics
	s.topics = nil
	s.mu.Unlock()

	for _, t := range topics {
		if err := s.sub.Unsubscribe(t); err != nil {
			s.logger.Warn("unsubscribing failed", "topic", t, "error", err)
		}
	}
}

// HandleAnnounce registers the device described by an announcement.
func (s *Service) HandleAnnounce(topic string, payload []byte) error {
	topicType := device.Type(mqtt.LastSegment(topic))

	var in device.RegisterInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return fmt.Errorf("%w: announce on %s: %w", ErrInvalidMessage, topic, err)
	}
	switch {
	case in.Type == "":
		in.Type = topicType
	case in.Type != topicType:
		return fmt.Errorf("%w: announce on %s carries type %q", ErrInvalidMessage, topic, in.Type)
	}

	ctx, cancel := s.messageContext()
	defer cancel()

	d, err := s.reg.RegisterDevice(ctx, in)
	if err != nil && d == nil {
		return fmt.Errorf("registering announced device: %w", err)
	}
	if err != nil {
		s.logger.Warn("announced device registered without durability", "device_id", d.ID, "error", err)
	}
	s.logger.Debug("device announced", "device_id", d.ID, "type", d.Type)
	return nil
}

// HandleHeartbeat applies a heartbeat to a known device. A status in the
// payload goes through UpdateDeviceStatus; an empty payload or one without a
// status only refreshes last_seen and metadata.
func (s *Service) HandleHeartbeat(topic string, payload []byte) error {
	id := mqtt.LastSegment(topic)

	var hb Heartbeat
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &hb); err != nil {
			return fmt.Errorf("%w: heartbeat on %s: %w", ErrInvalidMessage, topic, err)
		}
	}

	ctx, cancel := s.messageContext()
	defer cancel()

	var (
		d   *device.Device
		err error
	)
	if hb.Status == "" {
		d, err = s.reg.TouchDevice(ctx, id, hb.Metadata)
	} else {
		d, err = s.reg.UpdateDeviceStatus(ctx, id, hb.Status, hb.Metadata)
	}
	if err != nil && d == nil {
		return fmt.Errorf("heartbeat for %s: %w", id, err)
	}
	if err != nil {
		s.logger.Warn("heartbeat applied without durability", "device_id", id, "error", err)
	}
	return nil
}

func (s *Service) messageContext() (context.Context, context.CancelFunc) {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	return context.WithTimeout(parent, s.timeout)
}
