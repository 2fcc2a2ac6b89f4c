// Package bus mirrors room broadcasts across hub instances over Redis
// pub/sub. When disabled the hub runs in single-instance mode and every call
// here is a no-op; delivery stays best-effort either way.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/huddlekit/signaling/internal/v1/logging"
	"github.com/huddlekit/signaling/internal/v1/metrics"
)

// Payload is the envelope moved between instances. SenderConnID suppresses
// echo of the originating connection; InstanceID suppresses loopback, since
// Redis delivers a published message back to the publisher's own
// subscription and the publishing instance already delivered locally.
type Payload struct {
	RoomCode     string          `json:"roomCode"`
	Event        string          `json:"event"`
	Data         json.RawMessage `json:"data"`
	SenderConnID string          `json:"senderConnId"`
	InstanceID   string          `json:"instanceId"`
}

// Service handles all interaction with the Redis cluster.
type Service struct {
	client     *redis.Client
	cb         *gobreaker.CircuitBreaker
	instanceID string
}

// Client returns the underlying Redis client.
func (s *Service) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.client
}

// NewService creates a Redis connection and verifies it with a ping.
func NewService(addr, password string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	logging.Info(context.Background(), "Connected to Redis pub/sub", zap.String("addr", addr))
	return &Service{
		client:     rdb,
		cb:         gobreaker.NewCircuitBreaker(st),
		instanceID: uuid.New().String(),
	}, nil
}

func channelFor(roomCode string) string {
	return "signal:room:" + roomCode
}

// Publish mirrors a broadcast frame to all other instances serving this room.
func (s *Service) Publish(ctx context.Context, roomCode, event string, data []byte, senderConnID string) error {
	if s == nil || s.client == nil {
		return nil // single-instance mode
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		msg := Payload{
			RoomCode:     roomCode,
			Event:        event,
			Data:         data,
			SenderConnID: senderConnID,
			InstanceID:   s.instanceID,
		}

		raw, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pubsub envelope: %w", err)
		}

		return nil, s.client.Publish(ctx, channelFor(roomCode), raw).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			logging.Warn(ctx, "Redis circuit breaker open: dropping publish", zap.String("roomCode", roomCode))
			return nil // graceful degradation: drop, don't crash the caller
		}
		logging.Error(ctx, "Redis publish failed", zap.String("roomCode", roomCode), zap.Error(err))
		return err
	}

	return nil
}

// Subscribe starts a background goroutine that invokes handler for every
// valid message other instances publish for this room. It runs until the
// context is cancelled.
func (s *Service) Subscribe(ctx context.Context, roomCode string, handler func(Payload)) {
	if s == nil || s.client == nil {
		return // single-instance mode
	}

	channel := channelFor(roomCode)
	pubsub := s.client.Subscribe(ctx, channel)

	go func() {
		defer pubsub.Close()

		logging.Info(ctx, "Subscribed to Redis channel", zap.String("channel", channel))

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					logging.Warn(ctx, "Redis subscription channel closed", zap.String("channel", channel))
					return
				}

				var payload Payload
				if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
					logging.Error(ctx, "Failed to unmarshal Redis message", zap.Error(err))
					continue
				}

				// Redis loops our own publishes back to us; local delivery
				// already happened before the publish.
				if payload.InstanceID == s.instanceID {
					continue
				}

				handler(payload)
			}
		}
	}()
}

// Ping checks Redis connectivity. Used by the health surface.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}

	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.client.Ping(ctx).Err()
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
		}
		return err
	}
	return nil
}

// Close gracefully shuts down the Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
