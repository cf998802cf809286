package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestReconnect_SucceedsAfterFailures(t *testing.T) {
	cfg := &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Millisecond,
	}

	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("still down")
		}
		return nil
	}, cfg, zerolog.Nop())

	if err != nil {
		t.Errorf("Expected success, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_ExhaustsAttempts(t *testing.T) {
	cfg := &ReconnectConfig{
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  10 * time.Millisecond,
	}

	attempts := 0
	err := Reconnect(context.Background(), func() error {
		attempts++
		return errors.New("still down")
	}, cfg, zerolog.Nop())

	if err == nil {
		t.Error("Expected error after exhausting attempts")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestReconnect_ContextCancellation(t *testing.T) {
	cfg := &ReconnectConfig{
		MaxAttempts: 10,
		Backoff:     50 * time.Millisecond,
		Multiplier:  1.0,
		MaxBackoff:  50 * time.Millisecond,
	}

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Reconnect(ctx, func() error {
			attempts++
			return errors.New("still down")
		}, cfg, zerolog.Nop())
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Reconnect did not return after cancellation")
	}

	if attempts >= 10 {
		t.Errorf("Expected cancellation to stop attempts early, got %d", attempts)
	}
}

func TestReconnect_NilConfigUsesDefaults(t *testing.T) {
	err := Reconnect(context.Background(), func() error { return nil }, nil, zerolog.Nop())
	if err != nil {
		t.Errorf("Expected success with default config, got %v", err)
	}
}
