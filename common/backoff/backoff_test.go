// common/backoff/backoff_test.go
package backoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/davidshare/ObservaShop/common/backoff"
	"github.com/davidshare/ObservaShop/common/logger"
)

func TestExecute_SuccessFirstAttempt(t *testing.T) {
	cfg := backoff.Config{MaxElapsedTime: time.Second}
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	called := 0
	err := backoff.Execute(context.Background(), cfg, log, func(ctx context.Context) error {
		called++
		return nil
	})
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if called != 1 {
		t.Errorf("expected 1 attempt, got %d", called)
	}
}

func TestExecute_EventualSuccess(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 10 * time.Millisecond, Multiplier: 1, MaxElapsedTime: 100 * time.Millisecond}
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	attemptsBeforeSuccess := 3
	called := 0
	err := backoff.Execute(context.Background(), cfg, log, func(ctx context.Context) error {
		called++
		if called < attemptsBeforeSuccess {
			return errors.New("fail")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if called != attemptsBeforeSuccess {
		t.Errorf("expected %d attempts, got %d", attemptsBeforeSuccess, called)
	}
}

func TestExecute_MaxRetriesExceeded(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 10 * time.Millisecond, Multiplier: 1, MaxElapsedTime: 50 * time.Millisecond}
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	called := 0
	err := backoff.Execute(context.Background(), cfg, log, func(ctx context.Context) error {
		called++
		return errors.New("always fail")
	})
	var maxErr *backoff.ErrMaxRetries
	if !errors.As(err, &maxErr) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	if maxErr.Attempts != called {
		t.Errorf("attempts mismatch: ErrMaxRetries.Attempts=%d, actual=%d", maxErr.Attempts, called)
	}
}

func TestExecute_PermanentErrorStopsRetries(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 10 * time.Millisecond, MaxElapsedTime: time.Second}
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	called := 0
	err := backoff.Execute(context.Background(), cfg, log, func(ctx context.Context) error {
		called++
		return backoff.Permanent(errors.New("bad credentials"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if called != 1 {
		t.Errorf("permanent error must not be retried, got %d attempts", called)
	}
}

func TestExecute_ContextCancel(t *testing.T) {
	cfg := backoff.Config{InitialInterval: 10 * time.Millisecond, Multiplier: 1}
	log, _ := logger.New(logger.Config{Level: "debug", DevMode: true})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- backoff.Execute(ctx, cfg, log, func(ctx context.Context) error {
			return errors.New("fail")
		})
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("expected error after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after context cancel")
	}
}
