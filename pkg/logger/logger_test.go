package logger

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
)

func TestDefaultLoggerConcurrentAccess(t *testing.T) {
	Init("production")

	var wg sync.WaitGroup
	const goroutines = 100

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			Info("concurrent log message", "key", "value")
			_ = Get()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		Init("development")
	}()

	wg.Wait()
	Init("production")
}

func TestGetReturnsCurrentLogger(t *testing.T) {
	Init("production")
	l := Get()
	if l == nil {
		t.Fatal("Get() returned nil")
	}
}

func TestInitSwitchesHandler(t *testing.T) {
	Init("development")
	if Get() == nil {
		t.Fatal("development logger is nil")
	}
	Init("production")
	if Get() == nil {
		t.Fatal("production logger is nil")
	}
}

func TestWithContextAndFromContext(t *testing.T) {
	var buf bytes.Buffer
	custom := slog.New(slog.NewTextHandler(&buf, nil))

	ctx := WithContext(context.Background(), custom)
	got := FromContext(ctx)
	if got != custom {
		t.Fatal("FromContext did not return the logger stored by WithContext")
	}

	got.Info("hello")
	if buf.Len() == 0 {
		t.Error("expected logger stored in context to be used")
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	Init("production")
	got := FromContext(context.Background())
	if got != Get() {
		t.Error("FromContext without a stored logger should return the default logger")
	}
}

func TestWithReturnsDerivedLogger(t *testing.T) {
	Init("production")
	l := With(FieldRunID, "run-1")
	if l == nil {
		t.Fatal("With returned nil")
	}
}
