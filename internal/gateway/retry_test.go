package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type scriptedClient struct {
	errs  []error
	calls int
}

func (s *scriptedClient) Complete(context.Context, Request) (string, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return "", s.errs[s.calls-1]
	}
	return "ok", nil
}

func (s *scriptedClient) CompleteStructured(context.Context, Request, Schema) (json.RawMessage, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	return json.RawMessage(`{}`), nil
}

func stubBackoff(t *testing.T) {
	t.Helper()
	orig := backoff
	backoff = func(int) time.Duration { return 0 }
	t.Cleanup(func() { backoff = orig })
}

func TestWithRetry_TransientErrorsAreRetried(t *testing.T) {
	stubBackoff(t)
	inner := &scriptedClient{errs: []error{
		Transient(errors.New("429")),
		Transient(errors.New("503")),
	}}

	out, err := WithRetry(inner, 3).Complete(context.Background(), Request{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "ok" {
		t.Errorf("out = %q, want ok", out)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestWithRetry_AttemptsAreBounded(t *testing.T) {
	stubBackoff(t)
	inner := &scriptedClient{errs: []error{
		Transient(errors.New("one")),
		Transient(errors.New("two")),
		Transient(errors.New("three")),
	}}

	_, err := WithRetry(inner, 3).Complete(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestWithRetry_PermanentErrorStopsImmediately(t *testing.T) {
	stubBackoff(t)
	inner := &scriptedClient{errs: []error{
		Permanent(errors.New("401")),
	}}

	_, err := WithRetry(inner, 3).Complete(context.Background(), Request{})
	if !IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestWithRetry_ContextCancelStopsBackoff(t *testing.T) {
	orig := backoff
	backoff = func(int) time.Duration { return time.Hour }
	t.Cleanup(func() { backoff = orig })

	inner := &scriptedClient{errs: []error{
		Transient(errors.New("flaky")),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := WithRetry(inner, 3).Complete(ctx, Request{})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestWithRetry_StructuredFollowsSamePolicy(t *testing.T) {
	stubBackoff(t)
	inner := &scriptedClient{errs: []error{
		Transient(errors.New("flaky")),
	}}

	out, err := WithRetry(inner, 2).CompleteStructured(context.Background(), Request{}, Schema{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(out) != "{}" {
		t.Errorf("out = %s", out)
	}
	if inner.calls != 2 {
		t.Errorf("calls = %d, want 2", inner.calls)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{408, true},
		{429, true},
		{500, true},
		{503, true},
		{400, false},
		{401, false},
		{404, false},
		{422, false},
	}

	for _, tt := range tests {
		err := classifyStatus(tt.status, errors.New("x"))
		if IsTransient(err) != tt.transient {
			t.Errorf("status %d: transient = %v, want %v", tt.status, IsTransient(err), tt.transient)
		}
	}
}
