package goMFA_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, goMFA.AuditEvent) {
	s.count.Add(1)
}

func enableAudit(c *goMFA.Config) {
	c.Audit.Enabled = true
	c.Audit.BufferSize = 64
	c.Audit.DropIfFull = false
}

func TestAuditDisabledNoSinkCalls(t *testing.T) {
	sink := &countingSink{}
	h := newHarnessWithSink(t, sink)

	_, _ = h.engine.BeginLogin(context.Background(), testEmail, "wrong-password")
	time.Sleep(30 * time.Millisecond)

	if n := sink.count.Load(); n != 0 {
		t.Fatalf("expected no audit sink calls when disabled, got %d", n)
	}
}

func TestAuditEnabledSinkReceivesEventWithFields(t *testing.T) {
	sink := goMFA.NewChannelSink(64)
	h := newHarnessWithSink(t, sink, enableAudit)

	ctx := goMFA.WithUserAgent(goMFA.WithClientIP(context.Background(), "203.0.113.7"), "test-agent")
	h.enableEmail(ctx)

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType != "mfa_method_enabled" {
				continue
			}
			if ev.UserID != testUserID || ev.Method != "email" || !ev.Success {
				t.Fatalf("unexpected event: %+v", ev)
			}
			if ev.IP != "203.0.113.7" || ev.UserAgent != "test-agent" {
				t.Fatalf("expected request metadata, got ip=%q ua=%q", ev.IP, ev.UserAgent)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for mfa_method_enabled event")
		}
	}
}

func TestAuditFailureCarriesErrorCode(t *testing.T) {
	sink := goMFA.NewChannelSink(64)
	h := newHarnessWithSink(t, sink, enableAudit)
	ctx := context.Background()

	if _, err := h.engine.ConfigureEmail(ctx, testUserID); err != nil {
		t.Fatalf("ConfigureEmail failed: %v", err)
	}
	_, _ = h.engine.EnableEmail(ctx, testUserID, "000000")

	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-sink.Events():
			if ev.EventType != "challenge_failed" {
				continue
			}
			if ev.Success || ev.Error != "invalid_code" {
				t.Fatalf("unexpected failure event: %+v", ev)
			}
			if ev.Metadata["context"] != "config" {
				t.Fatalf("expected config context, got %v", ev.Metadata)
			}
			return
		case <-deadline:
			t.Fatal("timed out waiting for challenge_failed event")
		}
	}
}

func TestAuditNoSecretsInEvents(t *testing.T) {
	var buf safeBuffer
	sink := goMFA.NewJSONWriterSink(&buf)
	h := newHarnessWithSink(t, sink, enableAudit)
	ctx := context.Background()

	res := h.enableEmail(ctx)
	if err := h.engine.SetSecurityAnswers(ctx, testUserID, []goMFA.AnswerInput{
		{QuestionID: 1, Answer: "Rex"},
		{QuestionID: 2, Answer: "Lisbon"},
	}); err != nil {
		t.Fatalf("SetSecurityAnswers failed: %v", err)
	}
	h.engine.Close()

	out := buf.String()
	if out == "" {
		t.Fatal("expected audit output")
	}
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var ev map[string]any
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
	}
	for _, secret := range append([]string{"123456", testPassword, "Rex", "Lisbon"}, res.BackupCodes...) {
		if strings.Contains(out, secret) {
			t.Fatalf("audit output leaked %q", secret)
		}
	}
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
