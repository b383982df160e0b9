package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/idp-pipeline/internal/core/domain"
	"github.com/nats-io/nats.go"
)

func TestDecodeJobMessage(t *testing.T) {
	msg, err := DecodeJobMessage([]byte(`{"job_id":"j-1","input":"a.pdf","input_type":"pdf","route_request":"auto"}`))
	if err != nil {
		t.Fatalf("DecodeJobMessage() error = %v", err)
	}
	if msg.JobID != "j-1" || msg.InputType != domain.InputPDF || msg.RouteRequest != domain.RouteAuto {
		t.Fatalf("unexpected message: %+v", msg)
	}

	if _, err := DecodeJobMessage([]byte(`not json`)); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := DecodeJobMessage([]byte(`{"input":"x"}`)); err == nil {
		t.Fatalf("expected missing job id error")
	}
}

func TestClassifyNATSError(t *testing.T) {
	if c := classifyNATSError(nats.ErrNoServers); !c.Retryable || !c.RecordFailure {
		t.Fatalf("no servers must be retryable: %+v", c)
	}
	if c := classifyNATSError(context.Canceled); c.Retryable || c.RecordFailure {
		t.Fatalf("canceled must not be retried: %+v", c)
	}
	if c := classifyNATSError(errors.New("bad subject")); c.Retryable {
		t.Fatalf("unknown errors must not be retried: %+v", c)
	}
}

func TestWrapTemporaryIfNeeded(t *testing.T) {
	err := wrapTemporaryIfNeeded(nats.ErrConnectionClosed)
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary kind, got %v", err)
	}
	plain := errors.New("payload too large")
	if got := wrapTemporaryIfNeeded(plain); got != plain {
		t.Fatalf("non-retryable errors must pass through, got %v", got)
	}
}

func TestEncodeJobMessageSetsDedupHeader(t *testing.T) {
	out, err := EncodeJobMessage("idp.jobs", domain.JobMessage{JobID: "j-7", Input: "a.png", InputType: domain.InputImage})
	if err != nil {
		t.Fatalf("EncodeJobMessage() error = %v", err)
	}
	if out.Subject != "idp.jobs" || out.Header.Get(nats.MsgIdHdr) != "j-7" {
		t.Fatalf("unexpected message: subject=%q header=%v", out.Subject, out.Header)
	}
	back, err := DecodeJobMessage(out.Data)
	if err != nil || back.JobID != "j-7" || back.InputType != domain.InputImage {
		t.Fatalf("round trip failed: %+v, %v", back, err)
	}

	if _, err := EncodeJobMessage("idp.jobs", domain.JobMessage{}); !domain.IsKind(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for missing job id, got %v", err)
	}
}
