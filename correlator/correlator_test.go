package correlator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/errs"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []*envelope.Command
	err  error
}

func (f *fakeSender) SendCommand(_ context.Context, cmd *envelope.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func TestProcessCommandRoundTrip(t *testing.T) {
	c := New()
	sender := &fakeSender{}
	req := envelope.NewCommandRequest("c1", envelope.MethodGet, "/account")

	done := make(chan struct{})
	var resp *envelope.Command
	var procErr error
	go func() {
		defer close(done)
		resp, procErr = c.ProcessCommand(context.Background(), sender, req)
	}()

	// Wait for registration, then submit the matching response.
	deadline := time.Now().Add(time.Second)
	for c.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	respCmd, _ := envelope.NewCommandResponse(req, envelope.StatusSuccess, nil)
	if !c.TrySubmitResult(respCmd) {
		t.Fatal("expected TrySubmitResult to succeed")
	}

	<-done
	if procErr != nil {
		t.Fatalf("ProcessCommand: %v", procErr)
	}
	if resp.ID != "c1" || resp.Status != envelope.StatusSuccess {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if c.Len() != 0 {
		t.Fatalf("expected table empty after completion, got %d", c.Len())
	}
}

func TestProcessCommandInvalidArgument(t *testing.T) {
	c := New()
	sender := &fakeSender{}

	cases := []*envelope.Command{
		nil,
		{Base: envelope.Base{ID: ""}, Method: envelope.MethodGet, Status: envelope.StatusPending},
		{Base: envelope.Base{ID: "x"}, Method: envelope.MethodGet, Status: envelope.StatusSuccess},
		{Base: envelope.Base{ID: "x"}, Method: envelope.MethodObserve, Status: envelope.StatusPending},
	}
	for i, req := range cases {
		_, err := c.ProcessCommand(context.Background(), sender, req)
		if !errs.Is(err, errs.KindInvalidArgument) {
			t.Fatalf("case %d: expected KindInvalidArgument, got %v", i, err)
		}
	}
}

func TestProcessCommandDuplicate(t *testing.T) {
	c := New()
	sender := &fakeSender{}
	req := envelope.NewCommandRequest("c2", envelope.MethodGet, "/account")

	firstDone := make(chan struct{})
	var firstResp *envelope.Command
	go func() {
		defer close(firstDone)
		firstResp, _ = c.ProcessCommand(context.Background(), sender, req)
	}()

	deadline := time.Now().Add(time.Second)
	for c.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	_, err := c.ProcessCommand(context.Background(), sender, envelope.NewCommandRequest("c2", envelope.MethodGet, "/account"))
	if !errs.Is(err, errs.KindDuplicate) {
		t.Fatalf("expected KindDuplicate, got %v", err)
	}

	respCmd, _ := envelope.NewCommandResponse(req, envelope.StatusSuccess, nil)
	if !c.TrySubmitResult(respCmd) {
		t.Fatal("expected first registration to still be fulfillable")
	}
	<-firstDone
	if firstResp == nil || firstResp.ID != "c2" {
		t.Fatalf("first ProcessCommand did not complete: %+v", firstResp)
	}
}

func TestTrySubmitResultRejectsNonResponses(t *testing.T) {
	c := New()
	c.pending["x"] = &slot{ch: make(chan *envelope.Command, 1)}

	cases := []*envelope.Command{
		nil,
		{Base: envelope.Base{ID: ""}, Status: envelope.StatusSuccess},
		{Base: envelope.Base{ID: "x"}, Status: envelope.StatusPending},
		{Base: envelope.Base{ID: "x"}, Status: envelope.StatusSuccess, Method: envelope.MethodObserve},
	}
	for i, resp := range cases {
		if c.TrySubmitResult(resp) {
			t.Fatalf("case %d: expected rejection", i)
		}
	}
	if c.Len() != 1 {
		t.Fatalf("rejections must not consume the slot, got len %d", c.Len())
	}
}

func TestTrySubmitResultUnmatchedReturnsFalse(t *testing.T) {
	c := New()
	resp, _ := envelope.NewCommandResponse(envelope.NewCommandRequest("missing", envelope.MethodGet, "/x"), envelope.StatusSuccess, nil)
	if c.TrySubmitResult(resp) {
		t.Fatal("expected false for unmatched id")
	}
}

func TestTrySubmitResultSecondSubmissionFails(t *testing.T) {
	c := New()
	req := envelope.NewCommandRequest("c3", envelope.MethodGet, "/x")
	c.pending["c3"] = &slot{ch: make(chan *envelope.Command, 1)}

	resp, _ := envelope.NewCommandResponse(req, envelope.StatusSuccess, nil)
	if !c.TrySubmitResult(resp) {
		t.Fatal("expected first submission to succeed")
	}
	if c.TrySubmitResult(resp) {
		t.Fatal("expected second submission for the same id to fail")
	}
}

func TestProcessCommandCancellation(t *testing.T) {
	c := New()
	sender := &fakeSender{}
	req := envelope.NewCommandRequest("c4", envelope.MethodGet, "/x")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var procErr error
	go func() {
		defer close(done)
		_, procErr = c.ProcessCommand(ctx, sender, req)
	}()

	deadline := time.Now().Add(time.Second)
	for c.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if !errs.Is(procErr, errs.KindCanceled) {
		t.Fatalf("expected KindCanceled, got %v", procErr)
	}
	if c.Len() != 0 {
		t.Fatalf("expected table cleared after cancellation, got %d", c.Len())
	}

	// A delayed response arriving after cancellation must be dropped.
	resp, _ := envelope.NewCommandResponse(req, envelope.StatusSuccess, nil)
	if c.TrySubmitResult(resp) {
		t.Fatal("expected delayed response after cancellation to be dropped")
	}
}

func TestCancelAll(t *testing.T) {
	c := New()
	sender := &fakeSender{}

	const n = 5
	done := make([]chan struct{}, n)
	errsOut := make([]error, n)
	for i := 0; i < n; i++ {
		done[i] = make(chan struct{})
		i := i
		go func() {
			defer close(done[i])
			_, errsOut[i] = c.ProcessCommand(context.Background(), sender, envelope.NewCommandRequest(string(rune('a'+i)), envelope.MethodGet, "/x"))
		}()
	}

	deadline := time.Now().Add(time.Second)
	for c.Len() < n && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	c.CancelAll()

	for i := 0; i < n; i++ {
		<-done[i]
		if !errs.Is(errsOut[i], errs.KindCanceled) {
			t.Fatalf("slot %d: expected KindCanceled, got %v", i, errsOut[i])
		}
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty table after CancelAll, got %d", c.Len())
	}
}
