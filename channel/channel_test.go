package channel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tenzoki/limechannel/config"
	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/errs"
	"github.com/tenzoki/limechannel/transport"
)

func newPair(t *testing.T, conf *config.Config) (client, server *Channel) {
	t.Helper()
	a, b := transport.NewMemoryPair(8)

	clientConf := *conf
	serverConf := *conf

	client, err := New(Config{Transport: a, Conf: &clientConf})
	if err != nil {
		t.Fatalf("New client: %v", err)
	}
	server, err = New(Config{Transport: b, Conf: &serverConf})
	if err != nil {
		t.Fatalf("New server: %v", err)
	}

	if err := client.transition(envelope.StateEstablished); err != nil {
		t.Fatalf("client transition: %v", err)
	}
	if err := server.transition(envelope.StateEstablished); err != nil {
		t.Fatalf("server transition: %v", err)
	}

	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestMessageRoundTrip(t *testing.T) {
	client, server := newPair(t, config.Default())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.SendMessage(ctx, &envelope.Message{Base: envelope.Base{ID: "m1"}, Content: []byte(`"hi"`)}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	got, err := server.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if got.ID != "m1" || string(got.Content) != `"hi"` {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestCommandRequestResponse(t *testing.T) {
	client, server := newPair(t, config.Default())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultCh := make(chan *envelope.Command, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.ProcessCommand(ctx, envelope.NewCommandRequest("c1", envelope.MethodGet, "/account"))
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- resp
	}()

	req, err := server.ReceiveCommand(ctx)
	if err != nil {
		t.Fatalf("server ReceiveCommand: %v", err)
	}
	if req.ID != "c1" {
		t.Fatalf("unexpected request id %q", req.ID)
	}

	resp, err := envelope.NewCommandResponse(req, envelope.StatusSuccess, map[string]string{"balance": "10"})
	if err != nil {
		t.Fatal(err)
	}
	if err := server.SendCommand(ctx, resp); err != nil {
		t.Fatalf("server SendCommand: %v", err)
	}

	select {
	case got := <-resultCh:
		if got.ID != "c1" || got.Status != envelope.StatusSuccess {
			t.Fatalf("unexpected response: %+v", got)
		}
	case err := <-errCh:
		t.Fatalf("ProcessCommand failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("ProcessCommand never resolved")
	}

	// The server's ReceiveCommand must never see its own response.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer shortCancel()
	if _, err := server.ReceiveCommand(shortCtx); !errs.Is(err, errs.KindCanceled) {
		t.Fatalf("expected no further command observed by server, got %v", err)
	}
}

func TestDuplicateCorrelation(t *testing.T) {
	client, server := newPair(t, config.Default())
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	firstDone := make(chan *envelope.Command, 1)
	go func() {
		resp, err := client.ProcessCommand(ctx, envelope.NewCommandRequest("c2", envelope.MethodGet, "/x"))
		if err == nil {
			firstDone <- resp
		}
	}()

	req, err := server.ReceiveCommand(ctx)
	if err != nil {
		t.Fatalf("ReceiveCommand: %v", err)
	}

	_, err = client.ProcessCommand(ctx, envelope.NewCommandRequest("c2", envelope.MethodGet, "/x"))
	if !errs.Is(err, errs.KindDuplicate) {
		t.Fatalf("expected KindDuplicate, got %v", err)
	}

	resp, _ := envelope.NewCommandResponse(req, envelope.StatusSuccess, nil)
	if err := server.SendCommand(ctx, resp); err != nil {
		t.Fatalf("server SendCommand: %v", err)
	}

	select {
	case got := <-firstDone:
		if got.ID != "c2" {
			t.Fatalf("unexpected response id %q", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("first ProcessCommand never completed")
	}
}

func TestPingAutoReply(t *testing.T) {
	conf := config.Default()
	conf.AutoReplyPings = true
	client, server := newPair(t, conf)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// The server plays the peer issuing the ping; the client has
	// auto-reply-pings on and must answer without the application ever
	// seeing the request via ReceiveCommand.
	resultCh := make(chan *envelope.Command, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := server.ProcessCommand(ctx, envelope.NewCommandRequest("p1", envelope.MethodGet, "/ping"))
		if err != nil {
			errCh <- err
			return
		}
		resultCh <- resp
	}()

	select {
	case resp := <-resultCh:
		if resp.ID != "p1" || resp.Status != envelope.StatusSuccess {
			t.Fatalf("unexpected ping reply: %+v", resp)
		}
	case err := <-errCh:
		t.Fatalf("ProcessCommand(ping) failed: %v", err)
	case <-time.After(time.Second):
		t.Fatal("ping was never auto-answered")
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	if _, err := client.ReceiveCommand(shortCtx); !errs.Is(err, errs.KindCanceled) {
		t.Fatalf("expected the ping request to never surface via ReceiveCommand: %v", err)
	}
}

func TestConsumeTimeoutClosesChannel(t *testing.T) {
	conf := config.Default()
	conf.EnvelopeBufferSize = 1
	conf.ConsumeTimeoutMillis = 50
	client, server := newPair(t, conf)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.SendMessage(ctx, &envelope.Message{Base: envelope.Base{ID: "m1"}}); err != nil {
		t.Fatalf("SendMessage 1: %v", err)
	}
	if err := client.SendMessage(ctx, &envelope.Message{Base: envelope.Base{ID: "m2"}}); err != nil {
		t.Fatalf("SendMessage 2: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for server.State() != envelope.StateFinished && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if server.State() != envelope.StateFinished {
		t.Fatalf("expected server channel to close after consume timeout, state=%v", server.State())
	}
}

func TestProcessCommandCancellationIsDroppedOnLateResponse(t *testing.T) {
	client, server := newPair(t, config.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := client.ProcessCommand(ctx, envelope.NewCommandRequest("c3", envelope.MethodGet, "/x"))
		done <- err
	}()

	reqCtx, reqCancel := context.WithTimeout(context.Background(), time.Second)
	defer reqCancel()
	req, err := server.ReceiveCommand(reqCtx)
	if err != nil {
		t.Fatalf("ReceiveCommand: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if !errs.Is(err, errs.KindCanceled) {
			t.Fatalf("expected KindCanceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("ProcessCommand never observed cancellation")
	}

	resp, _ := envelope.NewCommandResponse(req, envelope.StatusSuccess, nil)
	sendCtx, sendCancel := context.WithTimeout(context.Background(), time.Second)
	defer sendCancel()
	if err := server.SendCommand(sendCtx, resp); err != nil {
		t.Fatalf("server SendCommand: %v", err)
	}

	shortCtx, shortCancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer shortCancel()
	if _, err := client.ReceiveCommand(shortCtx); !errs.Is(err, errs.KindCanceled) {
		t.Fatalf("expected the late response to be dropped, not delivered: %v", err)
	}
}

func TestStateGatedSendsFailBeforeEstablished(t *testing.T) {
	a, _ := transport.NewMemoryPair(1)
	ch, err := New(Config{Transport: a, Conf: config.Default()})
	if err != nil {
		t.Fatal(err)
	}
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = ch.SendMessage(ctx, &envelope.Message{Base: envelope.Base{ID: "m1"}})
	if !errs.Is(err, errs.KindInvalidState) {
		t.Fatalf("expected KindInvalidState, got %v", err)
	}
}

func TestCloseIsIdempotentUnderConcurrency(t *testing.T) {
	client, _ := newPair(t, config.Default())

	var wg sync.WaitGroup
	errsOut := make([]error, 10)
	for i := range errsOut {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errsOut[i] = client.Close()
		}(i)
	}
	wg.Wait()

	for i, err := range errsOut {
		if err != nil {
			t.Fatalf("Close #%d returned error: %v", i, err)
		}
	}
	if client.State() != envelope.StateFinished {
		t.Fatalf("expected StateFinished, got %v", client.State())
	}
}
