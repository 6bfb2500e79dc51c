package builtin

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tenzoki/limechannel/envelope"
	"github.com/tenzoki/limechannel/module"
)

// Closer is the channel-close surface the idle watchdog needs; the Channel
// satisfies this trivially.
type Closer interface {
	Close() error
}

// RemotePing implements spec §4.7's remote-ping watchdog: once the session
// is established, it schedules periodic ping requests at interval, and
// closes the channel if no envelope of any type arrives within idleTimeout
// of the last one observed. The close is a plain Closer.Close call and
// carries no reason; the idle timeout is recorded only in the log.
type RemotePing struct {
	sender   commandSender
	closer   Closer
	interval time.Duration
	idle     time.Duration

	mu           sync.Mutex
	lastActivity time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
}

// NewRemotePing returns a RemotePing module. It does nothing until
// StateChanged observes envelope.StateEstablished.
func NewRemotePing(sender commandSender, closer Closer, interval, idleTimeout time.Duration) *RemotePing {
	return &RemotePing{
		sender:   sender,
		closer:   closer,
		interval: interval,
		idle:     idleTimeout,
		stopCh:   make(chan struct{}),
	}
}

func (p *RemotePing) StateChanged(ctx context.Context, state envelope.SessionState) {
	if state != envelope.StateEstablished {
		return
	}
	p.startOnce.Do(func() {
		p.touch()
		go p.run()
	})
}

func (p *RemotePing) Receiving(ctx context.Context, e envelope.Envelope) (envelope.Envelope, error) {
	p.touch()
	return e, nil
}

func (p *RemotePing) Sending(ctx context.Context, e envelope.Envelope) (envelope.Envelope, error) {
	return e, nil
}

// Stop ends the watchdog goroutine. Called by the channel's closing
// protocol so a closed channel doesn't keep pinging or checking idleness.
func (p *RemotePing) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *RemotePing) touch() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

func (p *RemotePing) idleSince() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.lastActivity)
}

func (p *RemotePing) run() {
	pingTicker := time.NewTicker(p.interval)
	defer pingTicker.Stop()

	checkPeriod := p.idle / 4
	if checkPeriod <= 0 {
		checkPeriod = 50 * time.Millisecond
	}
	idleTicker := time.NewTicker(checkPeriod)
	defer idleTicker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-pingTicker.C:
			p.sendPing()
		case <-idleTicker.C:
			if p.idleSince() >= p.idle {
				log.Printf("remoteping: idle for %s, closing channel", p.idle)
				_ = p.closer.Close()
				return
			}
		}
	}
}

func (p *RemotePing) sendPing() {
	req := envelope.NewCommandRequest(uuid.NewString(), envelope.MethodGet, pingURI)
	ctx, cancel := context.WithTimeout(context.Background(), p.interval)
	defer cancel()
	if err := p.sender.SendCommand(ctx, req); err != nil {
		log.Printf("remoteping: ping send failed: %v", err)
	}
}

var _ module.Module = (*RemotePing)(nil)
