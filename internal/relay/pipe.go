package relay

import (
	"context"
	"sync"

	"github.com/prompt-enhancer/bridge/internal/model"
)

// Pipe is an in-process bridge wiring a Client directly to a Dispatcher. Each
// posted request is handled on its own goroutine and the response is
// delivered back asynchronously, mirroring the message-passing boundary a
// real deployment crosses. Pushes from the dispatcher's broadcaster are
// forwarded to the client as they are published.
type Pipe struct {
	dispatcher  *Dispatcher
	client      *Client
	unsubscribe func()

	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewPipe connects a fresh Client to the dispatcher and returns the pipe.
// Close detaches the client and waits for in-flight requests to finish.
func NewPipe(d *Dispatcher, opts ...ClientOption) *Pipe {
	p := &Pipe{dispatcher: d}
	p.client = NewClient(p, opts...)
	p.unsubscribe = d.Events().Subscribe(func(env model.Envelope) {
		p.client.Deliver(env)
	})
	return p
}

// Client returns the isolated-side client attached to this pipe.
func (p *Pipe) Client() *Client {
	return p.client
}

// Post hands the request envelope to the dispatcher asynchronously.
func (p *Pipe) Post(env model.Envelope) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return model.ErrBridgeClosed
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		resp, ok := p.dispatcher.Handle(context.Background(), env)
		if ok {
			p.client.Deliver(resp)
		}
	}()
	return nil
}

// Close detaches the pipe from the dispatcher's push stream and waits for
// outstanding requests.
func (p *Pipe) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.unsubscribe()
	p.wg.Wait()
}
