package shippingprotection

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/narvar/shipping-protection-sdk/protection"
)

// Stub collects API calls made before the real SDK is constructed,
// the way a loader-script shim queues calls until the bundle arrives.
// A host that needs call-before-ready semantics creates a Stub, points
// its integration at it, and later passes it to Bootstrap.
type Stub struct {
	mu     sync.Mutex
	queue  []queuedCall
	failed bool
}

type queuedCall struct {
	method string
	config protection.Config
	cart   protection.CartData
	ident  protection.CustomerIdentity
}

// NewStub constructs an empty call queue.
func NewStub() *Stub {
	return &Stub{}
}

// Init queues an initialization request.
func (s *Stub) Init(config protection.Config) {
	s.enqueue(queuedCall{method: "init", config: config})
}

// Render queues a render request.
func (s *Stub) Render(cart protection.CartData) {
	s.enqueue(queuedCall{method: "render", cart: cart})
}

// SetCustomerIdentity queues an identity update.
func (s *Stub) SetCustomerIdentity(identity protection.CustomerIdentity) {
	s.enqueue(queuedCall{method: "set-customer-identity", ident: identity})
}

// MarkFailed records that the environment cannot host the SDK; the
// flag survives into the bootstrapped client's logs.
func (s *Stub) MarkFailed() {
	s.mu.Lock()
	s.failed = true
	s.mu.Unlock()
}

func (s *Stub) enqueue(call queuedCall) {
	s.mu.Lock()
	s.queue = append(s.queue, call)
	s.mu.Unlock()
}

func (s *Stub) drain() ([]queuedCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	queued := s.queue
	s.queue = nil
	return queued, s.failed
}

// Bootstrap constructs the real Client and replays any calls queued on
// stub, preserving their order. Replayed Init runs synchronously so a
// queued Render that follows it observes readiness. A nil stub is
// equivalent to calling New. Run once at startup.
func Bootstrap(ctx context.Context, stub *Stub, opts ...Option) *Client {
	client := New(opts...)
	if stub == nil {
		return client
	}

	queued, failed := stub.drain()
	if failed {
		client.logger.Warn("bootstrapping over a stub marked failed")
	}
	for _, call := range queued {
		switch call.method {
		case "init":
			if err := client.Init(ctx, call.config); err != nil {
				client.logger.Warn("queued init failed", zap.Error(err))
			}
		case "render":
			client.Render(call.cart)
		case "set-customer-identity":
			client.SetCustomerIdentity(call.ident)
		}
	}
	return client
}
