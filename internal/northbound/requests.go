package northbound

import (
	"context"

	"github.com/holocore/holod/internal/yang"
)

// Responder is a one-shot reply channel, the Go stand-in for holo_utils's
// Responder<T> (a oneshot::Sender wrapper). Every daemon->provider request
// below carries one.
type Responder[T any] chan T

// Reply sends v on r if it is non-nil; it never blocks past the first
// send (the channel is always buffered with capacity 1).
func (r Responder[T]) Reply(v T) {
	if r == nil {
		return
	}
	select {
	case r <- v:
	default:
	}
}

// NewResponder returns a buffered Responder ready for a single reply.
func NewResponder[T any]() Responder[T] {
	return make(Responder[T], 1)
}

// GetCallbacksRequest asks a provider for the set of CallbackKeys it has
// registered, used by the engine's RegisterProvider to record which
// instance owns each CallbackKey. The answer is not checked against the
// schema for coverage.
type GetCallbacksRequest struct {
	Responder Responder[GetCallbacksResponse]
}

type GetCallbacksResponse struct {
	Callbacks []CallbackKey
}

// CommitRequest drives one phase of a two-phase commit for one provider.
// The engine's standalone validate(candidate) operation (spec §4.4) and
// its Validate step within commit are the same request with
// Phase == PhaseValidate; there is no separate validate-only request
// type, since validation always needs the same per-change breakdown a
// commit computes via Diff.
type CommitRequest struct {
	Phase     CommitPhase
	Old       *yang.DataTree
	New       *yang.DataTree
	Changes   []ConfigChange
	Responder Responder[error]
}

// GetRequest asks a provider for a DataTree, optionally scoped to path.
type GetRequest struct {
	Path      string // empty means the provider's whole subtree
	DataType  DataType
	Responder Responder[GetResponse]
}

type GetResponse struct {
	Data *yang.DataTree
	Err  error
}

// RpcRequest asks a provider to execute a YANG rpc/action.
type RpcRequest struct {
	Input     *yang.DataTree
	Responder Responder[RpcResponse]
}

type RpcResponse struct {
	Output *yang.DataTree
	Err    error
}

// Request is the tagged union of daemon->provider requests flowing over a
// provider's northbound channel (holo's NbDaemonSender/NbDaemonReceiver).
type Request struct {
	GetCallbacks *GetCallbacksRequest
	Commit       *CommitRequest
	Get          *GetRequest
	Rpc          *RpcRequest
}

// Channel is the bidirectional northbound transport an instance's event
// loop selects on, paired with ctx.Done() as the shutdown signal.
// Notifications is the dedicated outward channel spec §6 describes:
// fully qualified YANG notification trees an instance's
// NotificationProducer emits flow out here, independent of the
// request/reply Requests channel.
type Channel struct {
	Requests      chan Request
	Notifications chan *yang.DataTree
}

// NewChannel returns a Channel with the conventional buffer depth used
// throughout this repository for request/reply fabrics.
func NewChannel() *Channel {
	return &Channel{
		Requests:      make(chan Request, 16),
		Notifications: make(chan *yang.DataTree, 16),
	}
}

// Send delivers req, or returns ctx.Err() if ctx is done first.
func (c *Channel) Send(ctx context.Context, req Request) error {
	select {
	case c.Requests <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
