// Package transporttest provides a scripted transport.Sender for tests.
package transporttest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ahmad-cheema/file-verse/pkg/protocol"
)

// Call is one recorded Send.
type Call struct {
	Op     protocol.Operation
	Fields protocol.Fields
}

// Path returns the "path" field of the call.
func (c Call) Path() string {
	return c.Fields.String("path")
}

// Reply is what a scripted handler returns.
type Reply struct {
	Response *protocol.Response
	Err      error
}

// Handler answers one call.
type Handler func(call Call) Reply

// Recorder answers calls from per-operation queues or handlers and records
// them in order. It also notices overlapping calls.
type Recorder struct {
	mu       sync.Mutex
	calls    []Call
	queues   map[protocol.Operation][]Reply
	handlers map[protocol.Operation]Handler

	inFlight   atomic.Int32
	overlapped atomic.Bool
}

// New creates an empty recorder. Unscripted calls get a success reply.
func New() *Recorder {
	return &Recorder{
		queues:   make(map[protocol.Operation][]Reply),
		handlers: make(map[protocol.Operation]Handler),
	}
}

// Enqueue scripts the next reply for op. Queued replies win over handlers.
func (r *Recorder) Enqueue(op protocol.Operation, resp *protocol.Response) *Recorder {
	return r.EnqueueReply(op, Reply{Response: resp})
}

// EnqueueErr scripts a transport failure for the next call of op.
func (r *Recorder) EnqueueErr(op protocol.Operation, err error) *Recorder {
	return r.EnqueueReply(op, Reply{Err: err})
}

// EnqueueReply scripts the next reply for op.
func (r *Recorder) EnqueueReply(op protocol.Operation, reply Reply) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[op] = append(r.queues[op], reply)
	return r
}

// Handle installs a handler used once the queue for op is empty.
func (r *Recorder) Handle(op protocol.Operation, h Handler) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[op] = h
	return r
}

// Send implements transport.Sender.
func (r *Recorder) Send(ctx context.Context, op protocol.Operation, fields protocol.Fields) (*protocol.Response, error) {
	if r.inFlight.Add(1) > 1 {
		r.overlapped.Store(true)
	}
	defer r.inFlight.Add(-1)

	call := Call{Op: op, Fields: fields}

	r.mu.Lock()
	r.calls = append(r.calls, call)
	var reply Reply
	if q := r.queues[op]; len(q) > 0 {
		reply = q[0]
		r.queues[op] = q[1:]
		r.mu.Unlock()
	} else if h := r.handlers[op]; h != nil {
		r.mu.Unlock()
		reply = h(call)
	} else {
		r.mu.Unlock()
		reply = Reply{Response: protocol.Success("")}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return reply.Response, reply.Err
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Ops returns the operation names of the recorded calls in order.
func (r *Recorder) Ops() []protocol.Operation {
	calls := r.Calls()
	ops := make([]protocol.Operation, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// Overlapped reports whether two calls were ever in flight at once.
func (r *Recorder) Overlapped() bool {
	return r.overlapped.Load()
}

// Reset forgets recorded calls; scripts are kept.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Listing builds a dir_list success reply.
func Listing(entries ...protocol.WireEntry) *protocol.Response {
	resp := protocol.Success("")
	resp.Entries = entries
	return resp
}

// File is a wire entry for a file.
func File(name string) protocol.WireEntry {
	return protocol.WireEntry{Name: name, Type: 0}
}

// Dir is a wire entry for a directory.
func Dir(name string) protocol.WireEntry {
	return protocol.WireEntry{Name: name, Type: protocol.EntryTypeDirectory}
}

// Fail builds an error reply.
func Fail(kind string) *protocol.Response {
	return protocol.Failure("", kind)
}

// Token builds a login success reply.
func Token(tok string) *protocol.Response {
	resp := protocol.Success("")
	resp.Token = tok
	return resp
}
