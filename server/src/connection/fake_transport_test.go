package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// fakeTransport is an in-memory Transport double: Read drains a
// scripted queue of inbound frames (returning the io.EOF-like
// errTransportClosed once exhausted), Write records every outbound
// payload for assertion.
type fakeTransport struct {
	mu       sync.Mutex
	inbound  [][]byte
	outbound [][]byte
	closed   bool
	readCh   chan struct{}
}

func newFakeTransport(frames ...[]byte) *fakeTransport {
	return &fakeTransport{inbound: frames, readCh: make(chan struct{}, len(frames)+1)}
}

var errTransportClosed = errors.New("fake transport closed")

func (f *fakeTransport) Read(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	if len(f.inbound) == 0 {
		f.mu.Unlock()
		return nil, errTransportClosed
	}
	frame := f.inbound[0]
	f.inbound = f.inbound[1:]
	f.mu.Unlock()
	return frame, nil
}

func (f *fakeTransport) Write(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound = append(f.outbound, append([]byte(nil), payload...))
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) sent() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.outbound))
	for _, payload := range f.outbound {
		var decoded map[string]interface{}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			panic(err)
		}
		out = append(out, decoded)
	}
	return out
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.outbound)
}

// erroringTransport returns err exactly once (at position errAt),
// then falls through to an ordinary fakeTransport for the rest of the
// script. Used to simulate a single oversized frame or other
// recoverable read error arriving mid-stream.
type erroringTransport struct {
	*fakeTransport
	errAt int
	err   error
	reads int
}

func newErroringTransport(errAt int, err error, frames ...[]byte) *erroringTransport {
	return &erroringTransport{fakeTransport: newFakeTransport(frames...), errAt: errAt, err: err}
}

func (f *erroringTransport) Read(ctx context.Context) ([]byte, error) {
	if f.reads == f.errAt {
		f.reads++
		return nil, f.err
	}
	f.reads++
	return f.fakeTransport.Read(ctx)
}
