package room

import (
	"context"
	"encoding/json"
	"sync"
)

// fakeSender is an in-memory room.Sender double that records every
// payload handed to it, for assertion in tests. It never errs unless
// failNext is set, modeling a broken connection the reaper should
// collect.
type fakeSender struct {
	mu       sync.Mutex
	sent     [][]byte
	failNext bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{}
}

func (f *fakeSender) Send(_ context.Context, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return errSendFailed
	}
	f.sent = append(f.sent, append([]byte(nil), payload...))
	return nil
}

func (f *fakeSender) messages() []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.sent))
	for _, payload := range f.sent {
		var decoded map[string]interface{}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			panic(err)
		}
		out = append(out, decoded)
	}
	return out
}

func (f *fakeSender) last() map[string]interface{} {
	msgs := f.messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type sendFailedError struct{}

func (sendFailedError) Error() string { return "fake sender: send failed" }

var errSendFailed = sendFailedError{}
