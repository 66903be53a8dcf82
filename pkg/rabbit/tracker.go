package rabbit

import (
	"sync"

	"github.com/illmade-knight/go-reliablemq/pkg/messaging"
)

// confirmTracker correlates broker confirmations back to the envelope that
// was published. AMQP confirmations carry only the channel's delivery tag, so
// the tracker records the envelope against the publish sequence number at
// publish time and resolves it when the confirmation arrives.
type confirmTracker struct {
	mu       sync.Mutex
	inFlight map[uint64]*messaging.Envelope
}

func newConfirmTracker() *confirmTracker {
	return &confirmTracker{inFlight: make(map[uint64]*messaging.Envelope)}
}

// track records env as outstanding under the given publish sequence number.
func (t *confirmTracker) track(seq uint64, env *messaging.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight[seq] = env
}

// untrack removes a tracked sequence number whose publish never reached the
// broker, so no confirmation will ever arrive for it.
func (t *confirmTracker) untrack(seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, seq)
}

// resolve removes and returns the envelope for a confirmed delivery tag, or
// nil for an unknown tag.
func (t *confirmTracker) resolve(tag uint64) *messaging.Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	env, ok := t.inFlight[tag]
	if !ok {
		return nil
	}
	delete(t.inFlight, tag)
	return env
}

// outstanding returns the number of publishes awaiting confirmation.
func (t *confirmTracker) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight)
}
