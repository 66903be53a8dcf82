package rabbit

import (
	"testing"

	"github.com/illmade-knight/go-reliablemq/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmTracker_ResolveReturnsTrackedEnvelope(t *testing.T) {
	tracker := newConfirmTracker()
	env := &messaging.Envelope{MsgID: "m1"}

	tracker.track(1, env)
	require.Equal(t, 1, tracker.outstanding())

	resolved := tracker.resolve(1)
	require.NotNil(t, resolved)
	assert.Equal(t, "m1", resolved.MsgID)
	assert.Equal(t, 0, tracker.outstanding())
}

func TestConfirmTracker_ResolveIsOneShot(t *testing.T) {
	tracker := newConfirmTracker()
	tracker.track(7, &messaging.Envelope{MsgID: "m7"})

	require.NotNil(t, tracker.resolve(7))
	assert.Nil(t, tracker.resolve(7), "a delivery tag resolves at most once")
}

func TestConfirmTracker_UntrackRemovesEntry(t *testing.T) {
	tracker := newConfirmTracker()
	tracker.track(3, &messaging.Envelope{MsgID: "m3"})

	tracker.untrack(3)

	assert.Nil(t, tracker.resolve(3), "an untracked publish must not resolve")
	assert.Equal(t, 0, tracker.outstanding())
}

func TestConfirmTracker_UnknownTag(t *testing.T) {
	tracker := newConfirmTracker()
	assert.Nil(t, tracker.resolve(42))
}

func TestConfirmTracker_IndependentTags(t *testing.T) {
	tracker := newConfirmTracker()
	tracker.track(1, &messaging.Envelope{MsgID: "a"})
	tracker.track(2, &messaging.Envelope{MsgID: "b"})

	assert.Equal(t, "b", tracker.resolve(2).MsgID)
	assert.Equal(t, "a", tracker.resolve(1).MsgID)
}
