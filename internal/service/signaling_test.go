package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/chat-relay/internal/protocol"
)

func TestInitiate_CarriesCallerAddressAtForwardTime(t *testing.T) {
	f := newFixture(t)
	f.login(t, "alice@example.com", "Alice")
	bob := f.login(t, "bob@example.com", "Bob")

	f.lifecycle.UpdateSignalingAddress("alice@example.com", "peer-old")
	f.lifecycle.UpdateSignalingAddress("alice@example.com", "peer-new")

	delivered := f.signaling.Initiate("alice@example.com", "Alice", "bob@example.com", protocol.CallKindVideo)
	require.True(t, delivered)

	calls := bob.ofType(protocol.TypeIncomingCall)
	require.Len(t, calls, 1)
	assert.Equal(t,
		protocol.IncomingCall("alice@example.com", "Alice", protocol.CallKindVideo, "peer-new"),
		calls[0])
}

func TestInitiate_FillsMissingCallerName(t *testing.T) {
	f := newFixture(t)
	f.login(t, "alice@example.com", "Alice")
	bob := f.login(t, "bob@example.com", "Bob")

	f.signaling.Initiate("alice@example.com", "", "bob@example.com", protocol.CallKindAudio)

	calls := bob.ofType(protocol.TypeIncomingCall)
	require.Len(t, calls, 1)
	assert.Equal(t, "Alice", calls[0].Payload.(protocol.IncomingCallPayload).CallerDisplayName)
}

func TestInitiate_ForwardsCallKindAsGiven(t *testing.T) {
	f := newFixture(t)
	f.login(t, "alice@example.com", "Alice")
	bob := f.login(t, "bob@example.com", "Bob")

	for _, kind := range []string{"Video", "screen-share", ""} {
		bob.reset()
		require.True(t, f.signaling.Initiate("alice@example.com", "Alice", "bob@example.com", kind), kind)

		calls := bob.ofType(protocol.TypeIncomingCall)
		require.Len(t, calls, 1, kind)
		assert.Equal(t, kind, calls[0].Payload.(protocol.IncomingCallPayload).CallKind)
	}
}

func TestInitiate_OfflineReceiverIsNeverQueued(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice@example.com", "Alice")
	alice.reset()

	assert.False(t, f.signaling.Initiate("alice@example.com", "Alice", "bob@example.com", protocol.CallKindVideo))

	bob := f.login(t, "bob@example.com", "Bob")
	assert.Empty(t, bob.ofType(protocol.TypeIncomingCall))
	assert.Equal(t, 0, alice.count(), "caller gets no error and no accept")
}

func TestAccept_ForwardsToCaller(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice@example.com", "Alice")
	f.login(t, "bob@example.com", "Bob")

	require.True(t, f.signaling.Accept("alice@example.com", "bob@example.com"))

	accepted := alice.ofType(protocol.TypeCallAccepted)
	require.Len(t, accepted, 1)
	assert.Equal(t, protocol.CallAccepted("bob@example.com"), accepted[0])
}

func TestAccept_CallerGoneIsDropped(t *testing.T) {
	f := newFixture(t)
	alice := f.login(t, "alice@example.com", "Alice")
	f.lifecycle.Disconnect(context.Background(), alice)

	assert.False(t, f.signaling.Accept("alice@example.com", "bob@example.com"))
}

func TestEnd_ForwardsToTarget(t *testing.T) {
	f := newFixture(t)
	f.login(t, "alice@example.com", "Alice")
	bob := f.login(t, "bob@example.com", "Bob")

	require.True(t, f.signaling.End("bob@example.com", "alice@example.com"))
	assert.False(t, f.signaling.End("ghost@example.com", "alice@example.com"))

	ended := bob.ofType(protocol.TypeCallEnded)
	require.Len(t, ended, 1)
	assert.Equal(t, protocol.CallEnded("alice@example.com"), ended[0])
}

func TestSignaling_ClosedTargetConnectionDoesNotPanic(t *testing.T) {
	f := newFixture(t)
	f.login(t, "alice@example.com", "Alice")
	bob := f.login(t, "bob@example.com", "Bob")
	bob.close()

	assert.False(t, f.signaling.End("bob@example.com", "alice@example.com"))
}
