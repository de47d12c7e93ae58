package service

import (
	"log/slog"

	"github.com/sakif/chat-relay/internal/presence"
	"github.com/sakif/chat-relay/internal/protocol"
)

// Signaling relays call setup between two clients.
//
// The relay holds no call state. Each method is a single forward to
// whoever is online right now: an offline target means the event is dropped
// without telling the sender, and nothing is queued for later. Media
// negotiation happens peer to peer using the signaling addresses the clients
// registered; the relay only passes them along.
type Signaling struct {
	registry *presence.Registry
	logger   *slog.Logger
}

func NewSignaling(registry *presence.Registry, logger *slog.Logger) *Signaling {
	return &Signaling{registry: registry, logger: logger}
}

// Initiate rings receiver. The caller's signaling address is read from the
// registry at this moment. callKind is forwarded as given; clients agree on
// its values (protocol.CallKindAudio, protocol.CallKindVideo).
func (s *Signaling) Initiate(callerIdentity, callerDisplayName, receiverIdentity, callKind string) bool {
	var callerAddress string
	if caller, ok := s.registry.Lookup(callerIdentity); ok {
		callerAddress = caller.SignalingAddress
		if callerDisplayName == "" {
			callerDisplayName = caller.DisplayName
		}
	}

	return pushTo(s.registry, s.logger, receiverIdentity,
		protocol.IncomingCall(callerIdentity, callerDisplayName, callKind, callerAddress))
}

// Accept tells the caller their call was picked up.
func (s *Signaling) Accept(callerIdentity, accepterIdentity string) bool {
	return pushTo(s.registry, s.logger, callerIdentity, protocol.CallAccepted(accepterIdentity))
}

// End tells target that source hung up or declined.
func (s *Signaling) End(targetIdentity, sourceIdentity string) bool {
	return pushTo(s.registry, s.logger, targetIdentity, protocol.CallEnded(sourceIdentity))
}
