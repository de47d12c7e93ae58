// Package protocol defines the relay's WebSocket wire format.
//
// Every frame is a JSON object with a type and an optional payload:
//
//	{"type":"sendMessage","payload":{"sender":"a@x","receiver":"b@x","body":"hi"}}
//
// Inbound frames are decoded into an Envelope whose payload stays raw until
// the dispatcher knows which struct to bind it to. Outbound frames are built
// with the constructors at the bottom of this file.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/chat-relay/internal/model"
)

// Inbound event types.
const (
	TypeLogin                  = "login"
	TypeLogout                 = "logout"
	TypeGetFriends             = "getFriends"
	TypeAddFriend              = "addFriend"
	TypeGetMessages            = "getMessages"
	TypeSendMessage            = "sendMessage"
	TypeSignalingAddressUpdate = "signalingAddressUpdate"
	TypeCallInitiate           = "callInitiate"
	TypeCallAccept             = "callAccept"
	TypeCallEnd                = "callEnd"
)

// Outbound event types.
const (
	TypeFriendsList     = "friendsList"
	TypeFriendAdded     = "friendAdded"
	TypeFriendAddFailed = "friendAddFailed"
	TypeConversation    = "conversation"
	TypeFriendOnline    = "friendOnline"
	TypeFriendOffline   = "friendOffline"
	TypeIncomingCall    = "incomingCall"
	TypeCallAccepted    = "callAccepted"
	TypeCallEnded       = "callEnded"
	TypeSession         = "session"
	TypeError           = "error"
)

// Call kinds carried by callInitiate.
const (
	CallKindAudio = "audio"
	CallKindVideo = "video"
)

var ErrMalformedFrame = errors.New("protocol: malformed frame")

// Envelope is a decoded inbound frame.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Decode parses one inbound frame. Only the envelope is validated here.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env, nil
}

// Bind unmarshals the payload into v. An absent payload leaves v untouched,
// which is what payload-less events such as logout expect.
func (e Envelope) Bind(v any) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformedFrame, e.Type, err)
	}
	return nil
}

// Event is an outbound frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Encode serialises an outbound event.
func Encode(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// =========================================================================
// INBOUND PAYLOADS
// =========================================================================

type LoginPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName"`
}

type GetFriendsPayload struct {
	Identity string `json:"identity"`
}

type AddFriendPayload struct {
	RequesterIdentity string `json:"requesterIdentity"`
	TargetIdentity    string `json:"targetIdentity"`
}

type GetMessagesPayload struct {
	IdentityA string `json:"identityA"`
	IdentityB string `json:"identityB"`
}

type SendMessagePayload struct {
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Body     string `json:"body"`
	// ClientTimestamp is display-only, so it stays raw: a value that does not
	// parse is ignored rather than failing the whole frame.
	ClientTimestamp json.RawMessage `json:"clientTimestamp,omitempty"`
}

// ClientTime reads ClientTimestamp as Unix milliseconds (Date.now(), number
// or numeric string) or an RFC 3339 string (toISOString()). Anything else,
// including an absent value, yields the zero time.
func (p SendMessagePayload) ClientTime() time.Time {
	raw := strings.TrimSpace(string(p.ClientTimestamp))
	if raw == "" || raw == "null" {
		return time.Time{}
	}

	var ms float64
	if err := json.Unmarshal(p.ClientTimestamp, &ms); err == nil {
		return fromMillis(int64(ms))
	}

	var text string
	if err := json.Unmarshal(p.ClientTimestamp, &text); err != nil {
		return time.Time{}
	}
	text = strings.TrimSpace(text)
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return fromMillis(n)
	}
	if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func fromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

type SignalingAddressPayload struct {
	Identity string `json:"identity"`
	Address  string `json:"address"`
}

type CallInitiatePayload struct {
	CallerIdentity    string `json:"callerIdentity"`
	CallerDisplayName string `json:"callerDisplayName"`
	ReceiverIdentity  string `json:"receiverIdentity"`
	CallKind          string `json:"callKind"`
}

type CallAcceptPayload struct {
	CallerIdentity   string `json:"callerIdentity"`
	AccepterIdentity string `json:"accepterIdentity"`
}

type CallEndPayload struct {
	TargetIdentity string `json:"targetIdentity"`
	SourceIdentity string `json:"sourceIdentity"`
}

// =========================================================================
// OUTBOUND PAYLOADS
// =========================================================================

type FriendsListPayload struct {
	Entries []model.FriendStatus `json:"entries"`
}

type FriendPayload struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
}

type ReasonPayload struct {
	Reason string `json:"reason"`
}

type ConversationPayload struct {
	PeerIdentity string          `json:"peerIdentity"`
	Messages     []model.Message `json:"messages"`
}

type IncomingCallPayload struct {
	CallerIdentity         string `json:"callerIdentity"`
	CallerDisplayName      string `json:"callerDisplayName"`
	CallKind               string `json:"callKind"`
	CallerSignalingAddress string `json:"callerSignalingAddress,omitempty"`
}

type CallAcceptedPayload struct {
	AccepterIdentity string `json:"accepterIdentity"`
}

type CallEndedPayload struct {
	SourceIdentity string `json:"sourceIdentity"`
}

type SessionPayload struct {
	Identity string `json:"identity"`
	Token    string `json:"token"`
}

func FriendsList(entries []model.FriendStatus) Event {
	if entries == nil {
		entries = []model.FriendStatus{}
	}
	return Event{Type: TypeFriendsList, Payload: FriendsListPayload{Entries: entries}}
}

func FriendAdded(identity, displayName string) Event {
	return Event{Type: TypeFriendAdded, Payload: FriendPayload{Identity: identity, DisplayName: displayName}}
}

func FriendAddFailed(reason string) Event {
	return Event{Type: TypeFriendAddFailed, Payload: ReasonPayload{Reason: reason}}
}

func Conversation(peer string, msgs []model.Message) Event {
	if msgs == nil {
		msgs = []model.Message{}
	}
	return Event{Type: TypeConversation, Payload: ConversationPayload{PeerIdentity: peer, Messages: msgs}}
}

func FriendOnline(identity, displayName string) Event {
	return Event{Type: TypeFriendOnline, Payload: FriendPayload{Identity: identity, DisplayName: displayName}}
}

func FriendOffline(identity string) Event {
	return Event{Type: TypeFriendOffline, Payload: FriendPayload{Identity: identity}}
}

func IncomingCall(callerIdentity, callerDisplayName, callKind, callerAddress string) Event {
	return Event{Type: TypeIncomingCall, Payload: IncomingCallPayload{
		CallerIdentity:         callerIdentity,
		CallerDisplayName:      callerDisplayName,
		CallKind:               callKind,
		CallerSignalingAddress: callerAddress,
	}}
}

func CallAccepted(accepterIdentity string) Event {
	return Event{Type: TypeCallAccepted, Payload: CallAcceptedPayload{AccepterIdentity: accepterIdentity}}
}

func CallEnded(sourceIdentity string) Event {
	return Event{Type: TypeCallEnded, Payload: CallEndedPayload{SourceIdentity: sourceIdentity}}
}

func Session(identity, token string) Event {
	return Event{Type: TypeSession, Payload: SessionPayload{Identity: identity, Token: token}}
}

func Error(reason string) Event {
	return Event{Type: TypeError, Payload: ReasonPayload{Reason: reason}}
}
