package model

// Friend is one side of a persisted friendship as seen from the owner of the
// friend list: the other identity and its stored display name.
type Friend struct {
	Identity    string `json:"identity"    db:"identity"`
	DisplayName string `json:"displayName" db:"display_name"`
}

// FriendStatus joins a persisted Friend with live presence. SignalingAddress
// is only set while the friend is online and has published one.
type FriendStatus struct {
	Identity         string `json:"identity"`
	DisplayName      string `json:"displayName"`
	Online           bool   `json:"online"`
	SignalingAddress string `json:"signalingAddress,omitempty"`
}
