package proto

import "encoding/json"

// Handshake literals. The authentication reply is a bare line, not a JSON
// envelope; this asymmetry is limited to the handshake.
const (
	AuthSuccess = "AUTH_SUCCESS"
	AuthFailed  = "AUTH_FAILED"
)

// Type tags an envelope with its meaning. The set is closed: anything else
// on the wire is a protocol error answered with TypeError.
type Type string

const (
	TypeChat          Type = "CHAT"
	TypeAcknowledge   Type = "ACKNOWLEDGE"
	TypeLogout        Type = "LOGOUT"
	TypeLogoutConfirm Type = "LOGOUT_CONFIRM"
	TypePing          Type = "PING"
	TypeStatusUpdate  Type = "STATUS_UPDATE"
	TypeConfirmation  Type = "CONFIRMATION"
	TypeError         Type = "ERROR"
)

// Valid reports whether t is one of the known envelope types.
func (t Type) Valid() bool {
	switch t {
	case TypeChat, TypeAcknowledge, TypeLogout, TypeLogoutConfirm,
		TypePing, TypeStatusUpdate, TypeConfirmation, TypeError:
		return true
	}
	return false
}

// Delivery outcomes carried in the status field of confirmations.
const (
	StatusDelivered = "delivered"
	StatusQueued    = "queued"
)

// Online states carried in the status field of status updates.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Credentials is the first line a client sends after connecting.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Envelope is one newline-delimited JSON unit exchanged over a session.
// Exactly one of ReceiverID/GroupID is set on a CHAT envelope.
type Envelope struct {
	ID         string `json:"id,omitempty"`
	Type       Type   `json:"type"`
	SenderID   int64  `json:"senderId,omitempty"`
	ReceiverID int64  `json:"receiverId,omitempty"`
	GroupID    int64  `json:"groupId,omitempty"`
	Content    string `json:"content,omitempty"`
	Timestamp  int64  `json:"timestamp,omitempty"`
	Status     string `json:"status,omitempty"`
}

// Encode renders the envelope as a single JSON line without the trailing
// newline; the transport appends it.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses one wire line into an envelope. The type tag is not
// validated here; the session dispatch loop owns that decision.
func Decode(line []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(line, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
