package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType selects one of the enumerated signaling message kinds.
type MessageType string

const (
	TypeJoinSession         MessageType = "join_session"
	TypeStartSession        MessageType = "start_session"
	TypeSessionStarted      MessageType = "session_started"
	TypeAcceptSession       MessageType = "accept_session"
	TypeSessionAccepted     MessageType = "session_accepted"
	TypeRejectSession       MessageType = "reject_session"
	TypeSessionRejected     MessageType = "session_rejected"
	TypeVideoOffer          MessageType = "video_offer"
	TypeVideoAnswer         MessageType = "video_answer"
	TypeNewICECandidate     MessageType = "new_ice_candidate"
	TypeChat                MessageType = "chat"
	TypeParticipantJoined   MessageType = "participant_joined"
	TypeCurrentParticipants MessageType = "current_participants"
	TypeParticipantLeft     MessageType = "participant_left"
	TypeSessionEnded        MessageType = "session_ended"
	TypeConnected           MessageType = "connected"
	TypeError               MessageType = "error"
)

// Role fixes which side of a session a connection occupies. The provider
// always initiates call negotiation.
type Role string

const (
	RoleSeeker   Role = "seeker"
	RoleProvider Role = "provider"
)

// ParseRole validates a role string from the wire.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleSeeker, RoleProvider:
		return Role(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Envelope is the single wire format for all client/server messages.
// Only the fields relevant to a given Type are populated; Validate
// enforces the per-type requirements at the boundary.
type Envelope struct {
	Type         MessageType     `json:"type"`
	SessionID    string          `json:"sessionId,omitempty"`
	Role         Role            `json:"role,omitempty"`
	DisplayName  string          `json:"displayName,omitempty"`
	Sender       string          `json:"sender,omitempty"`
	SDP          json.RawMessage `json:"sdp,omitempty"`
	Candidate    json.RawMessage `json:"candidate,omitempty"`
	Text         string          `json:"text,omitempty"`
	Seq          uint64          `json:"seq,omitempty"`
	State        string          `json:"state,omitempty"`
	Participants []Participant   `json:"participants,omitempty"`
	Reason       string          `json:"reason,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Participant is a registry entry as seen by clients.
type Participant struct {
	ConnectionID string    `json:"connectionId"`
	Role         Role      `json:"role"`
	DisplayName  string    `json:"displayName"`
	JoinedAt     time.Time `json:"joinedAt"`
}

var clientTypes = map[MessageType]bool{
	TypeJoinSession:     true,
	TypeStartSession:    true,
	TypeAcceptSession:   true,
	TypeRejectSession:   true,
	TypeVideoOffer:      true,
	TypeVideoAnswer:     true,
	TypeNewICECandidate: true,
	TypeChat:            true,
	TypeSessionEnded:    true,
}

// Validate rejects malformed or unknown envelopes before they reach the
// room actor. Only client-originated types are accepted here.
func (e *Envelope) Validate() error {
	if !clientTypes[e.Type] {
		return fmt.Errorf("unknown or server-only message type %q", e.Type)
	}
	switch e.Type {
	case TypeJoinSession:
		if _, err := ParseRole(string(e.Role)); err != nil {
			return fmt.Errorf("join_session: %w", err)
		}
	case TypeVideoOffer, TypeVideoAnswer:
		if len(e.SDP) == 0 {
			return fmt.Errorf("%s: missing sdp", e.Type)
		}
	case TypeNewICECandidate:
		if len(e.Candidate) == 0 {
			return fmt.Errorf("new_ice_candidate: missing candidate")
		}
	case TypeChat:
		if e.Text == "" {
			return fmt.Errorf("chat: missing text")
		}
	}
	return nil
}

// ErrorEnvelope builds an error reply for a session.
func ErrorEnvelope(sessionID, msg string) *Envelope {
	return &Envelope{Type: TypeError, SessionID: sessionID, Error: msg}
}
