package models

import (
	"encoding/json"
	"testing"
)

func TestValidateRejectsUnknownType(t *testing.T) {
	env := &Envelope{Type: "definitely_not_a_thing"}
	if err := env.Validate(); err == nil {
		t.Fatalf("expected error for unknown type")
	}
}

func TestValidateRejectsServerOnlyTypes(t *testing.T) {
	for _, typ := range []MessageType{TypeSessionStarted, TypeParticipantJoined, TypeCurrentParticipants, TypeConnected, TypeError} {
		env := &Envelope{Type: typ}
		if err := env.Validate(); err == nil {
			t.Fatalf("server-only type %s accepted from client", typ)
		}
	}
}

func TestValidatePerTypeRequirements(t *testing.T) {
	cases := []struct {
		name    string
		env     Envelope
		wantErr bool
	}{
		{"join with role", Envelope{Type: TypeJoinSession, Role: RoleSeeker}, false},
		{"join without role", Envelope{Type: TypeJoinSession}, true},
		{"join with bogus role", Envelope{Type: TypeJoinSession, Role: "admin"}, true},
		{"offer with sdp", Envelope{Type: TypeVideoOffer, SDP: json.RawMessage(`"x"`)}, false},
		{"offer without sdp", Envelope{Type: TypeVideoOffer}, true},
		{"answer without sdp", Envelope{Type: TypeVideoAnswer}, true},
		{"candidate with payload", Envelope{Type: TypeNewICECandidate, Candidate: json.RawMessage(`{}`)}, false},
		{"candidate without payload", Envelope{Type: TypeNewICECandidate}, true},
		{"chat with text", Envelope{Type: TypeChat, Text: "hi"}, false},
		{"chat without text", Envelope{Type: TypeChat}, true},
		{"end", Envelope{Type: TypeSessionEnded}, false},
		{"accept", Envelope{Type: TypeAcceptSession}, false},
	}
	for _, tc := range cases {
		err := tc.env.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("provider"); err != nil || r != RoleProvider {
		t.Fatalf("ParseRole(provider) = %v, %v", r, err)
	}
	if _, err := ParseRole("therapist"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}
