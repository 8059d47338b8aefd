package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/DepressionHub/session-relay/internal/models"
	"github.com/DepressionHub/session-relay/internal/session"
)

func newSignalingServer(t *testing.T) (*httptest.Server, *session.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := session.NewRegistry("therapy-session-", session.Settings{
		GracePeriod:    time.Second,
		WaitingTimeout: 0,
	})

	router := gin.New()
	router.GET("/ws/session/:sessionId", HandleSignaling(registry))
	router.GET("/api/sessions/:sessionId", GetSession(registry))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, registry
}

func dialSession(t *testing.T, srv *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session/" + sessionID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEnvelope reads until a message of the wanted type arrives,
// skipping unrelated notifications.
func readEnvelope(t *testing.T, conn *websocket.Conn, want models.MessageType) *models.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var env models.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("waiting for %s: %v", want, err)
		}
		if env.Type == want {
			return &env
		}
	}
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, env *models.Envelope) {
	t.Helper()
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write %s: %v", env.Type, err)
	}
}

func TestJoinHandshake(t *testing.T) {
	srv, _ := newSignalingServer(t)
	conn := dialSession(t, srv, "r1")

	hello := readEnvelope(t, conn, models.TypeConnected)
	if hello.SessionID != "r1" || hello.Sender == "" {
		t.Fatalf("bad connected envelope: %+v", hello)
	}

	sendEnvelope(t, conn, &models.Envelope{
		Type:        models.TypeJoinSession,
		Role:        models.RoleSeeker,
		DisplayName: "Sam",
	})

	snap := readEnvelope(t, conn, models.TypeCurrentParticipants)
	if snap.State != "WAITING" || len(snap.Participants) != 1 {
		t.Fatalf("bad snapshot: %+v", snap)
	}
	if snap.Participants[0].Role != models.RoleSeeker || snap.Participants[0].DisplayName != "Sam" {
		t.Fatalf("bad participant: %+v", snap.Participants[0])
	}
}

func TestFullSessionFlow(t *testing.T) {
	srv, _ := newSignalingServer(t)

	seeker := dialSession(t, srv, "r2")
	provider := dialSession(t, srv, "r2")

	sendEnvelope(t, seeker, &models.Envelope{Type: models.TypeJoinSession, Role: models.RoleSeeker, DisplayName: "Sam"})
	readEnvelope(t, seeker, models.TypeCurrentParticipants)

	sendEnvelope(t, provider, &models.Envelope{Type: models.TypeJoinSession, Role: models.RoleProvider, DisplayName: "Dr. P"})

	readEnvelope(t, seeker, models.TypeSessionStarted)
	readEnvelope(t, provider, models.TypeSessionStarted)

	// Provider initiates; the offer arrives at the seeker verbatim.
	sendEnvelope(t, provider, &models.Envelope{Type: models.TypeVideoOffer, SDP: json.RawMessage(`"the-offer"`)})
	offer := readEnvelope(t, seeker, models.TypeVideoOffer)
	if string(offer.SDP) != `"the-offer"` {
		t.Fatalf("offer not relayed verbatim: %s", offer.SDP)
	}

	sendEnvelope(t, seeker, &models.Envelope{Type: models.TypeVideoAnswer, SDP: json.RawMessage(`"the-answer"`)})
	answer := readEnvelope(t, provider, models.TypeVideoAnswer)
	if string(answer.SDP) != `"the-answer"` {
		t.Fatalf("answer not relayed verbatim: %s", answer.SDP)
	}

	sendEnvelope(t, seeker, &models.Envelope{Type: models.TypeChat, Text: "hello"})
	chat := readEnvelope(t, provider, models.TypeChat)
	if chat.Text != "hello" || chat.Sender != "Sam" || chat.Seq == 0 {
		t.Fatalf("bad chat envelope: %+v", chat)
	}

	// Introspection sees the live room.
	resp, err := http.Get(srv.URL + "/api/sessions/r2")
	if err != nil {
		t.Fatalf("introspection request: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var snap session.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	resp.Body.Close()
	if snap.State != "ACTIVE" || len(snap.Participants) != 2 {
		t.Fatalf("bad snapshot: %+v", snap)
	}

	// Either side can end; both hear about it.
	sendEnvelope(t, provider, &models.Envelope{Type: models.TypeSessionEnded})
	readEnvelope(t, seeker, models.TypeSessionEnded)
	readEnvelope(t, provider, models.TypeSessionEnded)

	// The room is gone.
	resp, err = http.Get(srv.URL + "/api/sessions/r2")
	if err != nil {
		t.Fatalf("introspection request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after end, got %d", resp.StatusCode)
	}

	// Further signaling against the ended session is rejected.
	sendEnvelope(t, provider, &models.Envelope{Type: models.TypeVideoOffer, SDP: json.RawMessage(`"too-late"`)})
	errEnv := readEnvelope(t, provider, models.TypeError)
	if errEnv.Error != "session not found" {
		t.Fatalf("expected session not found, got %q", errEnv.Error)
	}
}

func TestMalformedMessagesIgnored(t *testing.T) {
	srv, _ := newSignalingServer(t)
	conn := dialSession(t, srv, "r3")
	readEnvelope(t, conn, models.TypeConnected)

	// Unparseable payload, then an unknown type: both logged and
	// ignored, connection stays open.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	sendEnvelope(t, conn, &models.Envelope{Type: "mystery_type"})

	sendEnvelope(t, conn, &models.Envelope{Type: models.TypeJoinSession, Role: models.RoleSeeker, DisplayName: "Sam"})
	snap := readEnvelope(t, conn, models.TypeCurrentParticipants)
	if len(snap.Participants) != 1 {
		t.Fatalf("join after malformed input failed: %+v", snap)
	}
}

func TestSignalingBeforeJoinRejected(t *testing.T) {
	srv, _ := newSignalingServer(t)
	conn := dialSession(t, srv, "r4")
	readEnvelope(t, conn, models.TypeConnected)

	sendEnvelope(t, conn, &models.Envelope{Type: models.TypeChat, Text: "anyone?"})
	errEnv := readEnvelope(t, conn, models.TypeError)
	if errEnv.Error != "join_session required" {
		t.Fatalf("expected join_session required, got %q", errEnv.Error)
	}
}
