package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/DepressionHub/session-relay/internal/models"
)

// State is the call state of the local peer.
type State int

const (
	StateIdle State = iota
	StateAcquiringMedia
	StateOffering
	StateAnswering
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAcquiringMedia:
		return "ACQUIRING_MEDIA"
	case StateOffering:
		return "OFFERING"
	case StateAnswering:
		return "ANSWERING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// MediaSource owns exclusive local capture devices. Acquire hands out
// the tracks to publish; Release must be safe to call on every exit
// path, including error paths.
type MediaSource interface {
	Acquire(ctx context.Context) ([]webrtc.TrackLocal, error)
	Release()
}

// rtcPeer is the subset of *webrtc.PeerConnection the manager drives;
// narrowed so tests can substitute a fake.
type rtcPeer interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(options *webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(f func(*webrtc.ICECandidate))
	OnConnectionStateChange(f func(webrtc.PeerConnectionState))
	Close() error
}

// Manager owns the local media and the peer-to-peer connection for one
// session, driven by envelopes from the relay. The provider offers as
// soon as the session starts and media is acquired; the seeker waits
// for the offer and answers.
type Manager struct {
	role        models.Role
	sessionID   string
	displayName string
	sig         *SignalingClient
	media       MediaSource
	newPeer     func() (rtcPeer, error)

	mu           sync.Mutex
	state        State
	pc           rtcPeer
	pendingOffer *webrtc.SessionDescription
	// Candidates that arrived before the remote description; applied,
	// never discarded, once it is set.
	pendingCandidates []webrtc.ICECandidateInit
	remoteSet         bool
}

func NewManager(sig *SignalingClient, role models.Role, sessionID, displayName string, media MediaSource, stunServer string) *Manager {
	return &Manager{
		role:        role,
		sessionID:   sessionID,
		displayName: displayName,
		sig:         sig,
		media:       media,
		newPeer: func() (rtcPeer, error) {
			return webrtc.NewPeerConnection(webrtc.Configuration{
				ICEServers: []webrtc.ICEServer{{URLs: []string{stunServer}}},
			})
		},
	}
}

// State returns the current call state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Run drives the manager until ctx is cancelled or the signaling
// transport is permanently gone. Media is released before returning.
func (m *Manager) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- m.sig.Run(ctx) }()

	defer m.Close()

	for {
		select {
		case env := <-m.sig.Incoming():
			m.handle(ctx, env)
		case err := <-errc:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *Manager) handle(ctx context.Context, env *models.Envelope) {
	switch env.Type {
	case models.TypeConnected:
		log.Printf("connected to relay as %s", env.Sender)
	case models.TypeCurrentParticipants:
		log.Printf("session %s state %s with %d participant(s)", env.SessionID, env.State, len(env.Participants))
	case models.TypeParticipantJoined:
		log.Printf("%s joined as %s", env.DisplayName, env.Role)
	case models.TypeSessionStarted:
		m.startCall(ctx)
	case models.TypeVideoOffer:
		m.onOffer(ctx, env)
	case models.TypeVideoAnswer:
		m.onAnswer(env)
	case models.TypeNewICECandidate:
		m.onCandidate(env)
	case models.TypeChat:
		log.Printf("[chat %d] %s: %s", env.Seq, env.Sender, env.Text)
	case models.TypeParticipantLeft:
		if env.Reason == "replaced" {
			// Another connection took over our role; stand down.
			log.Printf("displaced by a same-role rejoin, closing call")
			m.Close()
		} else {
			log.Printf("%s left the session", env.Role)
		}
	case models.TypeSessionRejected:
		log.Printf("session rejected")
		m.Close()
	case models.TypeSessionEnded:
		log.Printf("session ended: %s", env.Reason)
		m.Close()
	case models.TypeError:
		log.Printf("relay error: %s", env.Error)
	default:
		log.Printf("ignoring message type %s", env.Type)
	}
}

// startCall acquires media and builds the peer connection. Acquisition
// can take a while, so it runs off the receive loop; an offer that
// arrives meanwhile is parked in pendingOffer.
func (m *Manager) startCall(ctx context.Context) {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return
	}
	m.state = StateAcquiringMedia
	m.mu.Unlock()

	go func() {
		if err := m.setupPeer(ctx); err != nil {
			log.Printf("call setup failed: %v", err)
			m.Close()
			return
		}

		m.mu.Lock()
		if m.state == StateClosed {
			// Close ran while setup was in flight; the connection it
			// could not see must not leak.
			pc := m.pc
			m.pc = nil
			m.mu.Unlock()
			if pc != nil {
				pc.Close()
			}
			return
		}
		if m.role == models.RoleProvider {
			m.state = StateOffering
			m.mu.Unlock()
			if err := m.sendOffer(); err != nil {
				log.Printf("offer failed: %v", err)
				m.Close()
			}
			return
		}
		m.state = StateAnswering
		offer := m.pendingOffer
		m.pendingOffer = nil
		m.mu.Unlock()

		if offer != nil {
			if err := m.answer(*offer); err != nil {
				log.Printf("answer failed: %v", err)
				m.Close()
			}
		}
	}()
}

func (m *Manager) setupPeer(ctx context.Context) error {
	tracks, err := m.media.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire media: %w", err)
	}

	pc, err := m.newPeer()
	if err != nil {
		m.media.Release()
		return fmt.Errorf("create peer connection: %w", err)
	}

	for _, t := range tracks {
		if _, err := pc.AddTrack(t); err != nil {
			pc.Close()
			m.media.Release()
			return fmt.Errorf("add track: %w", err)
		}
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		data, err := json.Marshal(c.ToJSON())
		if err != nil {
			log.Printf("failed to marshal ICE candidate: %v", err)
			return
		}
		m.sig.Send(&models.Envelope{
			Type:      models.TypeNewICECandidate,
			SessionID: m.sessionID,
			Candidate: data,
		})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Printf("peer connection state: %s", s)
		if s == webrtc.PeerConnectionStateConnected {
			m.mu.Lock()
			if m.state != StateClosed {
				m.state = StateConnected
			}
			m.mu.Unlock()
		}
	})

	m.mu.Lock()
	m.pc = pc
	m.mu.Unlock()
	return nil
}

func (m *Manager) sendOffer() error {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("call already closed")
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return err
	}
	data, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	m.sig.Send(&models.Envelope{
		Type:      models.TypeVideoOffer,
		SessionID: m.sessionID,
		SDP:       data,
	})
	return nil
}

func (m *Manager) onOffer(ctx context.Context, env *models.Envelope) {
	if m.role != models.RoleSeeker {
		log.Printf("unexpected offer for role %s, ignoring", m.role)
		return
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(env.SDP, &desc); err != nil {
		log.Printf("failed to parse offer: %v", err)
		return
	}

	m.mu.Lock()
	if m.pc == nil {
		// Offer beat the session_started handling (or media is still
		// being acquired); park it and kick off setup.
		m.pendingOffer = &desc
		idle := m.state == StateIdle
		m.mu.Unlock()
		if idle {
			m.startCall(ctx)
		}
		return
	}
	m.mu.Unlock()

	if err := m.answer(desc); err != nil {
		log.Printf("answer failed: %v", err)
		m.Close()
	}
}

func (m *Manager) answer(offer webrtc.SessionDescription) error {
	if err := m.setRemote(offer); err != nil {
		return err
	}

	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("call already closed")
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return err
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return err
	}
	data, err := json.Marshal(answer)
	if err != nil {
		return err
	}
	m.sig.Send(&models.Envelope{
		Type:      models.TypeVideoAnswer,
		SessionID: m.sessionID,
		SDP:       data,
	})
	return nil
}

func (m *Manager) onAnswer(env *models.Envelope) {
	if m.role != models.RoleProvider {
		log.Printf("unexpected answer for role %s, ignoring", m.role)
		return
	}
	var desc webrtc.SessionDescription
	if err := json.Unmarshal(env.SDP, &desc); err != nil {
		log.Printf("failed to parse answer: %v", err)
		return
	}
	if err := m.setRemote(desc); err != nil {
		log.Printf("failed to apply answer: %v", err)
		m.Close()
	}
}

// setRemote applies the remote description and flushes any candidates
// that arrived before it.
func (m *Manager) setRemote(desc webrtc.SessionDescription) error {
	m.mu.Lock()
	pc := m.pc
	m.mu.Unlock()
	if pc == nil {
		return fmt.Errorf("no peer connection")
	}

	if err := pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}

	m.mu.Lock()
	m.remoteSet = true
	buffered := m.pendingCandidates
	m.pendingCandidates = nil
	m.mu.Unlock()

	for _, cand := range buffered {
		if err := pc.AddICECandidate(cand); err != nil {
			log.Printf("failed to apply buffered ICE candidate: %v", err)
		}
	}
	return nil
}

func (m *Manager) onCandidate(env *models.Envelope) {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(env.Candidate, &cand); err != nil {
		log.Printf("failed to parse ICE candidate: %v", err)
		return
	}

	m.mu.Lock()
	if m.pc == nil || !m.remoteSet {
		m.pendingCandidates = append(m.pendingCandidates, cand)
		m.mu.Unlock()
		return
	}
	pc := m.pc
	m.mu.Unlock()

	if err := pc.AddICECandidate(cand); err != nil {
		log.Printf("failed to add ICE candidate: %v", err)
	}
}

// Close tears down the peer connection and releases the media device.
// Idempotent.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	acquired := m.state != StateIdle
	m.state = StateClosed
	pc := m.pc
	m.pc = nil
	m.pendingOffer = nil
	m.pendingCandidates = nil
	m.remoteSet = false
	m.mu.Unlock()

	if pc != nil {
		pc.Close()
	}
	if acquired {
		m.media.Release()
	}
}
