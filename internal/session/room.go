package session

import (
	"log"
	"sort"
	"time"

	"github.com/DepressionHub/session-relay/internal/metrics"
	"github.com/DepressionHub/session-relay/internal/models"
)

// Sender is the outbound half of a participant connection. Send must not
// block; the websocket handler backs it with a buffered channel.
type Sender interface {
	ID() string
	Send(env *models.Envelope)
}

// Settings are the room timing knobs.
type Settings struct {
	// GracePeriod is how long a vacated role may stay empty before the
	// room is torn down. Rejoin of the same role cancels it.
	GracePeriod time.Duration

	// WaitingTimeout expires a room stuck in WAITING with only one
	// participant. Zero disables it.
	WaitingTimeout time.Duration
}

type member struct {
	conn        Sender
	role        models.Role
	displayName string
	joinedAt    time.Time
	joinSeq     uint64
}

// Room pairs one seeker and one provider and relays signaling and chat
// between them. All state below inbox is owned by the run goroutine;
// everything reaches it through posted events, so joins, leaves and
// relays for one room are strictly serialized.
type Room struct {
	SessionID string

	key      string
	reg      *Registry
	settings Settings

	inbox chan event
	done  chan struct{}

	state       State
	members     map[models.Role]*member
	chatSeq     uint64
	joinSeq     uint64
	graceTimers map[models.Role]*time.Timer
	waitTimer   *time.Timer
}

type event interface{}

type joinEvent struct {
	conn Sender
	role models.Role
	name string
}

type leaveEvent struct {
	connID string
}

type messageEvent struct {
	connID string
	env    *models.Envelope
}

type graceEvent struct {
	role models.Role
}

type waitingEvent struct{}

type snapshotEvent struct {
	reply chan Snapshot
}

// Snapshot is a point-in-time view of a room for introspection.
type Snapshot struct {
	SessionID    string               `json:"sessionId"`
	State        string               `json:"state"`
	Participants []models.Participant `json:"participants"`
}

func newRoom(sessionID, key string, reg *Registry, settings Settings) *Room {
	r := &Room{
		SessionID:   sessionID,
		key:         key,
		reg:         reg,
		settings:    settings,
		inbox:       make(chan event, 64),
		done:        make(chan struct{}),
		state:       StateWaiting,
		members:     make(map[models.Role]*member),
		graceTimers: make(map[models.Role]*time.Timer),
	}
	if settings.WaitingTimeout > 0 {
		r.waitTimer = time.AfterFunc(settings.WaitingTimeout, func() {
			r.post(waitingEvent{})
		})
	}
	return r
}

func (r *Room) run() {
	for {
		select {
		case ev := <-r.inbox:
			r.handle(ev)
			if r.state == StateEnded {
				return
			}
		case <-r.done:
			return
		}
	}
}

// post delivers an event to the room actor. Returns false once the room
// has ended. The done check runs before the blocking select: the inbox
// stays writable after the run goroutine exits, so without it a send
// could win the race against the closed done channel and be swallowed.
func (r *Room) post(ev event) bool {
	select {
	case <-r.done:
		return false
	default:
	}
	select {
	case r.inbox <- ev:
		return true
	case <-r.done:
		return false
	}
}

// Closed reports whether the room has ended and left the registry.
func (r *Room) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Join registers a connection for a role. A same-role join from another
// connection evicts the prior holder.
func (r *Room) Join(conn Sender, role models.Role, displayName string) bool {
	return r.post(joinEvent{conn: conn, role: role, name: displayName})
}

// Leave removes the matching participant. Unknown connections are a
// no-op since disconnect races are expected.
func (r *Room) Leave(connID string) bool {
	return r.post(leaveEvent{connID: connID})
}

// Deliver hands a validated client envelope to the room actor.
func (r *Room) Deliver(connID string, env *models.Envelope) bool {
	return r.post(messageEvent{connID: connID, env: env})
}

// Snapshot returns the current state and participant list, ordered by
// join time. The round trip through the actor also serves as a barrier:
// all previously posted events have been applied when it returns.
func (r *Room) Snapshot() (Snapshot, bool) {
	reply := make(chan Snapshot, 1)
	if !r.post(snapshotEvent{reply: reply}) {
		return Snapshot{}, false
	}
	select {
	case s := <-reply:
		return s, true
	case <-r.done:
		return Snapshot{}, false
	}
}

func (r *Room) handle(ev event) {
	switch ev := ev.(type) {
	case joinEvent:
		r.handleJoin(ev)
	case leaveEvent:
		r.handleLeave(ev)
	case messageEvent:
		r.handleMessage(ev)
	case graceEvent:
		if r.members[ev.role] == nil {
			log.Printf("room %s: grace period expired for role %s, ending", r.key, ev.role)
			r.endSession("grace period expired")
		}
	case waitingEvent:
		if r.state == StateWaiting {
			log.Printf("room %s: no match within waiting timeout, ending", r.key)
			r.endSession("matching timeout")
		}
	case snapshotEvent:
		ev.reply <- r.snapshot()
	}
}

func (r *Room) handleJoin(ev joinEvent) {
	// A connection re-announcing under the other role vacates its old
	// slot first; one connection must never hold both.
	if existing := r.memberByConn(ev.conn.ID()); existing != nil && existing.role != ev.role {
		r.handleLeave(leaveEvent{connID: ev.conn.ID()})
	}

	// A role rejoining within its grace window is a reconnect, not a new
	// participant; the counterpart must not see a duplicate join notice.
	graceArmed := r.graceTimers[ev.role] != nil
	if graceArmed {
		r.graceTimers[ev.role].Stop()
		delete(r.graceTimers, ev.role)
	}

	prev := r.members[ev.role]
	if prev != nil && prev.conn.ID() == ev.conn.ID() {
		// Same connection re-announcing itself; just refresh the name.
		prev.displayName = ev.name
		ev.conn.Send(r.participantsEnvelope())
		return
	}

	if prev != nil {
		// Role conflict resolves by eviction: the new claimant wins and
		// the prior holder is told so its client can react.
		prev.conn.Send(&models.Envelope{
			Type:      models.TypeParticipantLeft,
			SessionID: r.SessionID,
			Sender:    prev.conn.ID(),
			Role:      ev.role,
			Reason:    "replaced",
		})
		metrics.Evictions.Inc()
		log.Printf("room %s: %s evicted by same-role rejoin", r.key, prev.conn.ID())
	}

	r.joinSeq++
	r.members[ev.role] = &member{
		conn:        ev.conn,
		role:        ev.role,
		displayName: ev.name,
		joinedAt:    time.Now(),
		joinSeq:     r.joinSeq,
	}

	// Snapshot for the joiner so a late or reconnecting client can
	// reconcile state.
	ev.conn.Send(r.participantsEnvelope())

	// Announced on fresh joins and on evictions, so the counterpart's
	// participant view tracks the current role holder.
	if !graceArmed {
		r.broadcast(&models.Envelope{
			Type:        models.TypeParticipantJoined,
			SessionID:   r.SessionID,
			Sender:      ev.conn.ID(),
			Role:        ev.role,
			DisplayName: ev.name,
		}, ev.conn.ID())
	}

	if r.state == StateWaiting && len(r.members) == 2 {
		r.setState(StateReady)
		if r.waitTimer != nil {
			r.waitTimer.Stop()
			r.waitTimer = nil
		}
		r.broadcast(&models.Envelope{
			Type:      models.TypeSessionStarted,
			SessionID: r.SessionID,
			State:     r.state.String(),
		}, "")
	}
}

func (r *Room) handleLeave(ev leaveEvent) {
	m := r.memberByConn(ev.connID)
	if m == nil {
		return
	}
	delete(r.members, m.role)
	r.broadcast(&models.Envelope{
		Type:      models.TypeParticipantLeft,
		SessionID: r.SessionID,
		Sender:    ev.connID,
		Role:      m.role,
		Reason:    "left",
	}, "")

	// Teardown is deferred by a grace period to tolerate brief network
	// blips; a same-role rejoin cancels the timer.
	role := m.role
	if t := r.graceTimers[role]; t != nil {
		t.Stop()
	}
	r.graceTimers[role] = time.AfterFunc(r.settings.GracePeriod, func() {
		r.post(graceEvent{role: role})
	})
}

func (r *Room) handleMessage(ev messageEvent) {
	m := r.memberByConn(ev.connID)
	if m == nil {
		// Evicted or never-joined connection; expected during races.
		log.Printf("room %s: dropping %s from unknown connection %s", r.key, ev.env.Type, ev.connID)
		return
	}

	switch ev.env.Type {
	case models.TypeVideoOffer:
		if r.state == StateReady && m.role == models.RoleProvider {
			r.setState(StateNegotiating)
		}
		r.relay(m, ev.env)
	case models.TypeVideoAnswer:
		if r.state == StateNegotiating && m.role == models.RoleSeeker {
			r.setState(StateActive)
		}
		r.relay(m, ev.env)
	case models.TypeNewICECandidate:
		r.relay(m, ev.env)
	case models.TypeStartSession:
		if m.role == models.RoleSeeker {
			r.relay(m, ev.env)
		}
	case models.TypeAcceptSession:
		out := *ev.env
		out.Type = models.TypeSessionAccepted
		r.relay(m, &out)
	case models.TypeRejectSession:
		out := *ev.env
		out.Type = models.TypeSessionRejected
		r.relay(m, &out)
		r.endRoom()
	case models.TypeChat:
		r.chatSeq++
		r.broadcast(&models.Envelope{
			Type:      models.TypeChat,
			SessionID: r.SessionID,
			Sender:    m.displayName,
			Role:      m.role,
			Text:      ev.env.Text,
			Seq:       r.chatSeq,
		}, ev.connID)
		metrics.ChatMessages.Inc()
	case models.TypeSessionEnded:
		r.endSession("ended by " + string(m.role))
	default:
		log.Printf("room %s: ignoring unexpected message type %s", r.key, ev.env.Type)
	}
}

// relay forwards a message to the counterpart only. With no counterpart
// present the message is dropped, not queued: negotiation payloads are
// meaningless without a live peer.
func (r *Room) relay(from *member, env *models.Envelope) {
	out := *env
	out.SessionID = r.SessionID
	out.Sender = from.displayName
	out.Role = from.role
	for role, m := range r.members {
		if role != from.role {
			m.conn.Send(&out)
			metrics.MessagesRelayed.WithLabelValues(string(out.Type)).Inc()
			return
		}
	}
	metrics.MessagesDropped.WithLabelValues(string(out.Type)).Inc()
}

// broadcast sends to every member except excludeConnID (empty means all).
func (r *Room) broadcast(env *models.Envelope, excludeConnID string) {
	for _, m := range r.members {
		if m.conn.ID() != excludeConnID {
			m.conn.Send(env)
		}
	}
}

// endSession notifies every participant and tears the room down.
func (r *Room) endSession(reason string) {
	r.broadcast(&models.Envelope{
		Type:      models.TypeSessionEnded,
		SessionID: r.SessionID,
		Reason:    reason,
	}, "")
	r.endRoom()
}

// endRoom is the terminal transition: the room leaves the registry and
// no further messages are relayed.
func (r *Room) endRoom() {
	r.setState(StateEnded)
	for _, t := range r.graceTimers {
		t.Stop()
	}
	if r.waitTimer != nil {
		r.waitTimer.Stop()
	}
	r.reg.remove(r.key)
	close(r.done)
}

func (r *Room) setState(to State) {
	from := r.state
	r.state = to
	metrics.StateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	log.Printf("room %s: %s -> %s", r.key, from, to)
}

func (r *Room) memberByConn(connID string) *member {
	for _, m := range r.members {
		if m.conn.ID() == connID {
			return m
		}
	}
	return nil
}

func (r *Room) snapshot() Snapshot {
	return Snapshot{
		SessionID:    r.SessionID,
		State:        r.state.String(),
		Participants: r.participants(),
	}
}

func (r *Room) participants() []models.Participant {
	ms := make([]*member, 0, len(r.members))
	for _, m := range r.members {
		ms = append(ms, m)
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].joinSeq < ms[j].joinSeq })

	out := make([]models.Participant, len(ms))
	for i, m := range ms {
		out[i] = models.Participant{
			ConnectionID: m.conn.ID(),
			Role:         m.role,
			DisplayName:  m.displayName,
			JoinedAt:     m.joinedAt,
		}
	}
	return out
}

func (r *Room) participantsEnvelope() *models.Envelope {
	return &models.Envelope{
		Type:         models.TypeCurrentParticipants,
		SessionID:    r.SessionID,
		State:        r.state.String(),
		Participants: r.participants(),
	}
}
