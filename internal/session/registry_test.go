package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DepressionHub/session-relay/internal/models"
)

func TestRegistryCreatesAndNamespacesRooms(t *testing.T) {
	reg := newTestRegistry(time.Second, 0)

	room := reg.Join("abc", &fakeConn{id: "c1"}, models.RoleSeeker, "Sam")
	if room.SessionID != "abc" {
		t.Fatalf("unexpected session id %q", room.SessionID)
	}
	if room.key != "therapy-session-abc" {
		t.Fatalf("room not namespaced: %q", room.key)
	}
	if reg.Count() != 1 {
		t.Fatalf("expected 1 room, got %d", reg.Count())
	}

	// Same session id resolves to the same room.
	again := reg.Join("abc", &fakeConn{id: "c2"}, models.RoleProvider, "Dr. P")
	if again != room {
		t.Fatalf("second join created a new room")
	}
}

func TestRegistryGetUnknownSession(t *testing.T) {
	reg := newTestRegistry(time.Second, 0)
	if _, ok := reg.Get("missing"); ok {
		t.Fatalf("unknown session should not resolve")
	}
}

func TestRegistryJoinAfterEndCreatesFreshRoom(t *testing.T) {
	reg := newTestRegistry(time.Second, 0)
	c1 := &fakeConn{id: "c1"}

	room := reg.Join("r1", c1, models.RoleSeeker, "Sam")
	barrier(t, room)
	room.Deliver("c1", &models.Envelope{Type: models.TypeSessionEnded})
	waitClosed(t, room)

	fresh := reg.Join("r1", &fakeConn{id: "c2"}, models.RoleSeeker, "Sam")
	if fresh == room {
		t.Fatalf("join after end reused the ended room")
	}
	if snap := barrier(t, fresh); snap.State != "WAITING" {
		t.Fatalf("fresh room should start WAITING, got %s", snap.State)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	reg := newTestRegistry(time.Second, 0)

	var wg sync.WaitGroup
	const rooms = 20
	for i := 0; i < rooms; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("room-%d", i)
			s := &fakeConn{id: "s-" + id}
			p := &fakeConn{id: "p-" + id}
			room := reg.Join(id, s, models.RoleSeeker, "Sam")
			reg.Join(id, p, models.RoleProvider, "Dr. P")
			snap, ok := room.Snapshot()
			if !ok || snap.State != "READY" {
				t.Errorf("%s: expected READY, got %+v", id, snap)
			}
		}(i)
	}
	wg.Wait()

	if reg.Count() != rooms {
		t.Fatalf("expected %d rooms, got %d", rooms, reg.Count())
	}
}

func TestConcurrentJoinsSingleReadyBroadcast(t *testing.T) {
	// Two near-simultaneous joins must not double-trigger the READY
	// broadcast; the room actor serializes them.
	for i := 0; i < 50; i++ {
		reg := newTestRegistry(time.Second, 0)
		s := &fakeConn{id: "s1"}
		p := &fakeConn{id: "p1"}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() { defer wg.Done(); reg.Join("r1", s, models.RoleSeeker, "Sam") }()
		go func() { defer wg.Done(); reg.Join("r1", p, models.RoleProvider, "Dr. P") }()
		wg.Wait()

		room, ok := reg.Get("r1")
		if !ok {
			t.Fatalf("room missing after joins")
		}
		barrier(t, room)

		for _, c := range []*fakeConn{s, p} {
			if n := len(c.byType(models.TypeSessionStarted)); n != 1 {
				t.Fatalf("%s got %d session_started, want exactly 1", c.id, n)
			}
		}
	}
}
