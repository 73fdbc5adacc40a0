package memory

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/adwski/webrtc-meshrelay/backend/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newTestDirectory(maxParticipants int) (*Directory, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return NewDirectory(Config{
		Registry:        NewRegistry(clock.now),
		MaxParticipants: maxParticipants,
		HistorySize:     3,
		Now:             clock.now,
	}), clock
}

func mustJoin(t *testing.T, d *Directory, connID, roomID, name, password string) *JoinResult {
	t.Helper()
	res, err := d.Join(connID, roomID, name, password)
	if err != nil {
		t.Fatalf("join %s to %s failed: %v", connID, roomID, err)
	}
	return res
}

func memberIDs(members []model.Member) []string {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ConnID)
	}
	return ids
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(nil)

	p := reg.Register("c1")
	p.DisplayName = "alice"
	if again := reg.Register("c1"); again.DisplayName != "alice" {
		t.Errorf("register is not idempotent, got %+v", again)
	}
	if _, ok := reg.Get("c2"); ok {
		t.Error("unexpected record for unknown connection")
	}
	reg.Remove("c1")
	reg.Remove("c1")
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d records", reg.Len())
	}
}

func TestJoinSnapshotExcludesSelf(t *testing.T) {
	d, _ := newTestDirectory(0)

	res := mustJoin(t, d, "a", "r1", "alice", "")
	if len(res.Existing) != 0 {
		t.Errorf("first joiner got non empty snapshot: %v", res.Existing)
	}
	if !res.Created {
		t.Error("expected room to be created by first joiner")
	}
	if res.Participant.VideoEnabled || !res.Participant.AudioEnabled {
		t.Errorf("unexpected default media state %+v", res.Participant)
	}

	res = mustJoin(t, d, "b", "r1", "bob", "")
	if got := memberIDs(res.Existing); len(got) != 1 || got[0] != "a" {
		t.Errorf("expected snapshot [a], got %v", got)
	}

	res = mustJoin(t, d, "c", "r1", "carol", "")
	for _, m := range res.Existing {
		if m.ConnID == "c" {
			t.Error("snapshot contains the joiner itself")
		}
	}
	if len(res.Existing) != 2 {
		t.Errorf("expected 2 existing members, got %d", len(res.Existing))
	}
}

func TestJoinValidationLeavesStateUntouched(t *testing.T) {
	d, _ := newTestDirectory(0)

	for _, tc := range []struct{ room, name string }{
		{room: "bad room", name: "alice"},
		{room: "r1", name: ""},
	} {
		_, err := d.Join("a", tc.room, tc.name, "")
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", tc, err)
		}
	}
	if d.Registry().Len() != 0 || len(d.Rooms()) != 0 {
		t.Error("state mutated by invalid join")
	}
}

func TestJoinCapacity(t *testing.T) {
	d, _ := newTestDirectory(2)

	mustJoin(t, d, "a", "r1", "alice", "")
	mustJoin(t, d, "b", "r1", "bob", "")

	_, err := d.Join("c", "r1", "carol", "")
	if !errors.Is(err, model.ErrCapacity) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if got := d.MemberIDs("r1", ""); len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("expected members [a b], got %v", got)
	}
	if _, ok := d.Registry().Get("c"); ok {
		t.Error("rejected joiner was registered")
	}
}

func TestJoinPassword(t *testing.T) {
	d, _ := newTestDirectory(0)

	mustJoin(t, d, "a", "r2", "alice", "abc")
	info, _ := d.Room("r2")
	if !info.Private {
		t.Error("room created with password is not private")
	}

	for _, pw := range []string{"abd", ""} {
		if _, err := d.Join("b", "r2", "bob", pw); !errors.Is(err, model.ErrAuth) {
			t.Errorf("password %q: expected auth error, got %v", pw, err)
		}
	}
	if got := d.MemberIDs("r2", ""); len(got) != 1 {
		t.Errorf("expected only creator in room, got %v", got)
	}

	mustJoin(t, d, "b", "r2", "bob", "abc")

	d.Leave("a", "r2")
	d.Leave("b", "r2")
	if _, ok := d.Room("r2"); ok {
		t.Fatal("empty room was not deleted")
	}

	res := mustJoin(t, d, "c", "r2", "carol", "")
	if !res.Created {
		t.Error("expected fresh room")
	}
	mustJoin(t, d, "d", "r2", "dave", "")
	if info, _ := d.Room("r2"); info.Private {
		t.Error("recreated room kept old password")
	}
}

func TestLeaveIdempotent(t *testing.T) {
	d, _ := newTestDirectory(0)
	mustJoin(t, d, "a", "r1", "alice", "")
	mustJoin(t, d, "b", "r1", "bob", "")

	res, ok := d.Leave("b", "r1")
	if !ok {
		t.Fatal("first leave reported no-op")
	}
	if res.DisplayName != "bob" || len(res.Others) != 1 || res.Others[0] != "a" {
		t.Errorf("unexpected leave result %+v", res)
	}
	if _, ok = d.Leave("b", "r1"); ok {
		t.Error("second leave was not a no-op")
	}
	if _, ok = d.Leave("a", "other"); ok {
		t.Error("leave from a room not joined was not a no-op")
	}
	if _, ok = d.Leave("ghost", "r1"); ok {
		t.Error("leave of unknown connection was not a no-op")
	}
}

func TestRejoinMovesBetweenRooms(t *testing.T) {
	d, _ := newTestDirectory(0)
	mustJoin(t, d, "a", "r1", "alice", "")
	mustJoin(t, d, "b", "r1", "bob", "")

	res := mustJoin(t, d, "b", "r2", "bob", "")
	if res.Left == nil || res.Left.RoomID != "r1" {
		t.Fatalf("expected implicit leave of r1, got %+v", res.Left)
	}
	for _, info := range d.Rooms() {
		count := 0
		for _, id := range d.MemberIDs(info.ID, "") {
			if id == "b" {
				count++
			}
		}
		if info.ID == "r1" && count != 0 || info.ID == "r2" && count != 1 {
			t.Errorf("room %s has %d entries of b", info.ID, count)
		}
	}
}

func TestRejoinSoleMemberKeepsPrivacy(t *testing.T) {
	d, _ := newTestDirectory(0)
	mustJoin(t, d, "a", "r1", "alice", "pw")
	mustJoin(t, d, "a", "r1", "alice", "pw")

	if info, _ := d.Room("r1"); !info.Private || info.Participants != 1 {
		t.Errorf("unexpected room after rejoin %+v", info)
	}
}

func TestModerator(t *testing.T) {
	d, _ := newTestDirectory(0)
	mustJoin(t, d, "x", "r1", "xena", "")
	mustJoin(t, d, "a", "r1", "alice", "")
	mustJoin(t, d, "y", "r1", "yuri", "")
	mustJoin(t, d, "b", "r1", "bob", "")

	d.Leave("x", "r1")
	mustJoin(t, d, "z", "r1", "zoe", "")
	d.Leave("y", "r1")

	if !d.IsModerator("a", "r1") {
		t.Error("earliest present joiner is not moderator")
	}
	if d.IsModerator("b", "r1") || d.IsModerator("z", "r1") {
		t.Error("later joiner reported as moderator")
	}
	if d.IsModerator("a", "r2") {
		t.Error("moderator of a room not joined")
	}

	d.Leave("a", "r1")
	if !d.IsModerator("b", "r1") {
		t.Error("moderation did not pass to next joiner")
	}

	for _, m := range d.Members("r1") {
		if m.Moderator != (m.ConnID == "b") {
			t.Errorf("wrong moderator flag on %+v", m)
		}
	}
}

func TestToggleAndDisable(t *testing.T) {
	d, _ := newTestDirectory(0)
	mustJoin(t, d, "a", "r1", "alice", "")

	enabled, err := d.Toggle("a", "r1", model.TargetVideo)
	if err != nil || !enabled {
		t.Errorf("expected video on, got %v %v", enabled, err)
	}
	enabled, err = d.Toggle("a", "r1", model.TargetAudio)
	if err != nil || enabled {
		t.Errorf("expected audio off, got %v %v", enabled, err)
	}
	if _, err = d.Toggle("a", "r2", model.TargetVideo); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected not found for wrong room, got %v", err)
	}
	if _, err = d.Toggle("a", "r1", "screen"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}

	if err = d.Disable("a", model.TargetVideo); err != nil {
		t.Fatalf("disable failed: %v", err)
	}
	p, _ := d.Registry().Get("a")
	if p.VideoEnabled {
		t.Error("video still enabled after disable")
	}
}

func TestChatHistoryRing(t *testing.T) {
	d, clock := newTestDirectory(0)
	mustJoin(t, d, "a", "r1", "alice", "")

	for i := 1; i <= 4; i++ {
		clock.advance(time.Second)
		if _, err := d.AppendChat("a", "r1", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("append failed: %v", err)
		}
	}
	history := d.History("r1")
	if len(history) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(history))
	}
	for i, msg := range history {
		if want := fmt.Sprintf("msg %d", i+2); msg.Text != want || msg.Sender != "alice" {
			t.Errorf("history[%d] = %+v, want text %q", i, msg, want)
		}
	}

	if _, err := d.AppendChat("a", "r1", ""); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	if _, err := d.AppendChat("ghost", "r1", "hi"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	res := mustJoin(t, d, "b", "r1", "bob", "")
	if len(res.History) != 3 {
		t.Errorf("joiner got %d history messages, want 3", len(res.History))
	}
}

func TestFindByName(t *testing.T) {
	d, _ := newTestDirectory(0)
	mustJoin(t, d, "a", "r1", "alice", "")
	mustJoin(t, d, "b", "r1", "bob", "")

	if id, ok := d.FindByName("r1", "bob"); !ok || id != "b" {
		t.Errorf("expected b, got %q %v", id, ok)
	}
	if id, ok := d.FindByName("r1", "  bob "); !ok || id != "b" {
		t.Errorf("padded name not resolved, got %q %v", id, ok)
	}
	if !d.NameTaken("r1", " alice") {
		t.Error("padded name not reported taken")
	}
	if _, ok := d.FindByName("r1", "   "); ok {
		t.Error("blank name resolved")
	}
	if d.NameTaken("r1", "carol") {
		t.Error("unknown name reported taken")
	}
	if d.NameTaken("r2", "bob") {
		t.Error("name taken in a room that does not exist")
	}
}

func TestSweepZombies(t *testing.T) {
	d, clock := newTestDirectory(0)
	mustJoin(t, d, "a", "r1", "alice", "")
	mustJoin(t, d, "b", "r1", "bob", "")
	d.Registry().Register("idle")

	clock.advance(11 * time.Minute)
	mustJoin(t, d, "fresh", "r1", "fred", "")

	alive := map[string]bool{"a": true}
	left := d.SweepZombies(clock.now().Add(-10*time.Minute), func(connID string) bool {
		return alive[connID]
	})

	if len(left) != 1 || left[0].ConnID != "b" {
		t.Fatalf("expected b to be swept through leave, got %+v", left)
	}
	if _, ok := d.Registry().Get("idle"); ok {
		t.Error("idle zombie not removed")
	}
	if _, ok := d.Registry().Get("fresh"); !ok {
		t.Error("fresh record removed before threshold")
	}
	if got := d.MemberIDs("r1", ""); len(got) != 2 {
		t.Errorf("expected [a fresh], got %v", got)
	}
}

func TestSweepRooms(t *testing.T) {
	d, _ := newTestDirectory(0)
	mustJoin(t, d, "a", "r1", "alice", "pw")
	mustJoin(t, d, "b", "r2", "bob", "")

	// record lost without Leave
	d.Registry().Remove("a")

	if n := d.SweepRooms(); n != 1 {
		t.Errorf("expected 1 deleted room, got %d", n)
	}
	if _, ok := d.Room("r1"); ok {
		t.Error("orphaned room survived sweep")
	}
	if _, ok := d.Room("r2"); !ok {
		t.Error("live room deleted by sweep")
	}
}

func TestPasswordCostClamped(t *testing.T) {
	for cost, want := range map[int]int{0: MinPasswordCost, 6: 6, 12: MaxPasswordCost} {
		d := NewDirectory(Config{PasswordCost: cost})
		if d.passwordCost != want {
			t.Errorf("cost %d: expected %d, got %d", cost, want, d.passwordCost)
		}
	}
}
