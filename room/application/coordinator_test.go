package application

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockroom/roomd/room/bus"
	"github.com/blockroom/roomd/room/domain"
	"github.com/blockroom/roomd/room/repository"
)

// fakeConn is a channel-backed application.Conn double: in feeds frames to
// ReadMessage, out captures everything WriteMessage sends, whether a direct
// reply or a room broadcast relayed through the writer goroutine.
type fakeConn struct {
	in        chan []byte
	out       chan []byte
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), out: make(chan []byte, 16)}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-f.in
	if !ok {
		return 0, nil, io.EOF
	}
	return wsTextMessage, data, nil
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case f.out <- data:
	default:
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.in) })
	return nil
}

type fakeRoomRepo struct {
	maxUsers int
}

func (r *fakeRoomRepo) GetOrCreate(_ context.Context, id string, defaultMaxUsers int) (domain.Room, error) {
	max := r.maxUsers
	if max == 0 {
		max = defaultMaxUsers
	}
	return domain.Room{ID: id, MaxUsers: max}, nil
}

func (r *fakeRoomRepo) Get(_ context.Context, id string) (domain.Room, error) {
	return domain.Room{ID: id, MaxUsers: r.maxUsers}, nil
}

// missingRoomRepo always reports the room as unprovisioned.
type missingRoomRepo struct{}

func (missingRoomRepo) GetOrCreate(_ context.Context, id string, _ int) (domain.Room, error) {
	return domain.Room{}, domain.ErrRoomNotFound
}

func (missingRoomRepo) Get(_ context.Context, _ string) (domain.Room, error) {
	return domain.Room{}, domain.ErrRoomNotFound
}

func envelopeOf(t *testing.T, data []byte) domain.Envelope {
	t.Helper()
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func waitForType(t *testing.T, out <-chan []byte, want domain.MessageType) domain.Envelope {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case data := <-out:
			env := envelopeOf(t, data)
			if env.Type == want {
				return env
			}
		case <-deadline:
			require.Failf(t, "message not seen", "wanted %s", want)
		}
	}
}

func newTestCoordinator() (*Coordinator, *bus.Bus, context.CancelFunc) {
	locks := repository.NewMemoryLockManager()
	presence := repository.NewMemoryPresenceRegistry()
	snapshots := repository.NewMemorySnapshotStore()
	b := bus.New(nil, "test-server")
	ctx, cancel := context.WithCancel(context.Background())
	go b.Run(ctx)

	cfg := Config{LockTTL: time.Minute, PresenceTTL: time.Minute, DefaultRoomMaxUsers: 0}
	c := NewCoordinator(&fakeRoomRepo{}, locks, presence, snapshots, b, cfg, nil)
	return c, b, cancel
}

func TestCoordinator_AdmitsAndSendsInitStateThenJoin(t *testing.T) {
	c, _, cancel := newTestCoordinator()
	defer cancel()

	connA := newFakeConn()
	doneA := make(chan error, 1)
	go func() { doneA <- c.Serve(context.Background(), connA, "room1", "alice") }()

	initEnv := waitForType(t, connA.out, domain.MessageInitState)
	var initPayload domain.InitStatePayload
	require.NoError(t, json.Unmarshal(initEnv.Payload, &initPayload))
	assert.NotEmpty(t, initPayload.ClientID)
	assert.Empty(t, initPayload.Users, "a lone join sees no other users")

	// Alice never receives her own USER_JOINED.
	select {
	case data := <-connA.out:
		env := envelopeOf(t, data)
		assert.NotEqual(t, domain.MessageUserJoined, env.Type)
	case <-time.After(100 * time.Millisecond):
	}

	connB := newFakeConn()
	doneB := make(chan error, 1)
	go func() { doneB <- c.Serve(context.Background(), connB, "room1", "bob") }()

	bobInit := waitForType(t, connB.out, domain.MessageInitState)
	var bobPayload domain.InitStatePayload
	require.NoError(t, json.Unmarshal(bobInit.Payload, &bobPayload))
	require.Len(t, bobPayload.Users, 1)
	assert.Equal(t, "alice", bobPayload.Users[0].Nickname)

	// Alice sees bob join; bob never sees his own join.
	joined := waitForType(t, connA.out, domain.MessageUserJoined)
	var joinedPayload domain.UserSummary
	require.NoError(t, json.Unmarshal(joined.Payload, &joinedPayload))
	assert.Equal(t, "bob", joinedPayload.Nickname)

	connA.Close()
	connB.Close()
	select {
	case <-doneA:
	case <-time.After(time.Second):
		require.Fail(t, "Serve did not return after disconnect")
	}
	select {
	case <-doneB:
	case <-time.After(time.Second):
		require.Fail(t, "Serve did not return after disconnect")
	}
}

func TestCoordinator_LockAcquireBroadcastsUpdateAndDenialOnConflict(t *testing.T) {
	c, _, cancel := newTestCoordinator()
	defer cancel()

	connA := newFakeConn()
	doneA := make(chan error, 1)
	go func() { doneA <- c.Serve(context.Background(), connA, "room1", "alice") }()
	waitForType(t, connA.out, domain.MessageInitState)

	acquire, err := json.Marshal(domain.LockAcquirePayload{BlockID: "b1"})
	require.NoError(t, err)
	env, err := json.Marshal(domain.Envelope{Type: domain.MessageLockAcquire, Payload: acquire})
	require.NoError(t, err)
	connA.in <- env

	update := waitForType(t, connA.out, domain.MessageLockUpdate)
	var updatePayload domain.LockUpdatePayload
	require.NoError(t, json.Unmarshal(update.Payload, &updatePayload))
	assert.Equal(t, "b1", updatePayload.BlockID)
	require.NotNil(t, updatePayload.Owner)

	connB := newFakeConn()
	doneB := make(chan error, 1)
	go func() { doneB <- c.Serve(context.Background(), connB, "room1", "bob") }()
	waitForType(t, connB.out, domain.MessageInitState)
	// alice sees bob join; bob never sees his own join.
	waitForType(t, connA.out, domain.MessageUserJoined)

	connB.in <- env
	denied := waitForType(t, connB.out, domain.MessageLockDenied)
	var deniedPayload domain.LockDeniedPayload
	require.NoError(t, json.Unmarshal(denied.Payload, &deniedPayload))
	assert.Equal(t, "b1", deniedPayload.BlockID)
	assert.NotEmpty(t, deniedPayload.Owner)

	connA.Close()
	connB.Close()
	<-doneA
	<-doneB
}

func TestCoordinator_SynthesizesNicknameWhenEmpty(t *testing.T) {
	c, _, cancel := newTestCoordinator()
	defer cancel()

	connA := newFakeConn()
	doneA := make(chan error, 1)
	go func() { doneA <- c.Serve(context.Background(), connA, "room1", "alice") }()
	waitForType(t, connA.out, domain.MessageInitState)

	connB := newFakeConn()
	doneB := make(chan error, 1)
	go func() { doneB <- c.Serve(context.Background(), connB, "room1", "") }()
	waitForType(t, connB.out, domain.MessageInitState)

	joined := waitForType(t, connA.out, domain.MessageUserJoined)
	var joinedPayload domain.UserSummary
	require.NoError(t, json.Unmarshal(joined.Payload, &joinedPayload))
	assert.Regexp(t, `^User\d{4}$`, joinedPayload.Nickname)

	connA.Close()
	connB.Close()
	<-doneA
	<-doneB
}

func TestCoordinator_RejectsMissingRoom(t *testing.T) {
	locks := repository.NewMemoryLockManager()
	presence := repository.NewMemoryPresenceRegistry()
	snapshots := repository.NewMemorySnapshotStore()
	b := bus.New(nil, "test-server")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.Run(ctx)

	cfg := Config{LockTTL: time.Minute, PresenceTTL: time.Minute}
	c := NewCoordinator(missingRoomRepo{}, locks, presence, snapshots, b, cfg, nil)

	conn := newFakeConn()
	err := c.Serve(context.Background(), conn, "ghost-room", "alice")
	assert.Error(t, err)
}

func TestCoordinator_CleanupReleasesLocksOnDisconnect(t *testing.T) {
	c, _, cancel := newTestCoordinator()
	defer cancel()

	conn := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background(), conn, "room1", "alice") }()
	waitForType(t, conn.out, domain.MessageInitState)

	acquire, err := json.Marshal(domain.LockAcquirePayload{BlockID: "b1"})
	require.NoError(t, err)
	env, err := json.Marshal(domain.Envelope{Type: domain.MessageLockAcquire, Payload: acquire})
	require.NoError(t, err)
	conn.in <- env
	waitForType(t, conn.out, domain.MessageLockUpdate)

	conn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Serve did not return after disconnect")
	}

	owner, err := c.locks.GetOwner(context.Background(), "room1", "b1")
	require.NoError(t, err)
	assert.Empty(t, owner, "lock must be released on disconnect")
}

func TestCoordinator_CommitReleasesLockStoresSnapshotAndBroadcastsInOrder(t *testing.T) {
	c, _, cancel := newTestCoordinator()
	defer cancel()

	conn := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background(), conn, "room1", "alice") }()
	waitForType(t, conn.out, domain.MessageInitState)

	acquire, err := json.Marshal(domain.LockAcquirePayload{BlockID: "b1"})
	require.NoError(t, err)
	env, err := json.Marshal(domain.Envelope{Type: domain.MessageLockAcquire, Payload: acquire})
	require.NoError(t, err)
	conn.in <- env
	waitForType(t, conn.out, domain.MessageLockUpdate)

	xml := "<workspace/>"
	commit, err := json.Marshal(domain.CommitPayload{BlockID: "b1", WorkspaceXML: &xml})
	require.NoError(t, err)
	env, err = json.Marshal(domain.Envelope{Type: domain.MessageCommit, Payload: commit})
	require.NoError(t, err)
	conn.in <- env

	apply := waitForType(t, conn.out, domain.MessageCommitApply)
	var applyPayload domain.CommitApplyPayload
	require.NoError(t, json.Unmarshal(apply.Payload, &applyPayload))
	assert.Equal(t, "b1", applyPayload.BlockID)
	require.NotNil(t, applyPayload.WorkspaceXML)
	assert.Equal(t, xml, *applyPayload.WorkspaceXML)

	// Release defaults to true, so a LOCK_UPDATE announcing the release
	// follows the COMMIT_APPLY fan-out.
	update := waitForType(t, conn.out, domain.MessageLockUpdate)
	var updatePayload domain.LockUpdatePayload
	require.NoError(t, json.Unmarshal(update.Payload, &updatePayload))
	assert.Equal(t, "b1", updatePayload.BlockID)
	assert.Nil(t, updatePayload.Owner)

	owner, err := c.locks.GetOwner(context.Background(), "room1", "b1")
	require.NoError(t, err)
	assert.Empty(t, owner, "lock must be released by the commit")

	stored, ok, err := c.snapshots.Get(context.Background(), "room1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, xml, stored)

	conn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Serve did not return after disconnect")
	}
}

func TestCoordinator_CommitWithoutHeldLockProceeds(t *testing.T) {
	c, _, cancel := newTestCoordinator()
	defer cancel()

	conn := newFakeConn()
	done := make(chan error, 1)
	go func() { done <- c.Serve(context.Background(), conn, "room1", "alice") }()
	waitForType(t, conn.out, domain.MessageInitState)

	// b1 was never acquired by anyone; a commit on it still applies.
	commit, err := json.Marshal(domain.CommitPayload{BlockID: "b1"})
	require.NoError(t, err)
	env, err := json.Marshal(domain.Envelope{Type: domain.MessageCommit, Payload: commit})
	require.NoError(t, err)
	conn.in <- env

	apply := waitForType(t, conn.out, domain.MessageCommitApply)
	var applyPayload domain.CommitApplyPayload
	require.NoError(t, json.Unmarshal(apply.Payload, &applyPayload))
	assert.Equal(t, "b1", applyPayload.BlockID)

	conn.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Serve did not return after disconnect")
	}
}

func TestCoordinator_CommitFromNonOwnerDroppedSilently(t *testing.T) {
	c, _, cancel := newTestCoordinator()
	defer cancel()

	connA := newFakeConn()
	doneA := make(chan error, 1)
	go func() { doneA <- c.Serve(context.Background(), connA, "room1", "alice") }()
	waitForType(t, connA.out, domain.MessageInitState)

	acquire, err := json.Marshal(domain.LockAcquirePayload{BlockID: "b1"})
	require.NoError(t, err)
	env, err := json.Marshal(domain.Envelope{Type: domain.MessageLockAcquire, Payload: acquire})
	require.NoError(t, err)
	connA.in <- env
	waitForType(t, connA.out, domain.MessageLockUpdate)

	connB := newFakeConn()
	doneB := make(chan error, 1)
	go func() { doneB <- c.Serve(context.Background(), connB, "room1", "bob") }()
	waitForType(t, connB.out, domain.MessageInitState)
	waitForType(t, connA.out, domain.MessageUserJoined)

	commit, err := json.Marshal(domain.CommitPayload{BlockID: "b1"})
	require.NoError(t, err)
	env, err = json.Marshal(domain.Envelope{Type: domain.MessageCommit, Payload: commit})
	require.NoError(t, err)
	connB.in <- env

	// Bob's stale commit is dropped: no COMMIT_APPLY, no LOCK_DENIED, and
	// alice's lock survives untouched.
	select {
	case data := <-connB.out:
		env := envelopeOf(t, data)
		assert.Failf(t, "unexpected message", "got %s", env.Type)
	case <-time.After(100 * time.Millisecond):
	}

	owner, err := c.locks.GetOwner(context.Background(), "room1", "b1")
	require.NoError(t, err)
	assert.NotEmpty(t, owner, "alice's lock survives bob's stale commit")

	connA.Close()
	connB.Close()
	<-doneA
	<-doneB
}
