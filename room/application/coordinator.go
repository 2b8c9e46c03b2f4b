// Package application hosts the Connection Coordinator: the per-connection
// state machine that turns WebSocket frames into Lock Manager, Presence
// Registry and Broadcast Bus operations. Every exported method is driven by
// exactly one live connection's goroutines; nothing here is shared state.
package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/blockroom/roomd/pkg/apperr"
	"github.com/blockroom/roomd/pkg/metrics"
	"github.com/blockroom/roomd/room/bus"
	"github.com/blockroom/roomd/room/domain"
)

// Config bundles the tunables a Coordinator needs, mirroring the source's
// package-level settings but scoped to one dependency struct instead of
// globals, since a Coordinator is constructed per server instance, not once
// per process.
type Config struct {
	LockTTL             time.Duration
	PresenceTTL         time.Duration
	DefaultRoomMaxUsers int
}

// Coordinator wires the Lock Manager, Presence Registry, Broadcast Bus and
// Room Repository together behind one per-connection entry point: Serve.
type Coordinator struct {
	rooms     domain.RoomRepository
	locks     domain.LockManager
	presence  domain.PresenceRegistry
	snapshots domain.SnapshotStore
	bus       *bus.Bus
	cfg       Config
	metrics   *metrics.Metrics
}

func NewCoordinator(rooms domain.RoomRepository, locks domain.LockManager, presence domain.PresenceRegistry, snapshots domain.SnapshotStore, b *bus.Bus, cfg Config, m *metrics.Metrics) *Coordinator {
	return &Coordinator{rooms: rooms, locks: locks, presence: presence, snapshots: snapshots, bus: b, cfg: cfg, metrics: m}
}

// Conn is the minimal surface the Coordinator needs from a transport
// connection, so the coordinator itself stays free of any fiber/gorilla
// import and can be driven by a fake in tests.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

const (
	wsTextMessage  = 1
	wsCloseMessage = 8
)

// CloseReason is carried in the 4xxx close frame the handler sends before
// tearing the socket down, so clients can distinguish "room full" from
// "room not found" without parsing prose.
type CloseReason int

const (
	CloseRoomFull     CloseReason = 4003
	CloseRoomNotFound CloseReason = 4004
)

// Serve runs the full lifetime of one connection: handshake, INIT_STATE,
// the inbound dispatch loop and the bus-subscription fan-out loop, and
// guaranteed cleanup on any exit path. It blocks until the connection ends.
func (c *Coordinator) Serve(ctx context.Context, conn Conn, roomID, nickname string) error {
	if nickname == "" {
		nickname = fmt.Sprintf("User%d", rand.Intn(9000)+1000)
	}

	room, err := c.rooms.Get(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		return c.rejectHandshake(conn, CloseRoomNotFound)
	}
	if err != nil {
		return fmt.Errorf("coordinator: get room %s: %w", roomID, err)
	}

	if room.MaxUsers > 0 {
		count, err := c.presence.Count(ctx, roomID)
		if err != nil {
			return fmt.Errorf("coordinator: count presence %s: %w", roomID, err)
		}
		if count >= room.MaxUsers {
			return c.rejectHandshake(conn, CloseRoomFull)
		}
	}

	session := domain.ClientSession{
		ClientID: uuid.New().String(),
		Nickname: nickname,
		Color:    domain.Palette[rand.Intn(len(domain.Palette))],
		RoomID:   roomID,
		LastSeen: time.Now().UTC(),
	}

	if err := c.presence.Add(ctx, roomID, session.ClientID, session.Nickname, session.Color); err != nil {
		return fmt.Errorf("coordinator: add presence %s/%s: %w", roomID, session.ClientID, err)
	}
	c.reportRoomUsers(ctx, roomID)

	sub := &bus.Subscriber{ID: session.ClientID, Room: roomID, Send: make(chan []byte, 64)}
	c.bus.Subscribe(sub)

	cc := &connCtx{session: &session, sub: sub}

	var stopTimer func()
	if c.metrics != nil {
		stopTimer = c.metrics.TrackConnection()
	}

	writerDone := make(chan struct{})

	// Unsubscribing happens-before closing Send, so the bus's single
	// fan-out goroutine can never be left trying to write to a closed
	// channel: once Unsubscribe returns, that goroutine has already moved
	// past this subscriber in its serial event loop.
	defer func() {
		c.cleanup(context.Background(), cc)
		close(sub.Send)
		<-writerDone
		if stopTimer != nil {
			stopTimer()
		}
	}()

	// INIT_STATE is written before the writer goroutine starts, so it is the
	// first frame on the wire and never shares the socket with a concurrent
	// write; room events published meanwhile wait in sub.Send.
	if err := c.sendInitState(ctx, conn, cc); err != nil {
		close(writerDone)
		return err
	}
	go c.writeLoop(conn, session.ClientID, sub.Send, writerDone)
	c.announceJoin(cc)

	c.readLoop(ctx, conn, cc)
	return nil
}

// connCtx bundles one connection's session identity with its own outbound
// mailbox, so a handler can reply to just this connection (sendDirect)
// without reaching into the bus, which only fans out to the whole room.
type connCtx struct {
	session *domain.ClientSession
	sub     *bus.Subscriber
}

// writeLoop is the single writer for this connection: every outbound frame
// after INIT_STATE (which Serve writes before starting this loop), whether a
// direct reply or a room broadcast, flows through send and is written here
// and only here. selfID filters USER_JOINED/USER_LEFT for the
// client they describe: a room broadcast fans out to every subscriber,
// including the one whose own arrival or departure it announces.
func (c *Coordinator) writeLoop(conn Conn, selfID string, send <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for data := range send {
		if isSelfOriginUserEvent(data, selfID) {
			continue
		}
		if err := conn.WriteMessage(wsTextMessage, data); err != nil {
			logrus.Debugf("[coordinator] write error: %v", err)
			return
		}
		if c.metrics != nil {
			c.metrics.MessagesSent.Inc()
		}
	}
}

// readLoop owns the connection's inbound side until a read fails (the socket
// closed or errored). Non-text frames, malformed envelopes and failed
// handlers are dropped and the loop goes on with the next frame.
func (c *Coordinator) readLoop(ctx context.Context, conn Conn, cc *connCtx) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != wsTextMessage {
			continue
		}

		var env domain.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			logrus.Debugf("[coordinator] dropping malformed envelope from %s: %v", cc.session.ClientID, err)
			continue
		}
		if c.metrics != nil {
			c.metrics.MessagesReceived.Inc()
		}

		if err := c.dispatch(ctx, cc, env); err != nil {
			logrus.Warnf("[coordinator] dispatch error for %s: %v", cc.session.ClientID, err)
		}
	}
}

// dispatch is the exhaustive switch over MessageType that replaces a
// string-keyed handler table with a typed one.
func (c *Coordinator) dispatch(ctx context.Context, cc *connCtx, env domain.Envelope) error {
	switch env.Type {
	case domain.MessageLockAcquire:
		var payload domain.LockAcquirePayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return err
		}
		return c.handleLockAcquire(ctx, cc, payload)

	case domain.MessageCommit:
		var payload domain.CommitPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return err
		}
		return c.handleCommit(ctx, cc, payload)

	case domain.MessageHeartbeat:
		return c.handleHeartbeat(ctx, cc)

	default:
		logrus.Debugf("[coordinator] ignoring unknown message type %q", env.Type)
		return nil
	}
}

func (c *Coordinator) handleLockAcquire(ctx context.Context, cc *connCtx, payload domain.LockAcquirePayload) error {
	if payload.BlockID == "" {
		return nil
	}
	session := cc.session

	granted, owner, err := c.locks.Acquire(ctx, session.RoomID, payload.BlockID, session.ClientID, c.cfg.LockTTL)
	if err != nil {
		return err
	}

	if !granted {
		if c.metrics != nil {
			c.metrics.LockAcquires.WithLabelValues("denied").Inc()
			c.metrics.LockDenials.Inc()
		}
		denied := domain.LockDeniedPayload{BlockID: payload.BlockID, Owner: owner, TTLMs: c.cfg.LockTTL.Milliseconds()}
		return c.sendDirect(cc, domain.MessageLockDenied, denied)
	}
	if c.metrics != nil {
		c.metrics.LockAcquires.WithLabelValues("granted").Inc()
	}

	owned := session.ClientID
	update := domain.LockUpdatePayload{BlockID: payload.BlockID, Owner: &owned}
	c.broadcast(session.RoomID, domain.MessageLockUpdate, update)
	return nil
}

func (c *Coordinator) handleCommit(ctx context.Context, cc *connCtx, payload domain.CommitPayload) error {
	if payload.BlockID == "" {
		return nil
	}
	session := cc.session

	owner, err := c.locks.GetOwner(ctx, session.RoomID, payload.BlockID)
	if err != nil {
		return err
	}
	// A held lock belonging to someone else makes this a stale commit: drop
	// it silently. No lock at all (never acquired, or TTL-expired) is not a
	// conflict and the commit proceeds.
	if owner != "" && owner != session.ClientID {
		return nil
	}

	// Lock release precedes commit fan-out so recipients observe a
	// consistent (document, lock) state transition: a peer acting on
	// COMMIT_APPLY must already be able to acquire the block.
	var released bool
	if payload.ReleaseLock() {
		var err error
		released, err = c.locks.Release(ctx, session.RoomID, payload.BlockID, session.ClientID)
		if err != nil {
			return err
		}
	}

	if payload.WorkspaceXML != nil {
		if err := c.snapshots.Set(ctx, session.RoomID, *payload.WorkspaceXML); err != nil {
			return err
		}
	}

	apply := domain.CommitApplyPayload{
		BlockID:      payload.BlockID,
		Events:       payload.Events,
		By:           session.ClientID,
		WorkspaceXML: payload.WorkspaceXML,
	}
	c.broadcast(session.RoomID, domain.MessageCommitApply, apply)
	if c.metrics != nil {
		c.metrics.CommitsApplied.Inc()
	}

	if released {
		update := domain.LockUpdatePayload{BlockID: payload.BlockID, Owner: nil}
		c.broadcast(session.RoomID, domain.MessageLockUpdate, update)
	}
	return nil
}

func (c *Coordinator) handleHeartbeat(ctx context.Context, cc *connCtx) error {
	session := cc.session
	session.LastSeen = time.Now().UTC()
	return c.presence.Touch(ctx, session.RoomID, session.ClientID)
}

// sendInitState is the one-time snapshot sent right after admission: every
// online user, every held lock, and this connection's own assigned ID.
func (c *Coordinator) sendInitState(ctx context.Context, conn Conn, cc *connCtx) error {
	session := cc.session
	users, err := c.presence.List(ctx, session.RoomID)
	if err != nil {
		return err
	}
	locks, err := c.locks.GetAllLocks(ctx, session.RoomID)
	if err != nil {
		return err
	}
	snapshot, ok, err := c.snapshots.Get(ctx, session.RoomID)
	if err != nil {
		return err
	}

	summaries := make([]domain.UserSummary, 0, len(users))
	for _, u := range users {
		if u.ClientID == session.ClientID {
			continue
		}
		summaries = append(summaries, domain.UserSummary{ClientID: u.ClientID, Nickname: u.Nickname, Color: u.Color})
	}

	payload := domain.InitStatePayload{
		ClientID: session.ClientID,
		Users:    summaries,
		Locks:    locks,
	}
	if ok {
		payload.WorkspaceXML = &snapshot
	}
	env, err := envelope(domain.MessageInitState, payload)
	if err != nil {
		return err
	}
	return conn.WriteMessage(wsTextMessage, env)
}

func (c *Coordinator) announceJoin(cc *connCtx) {
	session := cc.session
	payload := domain.UserSummary{ClientID: session.ClientID, Nickname: session.Nickname, Color: session.Color}
	c.broadcast(session.RoomID, domain.MessageUserJoined, payload)
}

// cleanup runs on every exit path from Serve: release every lock the
// client held, drop its presence entry, unsubscribe from the bus and tell
// the rest of the room it left. It uses a background context because the
// connection's own context may already be canceled.
func (c *Coordinator) cleanup(ctx context.Context, cc *connCtx) {
	session := cc.session
	c.bus.Unsubscribe(cc.sub)

	released, err := c.locks.ReleaseAll(ctx, session.RoomID, session.ClientID)
	if err != nil {
		logrus.Warnf("[coordinator] release all failed for %s: %v", session.ClientID, err)
	}
	for _, blockID := range released {
		update := domain.LockUpdatePayload{BlockID: blockID, Owner: nil}
		c.broadcast(session.RoomID, domain.MessageLockUpdate, update)
	}

	if err := c.presence.Remove(ctx, session.RoomID, session.ClientID); err != nil {
		logrus.Warnf("[coordinator] presence remove failed for %s: %v", session.ClientID, err)
	}
	c.reportRoomUsers(ctx, session.RoomID)

	c.broadcast(session.RoomID, domain.MessageUserLeft, domain.UserLeftPayload{ClientID: session.ClientID})
}

// reportRoomUsers refreshes the per-room online-user gauge. Best-effort:
// a failed count here only costs a stale metric, never a dropped connection.
func (c *Coordinator) reportRoomUsers(ctx context.Context, room string) {
	if c.metrics == nil {
		return
	}
	count, err := c.presence.Count(ctx, room)
	if err != nil {
		return
	}
	c.metrics.RoomUsers.WithLabelValues(room).Set(float64(count))
}

func (c *Coordinator) broadcast(room string, msgType domain.MessageType, payload any) {
	data, err := envelope(msgType, payload)
	if err != nil {
		logrus.Errorf("[coordinator] envelope marshal error: %v", err)
		return
	}
	c.bus.Publish(room, data)
}

// sendDirect writes a reply to just this connection's own outbound queue,
// bypassing the bus entirely since no other subscriber should see it.
func (c *Coordinator) sendDirect(cc *connCtx, msgType domain.MessageType, payload any) error {
	data, err := envelope(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case cc.sub.Send <- data:
	default:
		logrus.Warnf("[coordinator] dropping direct reply for slow connection %s", cc.session.ClientID)
	}
	return nil
}

func (c *Coordinator) rejectHandshake(conn Conn, reason CloseReason) error {
	closeFrame := []byte{byte(reason >> 8), byte(reason)}
	_ = conn.WriteMessage(wsCloseMessage, closeFrame)
	_ = conn.Close()
	return apperr.BadRequestError(fmt.Sprintf("handshake rejected: %d", reason))
}

// isSelfOriginUserEvent reports whether data is a USER_JOINED or USER_LEFT
// envelope describing selfID, matching the event filter the client itself
// would otherwise have to apply.
func isSelfOriginUserEvent(data []byte, selfID string) bool {
	var env struct {
		Type    domain.MessageType `json:"t"`
		Payload struct {
			ClientID string `json:"clientId"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return false
	}
	switch env.Type {
	case domain.MessageUserJoined, domain.MessageUserLeft:
		return env.Payload.ClientID == selfID
	default:
		return false
	}
}

func envelope(msgType domain.MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(domain.Envelope{Type: msgType, Payload: raw})
}
