package core

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/newleaf-app/newleaf-rtc/internal/store"
)

const defaultDialTimeout = 45 * time.Second

// HubConfig tunes hub behavior. Zero values fall back to defaults.
type HubConfig struct {
	Logger *zerolog.Logger
	// DialTimeout bounds how long a call may ring unanswered.
	DialTimeout time.Duration
	// HistoryLimit is how many recent messages a client receives on join.
	HistoryLimit int
}

// Hub coordinates presence, room fan-out, and call signaling. A single
// goroutine (Run) owns the registry, the room set, and the call table;
// clients interact exclusively through channels, which both removes lock
// contention under presence churn and serializes each sender's messages
// so per-room ordering holds.
type Hub struct {
	store        store.MessageStore // may be nil; history and durability are skipped
	log          zerolog.Logger
	dialTimeout  time.Duration
	historyLimit int

	register    chan *Client
	unregister  chan *Client
	commands    chan clientCommand
	expired     chan string
	presenceReq chan chan []string
	stopped     chan struct{}

	// Owned by the Run goroutine.
	runCtx   context.Context
	registry *registry
	rooms    map[string]*Room
	calls    *callTable
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

// NewHub creates a new hub. st may be nil when no durable store is wired
// (pure relay mode, used in tests).
func NewHub(st store.MessageStore, cfg HubConfig) *Hub {
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 50
	}

	return &Hub{
		store:        st,
		log:          logger,
		dialTimeout:  dialTimeout,
		historyLimit: historyLimit,
		register:     make(chan *Client, 8),
		unregister:   make(chan *Client, 8),
		commands:     make(chan clientCommand, 64),
		expired:      make(chan string, 32),
		presenceReq:  make(chan chan []string, 8),
		stopped:      make(chan struct{}),
		registry:     newRegistry(),
		rooms:        make(map[string]*Room),
		calls:        newCallTable(),
	}
}

// RegisterClient announces a freshly authenticated connection to the hub.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.stopped:
	}
}

// UnregisterClient removes a connection. Idempotent; safe to call from a
// deferred transport teardown even if registration never completed.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}

// Online returns the identities currently holding a live connection.
// Eventually consistent: a just-dropped connection may linger briefly.
func (h *Hub) Online(ctx context.Context) ([]string, error) {
	reply := make(chan []string, 1)
	select {
	case h.presenceReq <- reply:
	case <-h.stopped:
		return nil, context.Canceled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case identities := <-reply:
		return identities, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run drives the hub until ctx is cancelled. It must be started exactly once.
func (h *Hub) Run(ctx context.Context) {
	h.runCtx = ctx
	defer close(h.stopped)

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.handleRegister(c)
		case c := <-h.unregister:
			h.handleUnregister(c)
		case cc := <-h.commands:
			h.handleCommand(cc.client, cc.cmd)
		case callID := <-h.expired:
			h.handleDialTimeout(callID)
		case reply := <-h.presenceReq:
			identities := h.registry.online()
			sort.Strings(identities)
			reply <- identities
		}
	}
}

func (h *Hub) handleRegister(c *Client) {
	if h.registry.has(c) {
		return
	}
	first := h.registry.add(c)

	// Forward the client's commands into the hub loop. The dedicated
	// forwarder keeps each sender's commands in emission order.
	go h.pump(c)

	c.send(&Event{
		Kind:       EventPresenceSnapshot,
		Identities: h.registry.online(),
	})

	if first {
		delta := &Event{Kind: EventUserOnline, User: c.Identity}
		h.registry.each(func(other *Client) {
			if other != c {
				other.send(delta)
			}
		})
	}

	h.log.Debug().Str("conn_id", c.ConnID).Str("identity", c.Identity).Bool("first", first).Msg("client registered")
}

func (h *Hub) pump(c *Client) {
	for {
		select {
		case <-c.done:
			return
		case cmd := <-c.Commands:
			select {
			case h.commands <- clientCommand{client: c, cmd: cmd}:
			case <-c.done:
				return
			}
		}
	}
}

func (h *Hub) handleUnregister(c *Client) {
	select {
	case <-c.done:
		return // already unregistered
	default:
	}
	close(c.done)

	for name := range c.rooms {
		if room, ok := h.rooms[name]; ok {
			room.RemoveClient(c)
			room.Broadcast(&Event{Kind: EventUserLeft, Room: name, User: c.Identity}, nil)
			if room.Empty() {
				delete(h.rooms, name)
			}
		}
	}

	last := h.registry.remove(c)
	if last {
		delta := &Event{Kind: EventUserOffline, User: c.Identity}
		h.registry.each(func(other *Client) {
			other.send(delta)
		})
	}

	h.cleanupCallsFor(c, last)

	h.log.Debug().Str("conn_id", c.ConnID).Str("identity", c.Identity).Bool("last", last).Msg("client unregistered")
}

// cleanupCallsFor tears down any call the departing connection was party
// to, so the surviving side never hangs waiting on a dead peer.
func (h *Hub) cleanupCallsFor(c *Client, lastConn bool) {
	cl, ok := h.calls.forIdentity(c.Identity)
	if !ok {
		return
	}

	switch {
	case cl.caller == c:
		// Caller connection gone: suppress or end the callee side.
		if cl.answered() {
			cl.answeredBy.send(callEvent(EventCallEnded, cl, ReasonPeerDisconnected))
		} else {
			h.sendToIdentity(cl.calleeID, callEvent(EventCallCancelled, cl, ReasonPeerDisconnected))
		}
		h.calls.remove(cl)
	case cl.answeredBy == c:
		cl.caller.send(callEvent(EventCallEnded, cl, ReasonPeerDisconnected))
		h.calls.remove(cl)
	case c.Identity == cl.calleeID && !cl.answered() && lastConn:
		// Every callee device is gone while still ringing.
		cl.caller.send(callEvent(EventCallFailed, cl, ReasonPeerDisconnected))
		h.calls.remove(cl)
	}
}

func (h *Hub) handleCommand(c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandJoinRoom:
		h.handleJoinRoom(c, cmd.Room)
	case CommandLeaveRoom:
		h.handleLeaveRoom(c, cmd.Room)
	case CommandSendRoomMessage:
		h.handleRoomMessage(c, cmd)
	case CommandPlaceCall:
		h.handlePlaceCall(c, cmd.Call)
	case CommandAnswerCall:
		h.handleAnswerCall(c, cmd.Call)
	case CommandDeclineCall:
		h.handleDeclineCall(c, cmd.Call)
	case CommandCancelCall:
		h.handleCancelCall(c, cmd.Call)
	case CommandEndCall:
		h.handleEndCall(c, cmd.Call)
	default:
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "unknown command")})
	}
}

func (h *Hub) handleJoinRoom(c *Client, name string) {
	if name == "" {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "room is required")})
		return
	}
	if _, already := c.rooms[name]; already {
		// Rejoin is a no-op success.
		return
	}

	room, ok := h.rooms[name]
	if !ok {
		room = NewRoom(name)
		h.rooms[name] = room
	}
	room.AddClient(c)
	c.rooms[name] = struct{}{}

	room.Broadcast(&Event{Kind: EventUserJoined, Room: name, User: c.Identity}, nil)
	h.sendHistory(c, name)
}

func (h *Hub) sendHistory(c *Client, room string) {
	if h.store == nil {
		return
	}
	stored, err := h.store.ListMessages(h.runCtx, room, h.historyLimit, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("room", room).Msg("failed to load history")
		return
	}

	// Stored newest-first; deliver chronologically.
	messages := make([]Message, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		m := stored[i]
		messages = append(messages, Message{
			ID:          m.ID,
			Room:        m.ConversationID,
			Sender:      m.Sender,
			Content:     m.Body,
			ContentType: m.ContentType,
			CreatedAt:   m.CreatedAt,
		})
	}
	c.send(&Event{Kind: EventHistory, Room: room, Messages: messages})
}

func (h *Hub) handleLeaveRoom(c *Client, name string) {
	room, ok := h.rooms[name]
	if !ok {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeRoomNotFound, "room not found")})
		return
	}
	if _, member := c.rooms[name]; !member {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeNotInRoom, "not in room")})
		return
	}

	delete(c.rooms, name)
	room.RemoveClient(c)
	room.Broadcast(&Event{Kind: EventUserLeft, Room: name, User: c.Identity}, nil)
	if room.Empty() {
		delete(h.rooms, name)
	}
}

func (h *Hub) handleRoomMessage(c *Client, cmd *Command) {
	room, ok := h.rooms[cmd.Room]
	if !ok {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeNotInRoom, "not in room")})
		return
	}
	if _, member := c.rooms[cmd.Room]; !member {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeNotInRoom, "not in room")})
		return
	}

	msg := cmd.Message
	msg.Room = cmd.Room
	msg.Sender = c.Identity
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.ContentType == "" {
		msg.ContentType = "text"
	}

	if h.store != nil {
		record := &store.Message{
			ConversationID: msg.Room,
			Sender:         msg.Sender,
			Body:           msg.Content,
			ContentType:    msg.ContentType,
			CreatedAt:      msg.CreatedAt,
		}
		if err := h.store.SaveMessage(h.runCtx, record); err != nil {
			// Live fan-out continues; offline members lose this message.
			h.log.Warn().Err(err).Str("room", msg.Room).Msg("failed to persist message")
		} else {
			msg.ID = record.ID
		}
	}

	room.Broadcast(&Event{Kind: EventRoomMessage, Room: msg.Room, Message: msg}, c)
}

func (h *Hub) handlePlaceCall(c *Client, req *CallRequest) {
	if req == nil || req.Target == "" {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "call target is required")})
		return
	}
	if req.Target == c.Identity {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "cannot call yourself")})
		return
	}

	callID := req.CallID
	if callID == "" {
		callID = uuid.New().String()
	}

	if h.calls.busy(c.Identity) || h.calls.busy(req.Target) {
		c.send(&Event{Kind: EventCallFailed, Call: &CallEvent{
			CallID: callID, To: req.Target, Reason: ErrCodeBusy,
		}})
		return
	}

	targets := h.registry.lookup(req.Target)
	if len(targets) == 0 {
		c.send(&Event{Kind: EventCallFailed, Call: &CallEvent{
			CallID: callID, To: req.Target, Reason: ReasonRecipientOffline,
		}})
		return
	}

	cl := &call{
		id:       callID,
		callerID: c.Identity,
		calleeID: req.Target,
		caller:   c,
		video:    req.Video,
	}
	cl.timer = time.AfterFunc(h.dialTimeout, func() {
		select {
		case h.expired <- callID:
		case <-h.stopped:
		}
	})
	h.calls.insert(cl)

	incoming := &Event{Kind: EventCallIncoming, Call: &CallEvent{
		CallID: callID,
		From:   c.Identity,
		Signal: req.Signal,
		Video:  req.Video,
	}}
	for _, target := range targets {
		target.send(incoming)
	}

	c.send(callEvent(EventCallRinging, cl, ""))

	h.log.Debug().Str("call_id", callID).Str("from", c.Identity).Str("to", req.Target).Msg("call ringing")
}

func (h *Hub) handleAnswerCall(c *Client, req *CallRequest) {
	cl, ok := h.lookupCall(c, req)
	if !ok {
		return
	}
	if c.Identity != cl.calleeID {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeNotCallParty, "not a party to this call")})
		return
	}
	if cl.answered() {
		// Lost the race against another device of the same identity.
		c.send(callEvent(EventCallCancelled, cl, ReasonAnsweredElsewhere))
		return
	}

	cl.answeredBy = c
	if cl.timer != nil {
		cl.timer.Stop()
		cl.timer = nil
	}

	cl.caller.send(&Event{Kind: EventCallAccepted, Call: &CallEvent{
		CallID: cl.id,
		From:   cl.calleeID,
		Signal: req.Signal,
	}})

	h.sendToIdentityExcept(cl.calleeID, c, callEvent(EventCallCancelled, cl, ReasonAnsweredElsewhere))

	h.log.Debug().Str("call_id", cl.id).Str("by", c.Identity).Msg("call answered")
}

func (h *Hub) handleDeclineCall(c *Client, req *CallRequest) {
	cl, ok := h.lookupCall(c, req)
	if !ok {
		return
	}
	if c.Identity != cl.calleeID {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeNotCallParty, "not a party to this call")})
		return
	}
	if cl.answered() {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "call already answered")})
		return
	}

	reason := req.Reason
	if reason == "" {
		reason = ReasonDeclined
	}
	cl.caller.send(callEvent(EventCallDeclined, cl, reason))
	h.sendToIdentityExcept(cl.calleeID, c, callEvent(EventCallCancelled, cl, ReasonDeclined))
	h.calls.remove(cl)
}

func (h *Hub) handleCancelCall(c *Client, req *CallRequest) {
	cl, ok := h.lookupCall(c, req)
	if !ok {
		return
	}
	if cl.caller != c {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeNotCallParty, "not a party to this call")})
		return
	}
	if cl.answered() {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "call already answered")})
		return
	}

	h.sendToIdentity(cl.calleeID, callEvent(EventCallCancelled, cl, ReasonCancelled))
	h.calls.remove(cl)
}

func (h *Hub) handleEndCall(c *Client, req *CallRequest) {
	cl, ok := h.lookupCall(c, req)
	if !ok {
		return
	}

	if !cl.answered() {
		// Hangup before acceptance from the caller acts as a cancel.
		if cl.caller == c {
			h.sendToIdentity(cl.calleeID, callEvent(EventCallCancelled, cl, ReasonCancelled))
			h.calls.remove(cl)
			return
		}
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeNotCallParty, "not a party to this call")})
		return
	}

	var peer *Client
	switch c {
	case cl.caller:
		peer = cl.answeredBy
	case cl.answeredBy:
		peer = cl.caller
	default:
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeNotCallParty, "not a party to this call")})
		return
	}

	peer.send(callEvent(EventCallEnded, cl, ReasonHangup))
	h.calls.remove(cl)

	h.log.Debug().Str("call_id", cl.id).Str("by", c.Identity).Msg("call ended")
}

func (h *Hub) handleDialTimeout(callID string) {
	cl, ok := h.calls.get(callID)
	if !ok || cl.answered() {
		return
	}

	cl.caller.send(callEvent(EventCallFailed, cl, ReasonTimeout))
	h.sendToIdentity(cl.calleeID, callEvent(EventCallCancelled, cl, ReasonTimeout))
	h.calls.remove(cl)

	h.log.Debug().Str("call_id", callID).Msg("dial timeout")
}

func (h *Hub) lookupCall(c *Client, req *CallRequest) (*call, bool) {
	if req == nil || req.CallID == "" {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "call_id is required")})
		return nil, false
	}
	cl, ok := h.calls.get(req.CallID)
	if !ok {
		c.send(&Event{Kind: EventError, Error: coreError(ErrCodeCallNotFound, "call not found")})
		return nil, false
	}
	return cl, true
}

func (h *Hub) sendToIdentity(identity string, event *Event) {
	for _, conn := range h.registry.lookup(identity) {
		conn.send(event)
	}
}

func (h *Hub) sendToIdentityExcept(identity string, except *Client, event *Event) {
	for _, conn := range h.registry.lookup(identity) {
		if conn != except {
			conn.send(event)
		}
	}
}

func callEvent(kind EventKind, cl *call, reason string) *Event {
	return &Event{Kind: kind, Call: &CallEvent{
		CallID: cl.id,
		From:   cl.callerID,
		To:     cl.calleeID,
		Video:  cl.video,
		Reason: reason,
	}}
}
