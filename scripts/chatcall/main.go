// Command chatcall is a terminal client for manual testing: chat in
// conversations and place voice/video calls between two running copies.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/newleaf-app/newleaf-rtc/internal/call"
	"github.com/newleaf-app/newleaf-rtc/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("chatcall: %v", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	user := flag.String("user", "", "username (registers on first use)")
	pass := flag.String("pass", "secret123", "password")
	noMedia := flag.Bool("no-media", false, "disable call media (calls report unavailable)")
	flag.Parse()

	if *user == "" {
		return errors.New("-user is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	token, err := obtainToken(ctx, *server, *user, *pass)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	wsURL := strings.Replace(*server, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")
	conn.SetReadLimit(1 << 20)

	client := &wsClient{ctx: ctx, conn: conn}
	if err := client.sendTyped(proto.InboundTypeJoinUser, proto.JoinUserData{
		Token:    token,
		Protocol: proto.ProtocolVersion,
	}); err != nil {
		return fmt.Errorf("join_user: %w", err)
	}

	var engine call.Engine
	if !*noMedia {
		eng, err := call.NewPionEngine(nil, call.StaticMedia{})
		if err != nil {
			log.Printf("media engine unavailable: %v", err)
		} else {
			engine = eng
		}
	}

	mgr := call.New(client, engine, call.ManagerConfig{})
	defer mgr.Close()
	mgr.OnIncoming(func(s *call.Session) {
		fmt.Printf("\n*** incoming %s call %s from %s — /accept or /decline\n",
			callKind(s.Video), s.ID, s.RemotePeer)
		watchSession(s)
	})

	fmt.Printf("Connected to %s as %s. Commands:\n", *server, *user)
	fmt.Println("  /join <room>      /leave <room>     /msg <room> <text>")
	fmt.Println("  /call <user>      /video <user>     /accept  /decline  /hangup")
	fmt.Println("  /mute             /unmute           Ctrl+C to exit")

	go func() {
		defer cancel()
		client.readLoop()
	}()

	inputLoop(ctx, client, mgr)
	return nil
}

// obtainToken logs in, falling back to registration for a fresh username.
func obtainToken(ctx context.Context, server, user, pass string) (string, error) {
	body, _ := json.Marshal(map[string]string{"username": user, "password": pass})

	token, status, err := postAuth(ctx, server+"/api/login", body)
	if err != nil {
		return "", err
	}
	if status == http.StatusUnauthorized {
		token, status, err = postAuth(ctx, server+"/api/register", body)
		if err != nil {
			return "", err
		}
	}
	if token == "" {
		return "", fmt.Errorf("auth failed with status %d", status)
	}
	return token, nil
}

func postAuth(ctx context.Context, url string, body []byte) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	var out struct {
		Token string `json:"token"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.Token, resp.StatusCode, nil
}

// wsClient owns the websocket and implements call.Signaler on top of it.
// Chat events are printed; call events fan out to signal subscribers.
type wsClient struct {
	ctx  context.Context
	conn *websocket.Conn

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  []chan call.SignalEvent
}

func (c *wsClient) sendTyped(msgType string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wsjson.Write(c.ctx, c.conn, proto.Inbound{Type: msgType, Data: payload})
}

func (c *wsClient) PlaceCall(callID, target string, signal json.RawMessage, video bool) error {
	return c.sendTyped(proto.InboundTypeCallUser, proto.CallUserData{
		CallID: callID, Recipient: target, Signal: signal, Video: video,
	})
}

func (c *wsClient) AnswerCall(callID string, signal json.RawMessage) error {
	return c.sendTyped(proto.InboundTypeAnswerCall, proto.AnswerCallData{CallID: callID, Signal: signal})
}

func (c *wsClient) DeclineCall(callID, reason string) error {
	return c.sendTyped(proto.InboundTypeDeclineCall, proto.DeclineCallData{CallID: callID, Reason: reason})
}

func (c *wsClient) CancelCall(callID string) error {
	return c.sendTyped(proto.InboundTypeCancelCall, proto.CallRefData{CallID: callID})
}

func (c *wsClient) EndCall(callID string) error {
	return c.sendTyped(proto.InboundTypeEndCall, proto.CallRefData{CallID: callID})
}

func (c *wsClient) Subscribe() (<-chan call.SignalEvent, func()) {
	ch := make(chan call.SignalEvent, 16)
	c.subMu.Lock()
	c.subs = append(c.subs, ch)
	c.subMu.Unlock()

	cancel := func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		for i, sub := range c.subs {
			if sub == ch {
				c.subs = append(c.subs[:i], c.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (c *wsClient) publish(ev call.SignalEvent) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, sub := range c.subs {
		select {
		case sub <- ev:
		default:
		}
	}
}

func (c *wsClient) readLoop() {
	for {
		var out proto.Outbound
		if err := wsjson.Read(c.ctx, c.conn, &out); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return
			}
			log.Printf("read error: %v", err)
			return
		}
		c.handleOutbound(&out)
	}
}

var callEventKinds = map[string]call.SignalEventKind{
	proto.EventIncomingCall:  call.SignalIncomingCall,
	proto.EventCallRinging:   call.SignalCallRinging,
	proto.EventCallAccepted:  call.SignalCallAccepted,
	proto.EventCallDeclined:  call.SignalCallDeclined,
	proto.EventCallCancelled: call.SignalCallCancelled,
	proto.EventCallEnded:     call.SignalCallEnded,
	proto.EventCallFailed:    call.SignalCallFailed,
}

func (c *wsClient) handleOutbound(out *proto.Outbound) {
	if out.Type == proto.OutboundTypeError {
		if out.Error != nil {
			fmt.Printf("[server error] %s: %s\n", out.Error.Code, out.Error.Msg)
		}
		return
	}

	if kind, ok := callEventKinds[out.Event]; ok {
		var evt proto.EventCall
		if err := reunmarshal(out.Data, &evt); err != nil {
			log.Printf("decode %s: %v", out.Event, err)
			return
		}
		c.publish(call.SignalEvent{
			Kind:   kind,
			CallID: evt.CallID,
			From:   evt.From,
			Signal: evt.Signal,
			Video:  evt.Video,
			Reason: evt.Reason,
		})
		return
	}

	switch out.Event {
	case proto.EventReceiveMessage:
		var evt proto.EventMessage
		if err := reunmarshal(out.Data, &evt); err == nil {
			fmt.Printf("[%s] %s: %s\n", evt.Room, evt.Sender, evt.Content)
		}
	case proto.EventHistoryName:
		var evt proto.EventHistory
		if err := reunmarshal(out.Data, &evt); err == nil {
			for _, m := range evt.Messages {
				fmt.Printf("[%s history] %s: %s\n", evt.Room, m.Sender, m.Content)
			}
		}
	case proto.EventUserJoined:
		var evt proto.EventRoomUser
		if err := reunmarshal(out.Data, &evt); err == nil {
			fmt.Printf("[%s] %s joined\n", evt.Room, evt.User)
		}
	case proto.EventUserLeft:
		var evt proto.EventRoomUser
		if err := reunmarshal(out.Data, &evt); err == nil {
			fmt.Printf("[%s] %s left\n", evt.Room, evt.User)
		}
	case proto.EventOnlineUsers:
		var evt proto.EventPresenceSnapshot
		if err := reunmarshal(out.Data, &evt); err == nil {
			fmt.Printf("online: %s\n", strings.Join(evt.Identities, ", "))
		}
	case proto.EventUserOnline:
		var evt proto.EventPresenceDelta
		if err := reunmarshal(out.Data, &evt); err == nil {
			fmt.Printf("%s is online\n", evt.Identity)
		}
	case proto.EventUserOffline:
		var evt proto.EventPresenceDelta
		if err := reunmarshal(out.Data, &evt); err == nil {
			fmt.Printf("%s went offline\n", evt.Identity)
		}
	}
}

// reunmarshal converts the envelope's decoded any back into a concrete
// event struct.
func reunmarshal(data any, v any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func inputLoop(ctx context.Context, client *wsClient, mgr *call.Manager) {
	var (
		mu      sync.Mutex
		current *call.Session
	)
	setCurrent := func(s *call.Session) {
		mu.Lock()
		current = s
		mu.Unlock()
	}
	getCurrent := func() *call.Session {
		mu.Lock()
		defer mu.Unlock()
		if current != nil && current.State().Terminal() {
			current = nil
		}
		return current
	}
	mgr.OnIncoming(setCurrent)

	dial := func(target string, video bool) {
		s, err := mgr.Dial(ctx, target, video)
		if err != nil {
			fmt.Printf("call failed: %v\n", err)
			return
		}
		setCurrent(s)
		watchSession(s)
		fmt.Printf("calling %s (%s)...\n", target, s.ID)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		cmd, rest, _ := strings.Cut(line, " ")
		switch cmd {
		case "/join":
			_ = client.sendTyped(proto.InboundTypeJoinConv, proto.JoinConvData{Room: rest})
		case "/leave":
			_ = client.sendTyped(proto.InboundTypeLeaveConv, proto.JoinConvData{Room: rest})
		case "/msg":
			room, text, ok := strings.Cut(rest, " ")
			if !ok {
				fmt.Println("usage: /msg <room> <text>")
				continue
			}
			_ = client.sendTyped(proto.InboundTypeSendMessage, proto.SendMessageData{Room: room, Content: text})
		case "/call":
			dial(rest, false)
		case "/video":
			dial(rest, true)
		case "/accept":
			if s := getCurrent(); s != nil {
				if err := s.Accept(ctx); err != nil {
					fmt.Printf("accept failed: %v\n", err)
				}
			} else {
				fmt.Println("no call to accept")
			}
		case "/decline":
			if s := getCurrent(); s != nil {
				s.Decline("declined")
			} else {
				fmt.Println("no call to decline")
			}
		case "/hangup":
			if s := getCurrent(); s != nil {
				s.Hangup()
			} else {
				fmt.Println("no active call")
			}
		case "/mute", "/unmute":
			s := getCurrent()
			if s == nil {
				fmt.Println("no active call")
				continue
			}
			wantEnabled := cmd == "/unmute"
			enabled := s.ToggleAudio()
			if enabled != wantEnabled {
				enabled = s.ToggleAudio()
			}
			if enabled {
				fmt.Println("unmuted")
			} else {
				fmt.Println("muted")
			}
		default:
			fmt.Println("unknown command; try /join, /msg, /call, /accept, /hangup")
		}
	}
}

// watchSession prints state transitions for a call session.
func watchSession(s *call.Session) {
	s.OnStateChange(func(state call.State) {
		if state.Terminal() {
			fmt.Printf("call %s: %s (%s)\n", s.ID, state, s.Reason())
			return
		}
		fmt.Printf("call %s: %s\n", s.ID, state)
	})
	s.OnRemoteTrack(func(t call.RemoteTrack) {
		fmt.Printf("call %s: receiving remote %s track\n", s.ID, t.Kind)
	})
}

func callKind(video bool) string {
	if video {
		return "video"
	}
	return "voice"
}
