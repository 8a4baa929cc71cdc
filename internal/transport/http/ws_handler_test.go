package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/newleaf-app/newleaf-rtc/internal/auth"
	"github.com/newleaf-app/newleaf-rtc/internal/config"
	"github.com/newleaf-app/newleaf-rtc/internal/core"
	"github.com/newleaf-app/newleaf-rtc/internal/proto"
	"github.com/newleaf-app/newleaf-rtc/internal/store/sqlite"
)

func startTestServer(t *testing.T) (*httptest.Server, *auth.Service) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := zerolog.Nop()
	cfg := config.Default()
	cfg.JWTSecret = "test-secret"
	cfg.DialTimeout = 2 * time.Second

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	hub := core.NewHub(st, core.HubConfig{DialTimeout: cfg.DialTimeout})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	server := NewServer(hub, authService, st, &cfg, &logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return ts, authService
}

func registerUser(t *testing.T, ctx context.Context, svc *auth.Service, username string) string {
	t.Helper()

	token, err := svc.Register(ctx, username, "password123")
	if err != nil {
		t.Fatalf("register %s: %v", username, err)
	}
	return token
}

func dialWS(t *testing.T, ctx context.Context, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })

	sendInbound(t, ctx, conn, proto.InboundTypeJoinUser, proto.JoinUserData{
		Token:    token,
		Protocol: proto.ProtocolVersion,
	})
	return conn
}

func sendInbound(t *testing.T, ctx context.Context, conn *websocket.Conn, msgType string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", msgType, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: msgType, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

type rawOutbound struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *proto.Error    `json:"error,omitempty"`
}

// mustEventFrame reads frames until the named event arrives, skipping
// presence noise and other interleaved events.
func mustEventFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, event string) rawOutbound {
	t.Helper()

	for i := 0; i < 20; i++ {
		var out rawOutbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read while waiting for %s: %v", event, err)
		}
		if out.Type == proto.OutboundTypeEvent && out.Event == event {
			return out
		}
	}
	t.Fatalf("event %s never arrived", event)
	return rawOutbound{}
}

func mustErrorFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) *proto.Error {
	t.Helper()

	for i := 0; i < 20; i++ {
		var out rawOutbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("read while waiting for error: %v", err)
		}
		if out.Type == proto.OutboundTypeError {
			return out.Error
		}
	}
	t.Fatal("error frame never arrived")
	return nil
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := startTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	ts, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	sendInbound(t, ctx, conn, proto.InboundTypeJoinUser, proto.JoinUserData{Token: "garbage"})

	errFrame := mustErrorFrame(t, ctx, conn)
	if errFrame.Code != core.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", errFrame)
	}
}

func TestWebSocketRejectsUnsupportedProtocol(t *testing.T) {
	ts, svc := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	token := registerUser(t, ctx, svc, "alice")

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	sendInbound(t, ctx, conn, proto.InboundTypeJoinUser, proto.JoinUserData{
		Token:    token,
		Protocol: proto.ProtocolVersion + 1,
	})

	errFrame := mustErrorFrame(t, ctx, conn)
	if errFrame.Code != "unsupported_version" {
		t.Fatalf("expected unsupported_version, got %+v", errFrame)
	}
}

func TestWebSocketFirstMessageMustBeJoinUser(t *testing.T) {
	ts, _ := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := strings.Replace(ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	sendInbound(t, ctx, conn, proto.InboundTypeJoinConv, proto.JoinConvData{Room: "general"})

	errFrame := mustErrorFrame(t, ctx, conn)
	if errFrame.Code != core.ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", errFrame)
	}
}

func TestWebSocketChatFlow(t *testing.T) {
	ts, svc := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts, registerUser(t, ctx, svc, "alice"))
	connB := dialWS(t, ctx, ts, registerUser(t, ctx, svc, "bob"))

	sendInbound(t, ctx, connA, proto.InboundTypeJoinConv, proto.JoinConvData{Room: "general"})
	mustEventFrame(t, ctx, connA, proto.EventUserJoined)

	sendInbound(t, ctx, connB, proto.InboundTypeJoinConv, proto.JoinConvData{Room: "general"})
	mustEventFrame(t, ctx, connB, proto.EventUserJoined)

	sendInbound(t, ctx, connA, proto.InboundTypeSendMessage, proto.SendMessageData{
		Room: "general", Content: "hi there",
	})

	frame := mustEventFrame(t, ctx, connB, proto.EventReceiveMessage)
	var msg proto.EventMessage
	if err := json.Unmarshal(frame.Data, &msg); err != nil {
		t.Fatalf("decode message: %v", err)
	}
	if msg.Room != "general" || msg.Sender != "alice" || msg.Content != "hi there" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if msg.ID == 0 {
		t.Fatal("expected persisted message id")
	}

	// A late joiner receives the message as history.
	connC := dialWS(t, ctx, ts, registerUser(t, ctx, svc, "carol"))
	sendInbound(t, ctx, connC, proto.InboundTypeJoinConv, proto.JoinConvData{Room: "general"})

	histFrame := mustEventFrame(t, ctx, connC, proto.EventHistoryName)
	var hist proto.EventHistory
	if err := json.Unmarshal(histFrame.Data, &hist); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(hist.Messages) != 1 || hist.Messages[0].Content != "hi there" {
		t.Fatalf("unexpected history: %+v", hist)
	}
}

func TestWebSocketSendWithoutJoinReturnsError(t *testing.T) {
	ts, svc := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, ts, registerUser(t, ctx, svc, "alice"))

	sendInbound(t, ctx, conn, proto.InboundTypeSendMessage, proto.SendMessageData{
		Room: "general", Content: "hello?",
	})

	errFrame := mustErrorFrame(t, ctx, conn)
	if errFrame.Code != core.ErrCodeNotInRoom {
		t.Fatalf("expected not_in_room, got %+v", errFrame)
	}
}

func TestWebSocketCallSignalingRelay(t *testing.T) {
	ts, svc := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts, registerUser(t, ctx, svc, "alice"))
	connB := dialWS(t, ctx, ts, registerUser(t, ctx, svc, "bob"))

	// Drain B's presence snapshot so the dial below is its next event.
	mustEventFrame(t, ctx, connB, proto.EventOnlineUsers)

	offer := json.RawMessage(`{"sdp":"offer","candidates":["a","b"]}`)
	sendInbound(t, ctx, connA, proto.InboundTypeCallUser, proto.CallUserData{
		CallID: "call-1", Recipient: "bob", Signal: offer, Video: true,
	})

	mustEventFrame(t, ctx, connA, proto.EventCallRinging)

	frame := mustEventFrame(t, ctx, connB, proto.EventIncomingCall)
	var incoming proto.EventCall
	if err := json.Unmarshal(frame.Data, &incoming); err != nil {
		t.Fatalf("decode incoming: %v", err)
	}
	if incoming.From != "alice" || !incoming.Video {
		t.Fatalf("unexpected incoming call: %+v", incoming)
	}
	// The signal blob is relayed verbatim, untouched by the server.
	if string(incoming.Signal) != string(offer) {
		t.Fatalf("signal mangled: %s", incoming.Signal)
	}

	answer := json.RawMessage(`{"sdp":"answer"}`)
	sendInbound(t, ctx, connB, proto.InboundTypeAnswerCall, proto.AnswerCallData{
		CallID: "call-1", Signal: answer,
	})

	frame = mustEventFrame(t, ctx, connA, proto.EventCallAccepted)
	var accepted proto.EventCall
	if err := json.Unmarshal(frame.Data, &accepted); err != nil {
		t.Fatalf("decode accepted: %v", err)
	}
	if string(accepted.Signal) != string(answer) {
		t.Fatalf("answer mangled: %s", accepted.Signal)
	}

	sendInbound(t, ctx, connA, proto.InboundTypeEndCall, proto.CallRefData{CallID: "call-1"})

	frame = mustEventFrame(t, ctx, connB, proto.EventCallEnded)
	var ended proto.EventCall
	if err := json.Unmarshal(frame.Data, &ended); err != nil {
		t.Fatalf("decode ended: %v", err)
	}
	if ended.Reason != core.ReasonHangup {
		t.Fatalf("unexpected end reason: %+v", ended)
	}
}

func TestWebSocketDisconnectEndsCallForPeer(t *testing.T) {
	ts, svc := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	connA := dialWS(t, ctx, ts, registerUser(t, ctx, svc, "alice"))
	connB := dialWS(t, ctx, ts, registerUser(t, ctx, svc, "bob"))
	mustEventFrame(t, ctx, connB, proto.EventOnlineUsers)

	sendInbound(t, ctx, connA, proto.InboundTypeCallUser, proto.CallUserData{
		CallID: "call-1", Recipient: "bob", Signal: json.RawMessage(`{}`),
	})
	mustEventFrame(t, ctx, connB, proto.EventIncomingCall)

	sendInbound(t, ctx, connB, proto.InboundTypeAnswerCall, proto.AnswerCallData{
		CallID: "call-1", Signal: json.RawMessage(`{}`),
	})
	mustEventFrame(t, ctx, connA, proto.EventCallAccepted)

	_ = connB.Close(websocket.StatusNormalClosure, "gone")

	frame := mustEventFrame(t, ctx, connA, proto.EventCallEnded)
	var ended proto.EventCall
	if err := json.Unmarshal(frame.Data, &ended); err != nil {
		t.Fatalf("decode ended: %v", err)
	}
	if ended.Reason != core.ReasonPeerDisconnected {
		t.Fatalf("expected peer_disconnected, got %+v", ended)
	}
}
