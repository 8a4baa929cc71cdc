package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/newleaf-app/newleaf-rtc/internal/auth"
	"github.com/newleaf-app/newleaf-rtc/internal/core"
	"github.com/newleaf-app/newleaf-rtc/internal/proto"
	"github.com/newleaf-app/newleaf-rtc/internal/utils"
)

// joinTimeout bounds how long a fresh connection may stall before
// sending its join_user handshake.
const joinTimeout = 10 * time.Second

var (
	errUnauthenticated    = errors.New("connection not authenticated")
	errUnsupportedVersion = errors.New("unsupported protocol version")
)

// WSHandler upgrades HTTP connections to websocket sessions and bridges
// them to the hub. Each connection runs a read loop and a write loop;
// either failing tears the session down.
type WSHandler struct {
	hub         *core.Hub
	authService *auth.Service
	msgLimit    int
	log         *zerolog.Logger
}

// NewWSHandler creates the websocket endpoint handler.
func NewWSHandler(hub *core.Hub, authService *auth.Service, msgLimit int, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		hub:         hub,
		authService: authService,
		msgLimit:    msgLimit,
		log:         logger,
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Dev-friendly default; tighten per deployment.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "server closing")

	ctx := r.Context()

	claims, err := h.handshake(ctx, conn)
	if err != nil {
		h.log.Debug().Err(err).Msg("websocket handshake rejected")
		conn.Close(websocket.StatusPolicyViolation, "handshake failed")
		return
	}

	client := core.NewClient(utils.NewConnID(), claims.Username)
	h.hub.RegisterClient(client)
	defer h.hub.UnregisterClient(client)

	logger := h.log.With().
		Str("conn_id", client.ConnID).
		Str("identity", client.Identity).
		Logger()
	logger.Info().Msg("websocket session started")

	errCh := make(chan error, 2)
	go func() { errCh <- h.writeLoop(ctx, conn, client) }()
	go func() { errCh <- h.readLoop(ctx, conn, client) }()

	err = <-errCh
	if err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
		logger.Debug().Err(err).Msg("websocket session error")
	}
	logger.Info().Msg("websocket session closed")
	conn.Close(websocket.StatusNormalClosure, "")
}

// handshake reads the mandatory join_user message and validates its token.
func (h *WSHandler) handshake(ctx context.Context, conn *websocket.Conn) (*auth.Claims, error) {
	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	var in proto.Inbound
	if err := wsjson.Read(ctx, conn, &in); err != nil {
		return nil, err
	}
	if in.Type != proto.InboundTypeJoinUser {
		h.writeError(ctx, conn, core.ErrCodeUnauthorized, "first message must be join_user")
		return nil, errUnauthenticated
	}

	var data proto.JoinUserData
	if err := json.Unmarshal(in.Data, &data); err != nil {
		h.writeError(ctx, conn, core.ErrCodeBadRequest, "malformed join_user payload")
		return nil, err
	}
	if data.Protocol != 0 && data.Protocol != proto.ProtocolVersion {
		h.writeError(ctx, conn, "unsupported_version", "unsupported protocol version")
		return nil, errUnsupportedVersion
	}

	claims, err := h.authService.ValidateToken(data.Token)
	if err != nil {
		h.writeError(ctx, conn, core.ErrCodeUnauthorized, "invalid token")
		return nil, err
	}
	return claims, nil
}

// readLoop decodes inbound frames into commands and forwards them to the
// client's command channel, preserving per-sender order.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newRateLimiter(h.msgLimit)
	defer limiter.stop()

	for {
		var in proto.Inbound
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return err
		}

		if in.Type == proto.InboundTypeJoinUser {
			// Identity is fixed for the connection lifetime.
			h.writeError(ctx, conn, core.ErrCodeBadRequest, "already joined")
			continue
		}

		cmd, err := inboundToCommand(&in)
		if err != nil {
			h.writeError(ctx, conn, core.ErrCodeBadRequest, err.Error())
			continue
		}

		if cmd.Kind == core.CommandSendRoomMessage && !limiter.allow() {
			h.writeError(ctx, conn, "rate_limited", "message rate limit exceeded")
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// writeLoop forwards core events to the wire.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case ev, ok := <-client.Events:
			if !ok {
				return nil
			}
			out := outboundFromEvent(ev)
			if out == nil {
				continue
			}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, code, msg string) {
	out := &proto.Outbound{
		Type:  proto.OutboundTypeError,
		Error: &proto.Error{Code: code, Msg: msg},
	}
	if err := wsjson.Write(ctx, conn, out); err != nil {
		h.log.Debug().Err(err).Msg("failed to write error frame")
	}
}
