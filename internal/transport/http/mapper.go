package http

import (
	"encoding/json"
	"fmt"

	"github.com/newleaf-app/newleaf-rtc/internal/core"
	"github.com/newleaf-app/newleaf-rtc/internal/proto"
)

// inboundToCommand translates a decoded wire message into a core command.
// join_user is handled earlier in the handshake and never reaches here.
func inboundToCommand(in *proto.Inbound) (*core.Command, error) {
	switch in.Type {
	case proto.InboundTypeJoinConv:
		var data proto.JoinConvData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, fmt.Errorf("decode join_conversation: %w", err)
		}
		if data.Room == "" {
			return nil, fmt.Errorf("join_conversation: room is required")
		}
		return &core.Command{Kind: core.CommandJoinRoom, Room: data.Room}, nil

	case proto.InboundTypeLeaveConv:
		var data proto.JoinConvData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, fmt.Errorf("decode leave_conversation: %w", err)
		}
		if data.Room == "" {
			return nil, fmt.Errorf("leave_conversation: room is required")
		}
		return &core.Command{Kind: core.CommandLeaveRoom, Room: data.Room}, nil

	case proto.InboundTypeSendMessage:
		var data proto.SendMessageData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, fmt.Errorf("decode send_message: %w", err)
		}
		if data.Room == "" || data.Content == "" {
			return nil, fmt.Errorf("send_message: room and content are required")
		}
		return &core.Command{
			Kind: core.CommandSendRoomMessage,
			Room: data.Room,
			Message: core.Message{
				Room:        data.Room,
				Content:     data.Content,
				ContentType: data.ContentType,
			},
		}, nil

	case proto.InboundTypeCallUser:
		var data proto.CallUserData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, fmt.Errorf("decode call_user: %w", err)
		}
		if data.Recipient == "" {
			return nil, fmt.Errorf("call_user: recipient is required")
		}
		return &core.Command{
			Kind: core.CommandPlaceCall,
			Call: &core.CallRequest{
				CallID: data.CallID,
				Target: data.Recipient,
				Signal: data.Signal,
				Video:  data.Video,
			},
		}, nil

	case proto.InboundTypeAnswerCall:
		var data proto.AnswerCallData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, fmt.Errorf("decode answer_call: %w", err)
		}
		if data.CallID == "" {
			return nil, fmt.Errorf("answer_call: call_id is required")
		}
		return &core.Command{
			Kind: core.CommandAnswerCall,
			Call: &core.CallRequest{CallID: data.CallID, Signal: data.Signal},
		}, nil

	case proto.InboundTypeDeclineCall:
		var data proto.DeclineCallData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, fmt.Errorf("decode decline_call: %w", err)
		}
		if data.CallID == "" {
			return nil, fmt.Errorf("decline_call: call_id is required")
		}
		return &core.Command{
			Kind: core.CommandDeclineCall,
			Call: &core.CallRequest{CallID: data.CallID, Reason: data.Reason},
		}, nil

	case proto.InboundTypeCancelCall:
		var data proto.CallRefData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, fmt.Errorf("decode cancel_call: %w", err)
		}
		if data.CallID == "" {
			return nil, fmt.Errorf("cancel_call: call_id is required")
		}
		return &core.Command{
			Kind: core.CommandCancelCall,
			Call: &core.CallRequest{CallID: data.CallID},
		}, nil

	case proto.InboundTypeEndCall:
		var data proto.CallRefData
		if err := json.Unmarshal(in.Data, &data); err != nil {
			return nil, fmt.Errorf("decode end_call: %w", err)
		}
		if data.CallID == "" {
			return nil, fmt.Errorf("end_call: call_id is required")
		}
		return &core.Command{
			Kind: core.CommandEndCall,
			Call: &core.CallRequest{CallID: data.CallID},
		}, nil

	default:
		return nil, fmt.Errorf("unknown message type: %s", in.Type)
	}
}

// outboundFromEvent translates a core event into its wire form.
func outboundFromEvent(ev *core.Event) *proto.Outbound {
	switch ev.Kind {
	case core.EventRoomMessage:
		return eventOutbound(proto.EventReceiveMessage, toEventMessage(ev.Message))

	case core.EventUserJoined:
		return eventOutbound(proto.EventUserJoined, proto.EventRoomUser{Room: ev.Room, User: ev.User})

	case core.EventUserLeft:
		return eventOutbound(proto.EventUserLeft, proto.EventRoomUser{Room: ev.Room, User: ev.User})

	case core.EventHistory:
		msgs := make([]proto.EventMessage, 0, len(ev.Messages))
		for _, m := range ev.Messages {
			msgs = append(msgs, toEventMessage(m))
		}
		return eventOutbound(proto.EventHistoryName, proto.EventHistory{Room: ev.Room, Messages: msgs})

	case core.EventPresenceSnapshot:
		return eventOutbound(proto.EventOnlineUsers, proto.EventPresenceSnapshot{Identities: ev.Identities})

	case core.EventUserOnline:
		return eventOutbound(proto.EventUserOnline, proto.EventPresenceDelta{Identity: ev.User})

	case core.EventUserOffline:
		return eventOutbound(proto.EventUserOffline, proto.EventPresenceDelta{Identity: ev.User})

	case core.EventCallIncoming:
		return eventOutbound(proto.EventIncomingCall, toEventCall(ev.Call))

	case core.EventCallRinging:
		return eventOutbound(proto.EventCallRinging, toEventCall(ev.Call))

	case core.EventCallAccepted:
		return eventOutbound(proto.EventCallAccepted, toEventCall(ev.Call))

	case core.EventCallDeclined:
		return eventOutbound(proto.EventCallDeclined, toEventCall(ev.Call))

	case core.EventCallCancelled:
		return eventOutbound(proto.EventCallCancelled, toEventCall(ev.Call))

	case core.EventCallEnded:
		return eventOutbound(proto.EventCallEnded, toEventCall(ev.Call))

	case core.EventCallFailed:
		return eventOutbound(proto.EventCallFailed, toEventCall(ev.Call))

	case core.EventError:
		out := &proto.Outbound{Type: proto.OutboundTypeError}
		if ev.Error != nil {
			out.Error = &proto.Error{Code: ev.Error.Code, Msg: ev.Error.Message}
		} else {
			out.Error = &proto.Error{Code: "internal", Msg: "internal error"}
		}
		return out

	default:
		return nil
	}
}

func eventOutbound(name string, data any) *proto.Outbound {
	return &proto.Outbound{Type: proto.OutboundTypeEvent, Event: name, Data: data}
}

func toEventMessage(m core.Message) proto.EventMessage {
	return proto.EventMessage{
		ID:          m.ID,
		Room:        m.Room,
		Sender:      m.Sender,
		Content:     m.Content,
		ContentType: m.ContentType,
		TS:          m.CreatedAt.UnixMilli(),
	}
}

func toEventCall(c *core.CallEvent) proto.EventCall {
	if c == nil {
		return proto.EventCall{}
	}
	return proto.EventCall{
		CallID: c.CallID,
		From:   c.From,
		To:     c.To,
		Signal: c.Signal,
		Video:  c.Video,
		Reason: c.Reason,
	}
}
