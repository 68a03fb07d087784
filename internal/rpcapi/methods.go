package rpcapi

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"time"

	"i3gateway/internal/lpc"
	"i3gateway/internal/packet"
	"i3gateway/internal/services"
)

// methodFunc handles one JSON-RPC method call and returns either a result
// (marshaled into the response) or an RPCError.
type methodFunc func(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError)

func (s *Server) buildMethodTable() map[string]methodFunc {
	return map[string]methodFunc{
		"tell":            methodTell,
		"emoteto":         methodEmoteTo,
		"channel_send":    methodChannelSend,
		"channel_emote":   methodChannelEmote,
		"channel_join":    methodChannelJoin,
		"channel_leave":   methodChannelLeave,
		"channel_list":    methodChannelList,
		"channel_who":     methodChannelWho,
		"channel_history": methodChannelHistory,
		"who":             methodWho,
		"finger":          methodFinger,
		"locate":          methodLocate,
		"mudlist":         methodMudlist,
		"ping":            methodPing,
		"status":          methodStatus,
		"stats":           methodStats,
		"reconnect":       methodReconnect,
	}
}

// dispatch looks up and invokes the method named by req, translating an
// unknown method into a standard JSON-RPC error.
func (s *Server) dispatch(ctx context.Context, req Request) Response {
	fn, ok := s.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, ErrCodeMethodNotFound, "unknown method: "+req.Method)
	}
	result, rpcErr := fn(ctx, s, req.Params)
	if rpcErr != nil {
		return errorResponse(req.ID, rpcErr.Code, rpcErr.Message)
	}
	return resultResponse(req.ID, result)
}

func decodeParams(params json.RawMessage, v any) *RPCError {
	if len(params) == 0 {
		return &RPCError{Code: ErrCodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(params, v); err != nil {
		return &RPCError{Code: ErrCodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}

// tell / emoteto: build and send the corresponding packet upstream.

type tellParams struct {
	FromUser   string `json:"from_user"`
	TargetMud  string `json:"target_mud"`
	TargetUser string `json:"target_user"`
	VisName    string `json:"vis_name"`
	Message    string `json:"message"`
}

func methodTell(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	return sendTellLike(s, params, packet.TypeTell)
}

func methodEmoteTo(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	return sendTellLike(s, params, packet.TypeEmoteTo)
}

func sendTellLike(s *Server, params json.RawMessage, typ packet.Type) (any, *RPCError) {
	var p tellParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	pkt := &packet.Packet{
		Header: packet.Header{
			Type:           typ,
			TTL:            200,
			OriginatorMud:  s.cfg.SelfMud,
			OriginatorUser: p.FromUser,
			TargetMud:      p.TargetMud,
			TargetUser:     p.TargetUser,
		},
		Payload: packet.Tell{VisName: p.VisName, Message: p.Message},
	}
	if err := s.cfg.Sender.SendPacket(pkt); err != nil {
		return nil, &RPCError{Code: ErrCodeUpstream, Message: err.Error()}
	}
	return map[string]any{"sent": true}, nil
}

// channel_send / channel_emote: emit a channel message or emote and update
// the channel's activity counters.

type channelMsgParams struct {
	Channel string `json:"channel"`
	VisName string `json:"vis_name"`
	Text    string `json:"text"`
}

func methodChannelSend(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	return sendChannelMsg(s, params, packet.TypeChannelM)
}

func methodChannelEmote(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	return sendChannelMsg(s, params, packet.TypeChannelE)
}

func sendChannelMsg(s *Server, params json.RawMessage, typ packet.Type) (any, *RPCError) {
	var p channelMsgParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	pkt := &packet.Packet{
		Header: packet.Header{
			Type:          typ,
			TTL:           200,
			OriginatorMud: s.cfg.SelfMud,
			TargetMud:     "0",
		},
		Payload: packet.ChannelMsg{Channel: p.Channel, VisName: p.VisName, Text: p.Text},
	}
	if err := s.cfg.Sender.SendPacket(pkt); err != nil {
		return nil, &RPCError{Code: ErrCodeUpstream, Message: err.Error()}
	}
	if ch, ok := s.cfg.Store.GetChannel(p.Channel); ok {
		ch.MessageCount++
		ch.LastActivity = time.Now()
	}
	return map[string]any{"sent": true}, nil
}

// channel_join / channel_leave: toggle this mud's membership in the
// channel's listening set and emit a listen packet.

type channelListenParams struct {
	Channel string `json:"channel"`
}

func methodChannelJoin(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	return setChannelListen(s, params, true)
}

func methodChannelLeave(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	return setChannelListen(s, params, false)
}

func setChannelListen(s *Server, params json.RawMessage, listen bool) (any, *RPCError) {
	var p channelListenParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	ch := s.cfg.Store.GetOrCreateChannel(p.Channel)
	if listen {
		ch.ListeningMuds[s.cfg.SelfMud] = struct{}{}
	} else {
		delete(ch.ListeningMuds, s.cfg.SelfMud)
	}
	pkt := &packet.Packet{
		Header: packet.Header{
			Type:          packet.TypeChannelListen,
			TTL:           200,
			OriginatorMud: s.cfg.SelfMud,
			TargetMud:     "0",
		},
		Payload: packet.ChannelListen{Channel: p.Channel, Listen: listen},
	}
	if err := s.cfg.Sender.SendPacket(pkt); err != nil {
		return nil, &RPCError{Code: ErrCodeUpstream, Message: err.Error()}
	}
	return map[string]any{"listening": listen}, nil
}

// channel_list / channel_who / channel_history read directly from the
// state store.

func methodChannelList(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	channels := s.cfg.Store.Channels()
	out := make([]map[string]any, 0, len(channels))
	for _, ch := range channels {
		out = append(out, map[string]any{
			"name":          ch.Name,
			"owner":         ch.Owner,
			"type":          int(ch.Type),
			"message_count": ch.MessageCount,
		})
	}
	return out, nil
}

type channelWhoParams struct {
	Channel string `json:"channel"`
}

func methodChannelWho(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	var p channelWhoParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	ch, ok := s.cfg.Store.GetChannel(p.Channel)
	if !ok {
		return nil, &RPCError{Code: ErrCodeInvalidParams, Message: "unknown channel: " + p.Channel}
	}
	users, ok := ch.ActiveUsers[s.cfg.SelfMud]
	names := make([]string, 0, len(users))
	if ok {
		for name := range users {
			names = append(names, name)
		}
	}
	return map[string]any{"channel": p.Channel, "users": names}, nil
}

// methodChannelHistory has no persisted message log to page through: the
// channel state store tracks membership and counters, not message bodies,
// so this always returns an empty window.
func methodChannelHistory(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	return []any{}, nil
}

// who / finger / locate: emit the request, register a pending-request
// slot, and await the reply.

func methodWho(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	var raw struct {
		Mud       string         `json:"mud"`
		Filter    map[string]any `json:"filter"`
		TimeoutMS int            `json:"timeout_ms"`
	}
	if err := decodeParams(params, &raw); err != nil {
		return nil, err
	}
	filter := lpc.NewMap()
	for k, v := range raw.Filter {
		filter.Set(k, v)
	}
	reply, err := s.cfg.Who.WhoRemote(ctx, raw.Mud, filter, time.Duration(raw.TimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, timeoutOrUpstreamError(err)
	}
	entries := make([]map[string]any, 0, len(reply.Entries))
	for _, e := range reply.Entries {
		entries = append(entries, map[string]any{"name": e.Name, "idle": e.Idle, "level": e.Level})
	}
	return entries, nil
}

type fingerParams struct {
	FromUser  string `json:"from_user"`
	Mud       string `json:"mud"`
	User      string `json:"user"`
	TimeoutMS int    `json:"timeout_ms"`
}

func methodFinger(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	var p fingerParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	reply, err := s.cfg.Finger.FingerRemote(ctx, p.FromUser, p.Mud, p.User, time.Duration(p.TimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, timeoutOrUpstreamError(err)
	}
	out := map[string]any{}
	if reply.Info != nil {
		reply.Info.Each(func(key, value lpc.Value) {
			if k, ok := key.(string); ok {
				out[k] = value
			}
		})
	}
	return out, nil
}

type locateParams struct {
	FromUser  string `json:"from_user"`
	User      string `json:"user"`
	TimeoutMS int    `json:"timeout_ms"`
}

func methodLocate(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	var p locateParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	reply, err := s.cfg.Locate.LocateUser(ctx, p.FromUser, p.User, time.Duration(p.TimeoutMS)*time.Millisecond)
	if err != nil {
		return nil, timeoutOrUpstreamError(err)
	}
	return map[string]any{
		"located_mud":  reply.LocatedMud,
		"located_user": reply.LocatedUser,
		"idle_time":    reply.IdleTime,
		"status":       reply.Status,
	}, nil
}

func timeoutOrUpstreamError(err error) *RPCError {
	if errors.Is(err, services.ErrRequestTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &RPCError{Code: ErrCodeTimeout, Message: "timed out waiting for reply"}
	}
	return &RPCError{Code: ErrCodeUpstream, Message: err.Error()}
}

// mudlist reads the cached mudlist from the state store.

func methodMudlist(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	muds := s.cfg.Store.OnlineMuds()
	out := make([]map[string]any, 0, len(muds))
	for _, m := range muds {
		out = append(out, map[string]any{
			"name":    m.Name,
			"address": m.Address,
			"status":  string(m.Status),
		})
	}
	return map[string]any{"mudlist_id": s.cfg.Store.MudlistID(), "muds": out}, nil
}

// ping / status / stats are plain local reads of process and connection
// state.

func methodPing(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	return map[string]any{"pong": true}, nil
}

func methodStatus(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	connected := s.cfg.Conn == nil || s.cfg.Conn.IsConnected()
	return map[string]any{
		"mud":            s.cfg.SelfMud,
		"connected":      connected,
		"uptime_seconds": time.Since(s.cfg.StartedAt).Seconds(),
	}, nil
}

func methodStats(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	return map[string]any{
		"sessions":   len(s.cfg.Store.Sessions()),
		"channels":   len(s.cfg.Store.Channels()),
		"muds":       len(s.cfg.Store.OnlineMuds()),
		"goroutines": runtime.NumGoroutine(),
	}, nil
}

// reconnect instructs the router connection manager to disconnect and
// reconnect.

func methodReconnect(ctx context.Context, s *Server, params json.RawMessage) (any, *RPCError) {
	if s.cfg.Reconnect == nil {
		return nil, &RPCError{Code: ErrCodeInternal, Message: "reconnect not supported"}
	}
	s.cfg.Reconnect.Disconnect()
	ok := s.cfg.Reconnect.Connect(ctx)
	return map[string]any{"reconnected": ok}, nil
}
