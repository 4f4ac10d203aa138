package handler

import (
	"encoding/json"
	"regexp"

	"go.uber.org/zap"

	"github.com/worldsync/server/internal/net/protocol"
	"github.com/worldsync/server/internal/ratelimit"
	"github.com/worldsync/server/internal/relay"
	"github.com/worldsync/server/internal/world"
)

const (
	maxChatRunes = 256

	chatGlobal = "global"
	chatLocal  = "local"
)

var chatChannelRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,32}$`)

// HandleChat processes chat.
// global reaches every connection on the global channel, local reaches the
// sender's interest set and any other name is an explicit channel the
// sender joins by speaking on it.
func HandleChat(connID string, data json.RawMessage, deps *Deps) {
	c := deps.Conns.Get(connID)
	if c == nil {
		return
	}
	if !deps.Limiter.Allow(connID, ratelimit.Chat) {
		sendError(deps, connID, protocol.CodeRateLimit, "too many chat messages", "chat")
		return
	}

	var req protocol.Chat
	if err := protocol.DecodePayload(data, &req); err != nil {
		sendError(deps, connID, protocol.CodeInvalidData, "invalid chat payload", protocol.EventChat)
		return
	}
	text := truncateRunes(cleanText(req.Message), maxChatRunes)
	if text == "" {
		sendError(deps, connID, protocol.CodeInvalidData, "empty chat message", protocol.EventChat)
		return
	}
	channel := req.Channel
	if channel == "" {
		channel = chatGlobal
	}
	if !chatChannelRe.MatchString(channel) {
		sendError(deps, connID, protocol.CodeInvalidData, "invalid chat channel", protocol.EventChat)
		return
	}

	text, ok := deps.Scripting.FilterChat(c.PlayerID, channel, text)
	if !ok {
		deps.Log.Debug("chat dropped by filter", zap.String("player", c.PlayerID), zap.String("channel", channel))
		return
	}

	if channel != chatGlobal && channel != chatLocal {
		deps.Conns.JoinChannel(connID, chatPrefix+channel)
	}

	msg := protocol.ChatMessage{
		PlayerID:  c.PlayerID,
		Name:      c.DisplayName,
		Message:   text,
		Channel:   channel,
		Timestamp: deps.nowMillis(),
	}
	deliverChat(deps, msg, c.CurrentCell)

	var pos *world.Position
	if st, ok := deps.World.Get(c.PlayerID); ok {
		pos = &st.Position
	}
	payload := relay.ChatPayload{PlayerID: c.PlayerID, Name: c.DisplayName, Message: text, Channel: channel}
	switch channel {
	case chatLocal:
		publish(deps, relay.CellChannel(c.CurrentCell), relay.TypeChat, msg.Timestamp, c.CurrentCell, pos, payload)
	default:
		publish(deps, relay.ChatChannel(channel), relay.TypeChat, msg.Timestamp, c.CurrentCell, pos, payload)
	}
}

// deliverChat fans a chat line out to local recipients, sender included.
func deliverChat(deps *Deps, msg protocol.ChatMessage, cell world.CellKey) {
	switch msg.Channel {
	case chatGlobal:
		broadcastChannel(deps, channelGlobal, "", protocol.EventChatMessage, msg)
	case chatLocal:
		if cell != "" {
			broadcastCells(deps, "", protocol.EventChatMessage, msg, cell)
		}
	default:
		broadcastChannel(deps, chatPrefix+msg.Channel, "", protocol.EventChatMessage, msg)
	}
}
