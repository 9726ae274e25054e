package bridge

import (
	"strings"

	"github.com/danmuck/clawbridge/internal/commands"
	"github.com/danmuck/clawbridge/internal/observability"
	"github.com/danmuck/clawbridge/internal/protocol"
	"github.com/danmuck/clawbridge/internal/sessions"
	"github.com/rs/zerolog/log"
)

// HandleDownstream classifies one webhook frame and acts on it.
func (b *Bridge) HandleDownstream(data []byte) {
	if ctl, ok := sessions.ParseControl(data); ok {
		b.handleControl(ctl)
		return
	}

	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		observability.RecordDrop(channelWebhook, observability.DropDecode)
		log.Debug().Err(err).Msg("bridge.Bridge.HandleDownstream undecodable frame dropped")
		return
	}
	if msg.IsChatter() {
		observability.RecordDrop(channelWebhook, observability.DropChatter)
		log.Debug().Str("type", msg.Type).Msg("bridge.Bridge.HandleDownstream control chatter dropped")
		return
	}
	text := strings.TrimSpace(msg.Content)
	if text == "" {
		observability.RecordDrop(channelWebhook, observability.DropEmpty)
		log.Debug().Str("id", msg.ID).Msg("bridge.Bridge.HandleDownstream empty content dropped")
		return
	}

	if commands.IsCommand(text) && b.commands != nil {
		out := b.commands.Handle(b.ctx, text)
		switch out.Kind {
		case commands.Reply:
			b.replyLocal(out.Text, msg.Session)
			return
		case commands.Forward:
			session := strings.TrimSpace(msg.Session)
			if session == "" {
				session = sessions.GlobalKey
			}
			b.forward(out.Text, session)
			return
		}
	}

	b.handleConversation(msg)
}

func (b *Bridge) handleConversation(msg protocol.InboundMessage) {
	key := sessions.ResolveKey(b.opts.Scope, b.opts.AgentID, msg)
	content := msg.Content

	rest, reset := sessions.MatchResetTrigger(content, b.opts.ResetTriggers)
	if reset {
		entry, err := b.store.Reset(key)
		if err != nil {
			observability.RecordDrop(channelWebhook, observability.DropStore)
			log.Error().Str("session_key", key).Err(err).Msg("bridge.Bridge.handleConversation reset failed")
			return
		}
		log.Info().Str("session_key", key).Str("session_id", entry.SessionID).Msg("bridge.Bridge.handleConversation session reset")
		// A bare trigger still goes upstream, trimmed.
		content = rest
		if content == "" {
			content = strings.TrimSpace(msg.Content)
		}
	}

	delivery := sessions.InboundDeliveryContext(msg, b.opts.UID)
	entry, err := b.store.RecordInboundMeta(key, msg.ID, delivery)
	if err != nil {
		observability.RecordDrop(channelWebhook, observability.DropStore)
		log.Error().Str("session_key", key).Err(err).Msg("bridge.Bridge.handleConversation record inbound failed")
		return
	}
	log.Debug().
		Str("session_key", key).
		Str("session_id", entry.SessionID).
		Str("message_id", msg.ID).
		Msg("bridge.Bridge.handleConversation recorded")

	b.forward(content, key)
}

func (b *Bridge) forward(content, sessionKey string) {
	if err := b.upstream.SendAgentRequest(content, sessionKey); err != nil {
		observability.RecordDrop(channelGateway, dropReason(err))
		log.Warn().Str("session_key", sessionKey).Err(err).Msg("bridge.Bridge.forward upstream unavailable, message dropped")
	}
}

func (b *Bridge) replyLocal(content, session string) {
	data, err := protocol.LocalReply(content, strings.TrimSpace(session)).Encode()
	if err != nil {
		log.Error().Err(err).Msg("bridge.Bridge.replyLocal encode failed")
		return
	}
	b.sendDownstream(data, "command reply")
}

func (b *Bridge) handleControl(msg sessions.ControlMessage) {
	resp, err := b.control.Handle(msg)
	if err != nil {
		log.Warn().Str("type", string(msg.Type)).Err(err).Msg("bridge.Bridge.handleControl rejected")
		return
	}
	data, err := resp.Encode()
	if err != nil {
		log.Error().Err(err).Msg("bridge.Bridge.handleControl encode failed")
		return
	}
	log.Debug().Str("type", string(msg.Type)).Str("key", msg.TargetKey()).Msg("bridge.Bridge.handleControl answered")
	b.sendDownstream(data, string(msg.Type))
}
