package bridge

import (
	"github.com/danmuck/clawbridge/internal/observability"
	"github.com/danmuck/clawbridge/internal/protocol"
	"github.com/danmuck/clawbridge/internal/sessions"
	"github.com/rs/zerolog/log"
)

// HandleUpstream filters and translates one gateway event toward the webhook side.
func (b *Bridge) HandleUpstream(data []byte) {
	env, err := protocol.DecodeEnvelope(data)
	if err != nil {
		observability.RecordDrop(channelGateway, observability.DropDecode)
		log.Debug().Err(err).Msg("bridge.Bridge.HandleUpstream undecodable event dropped")
		return
	}
	if env.IsHousekeeping() {
		observability.RecordDrop(channelGateway, observability.DropHousekeeping)
		return
	}

	if b.opts.TrackUpstreamRoutes && env.SessionKey != "" {
		route := sessions.DeliveryContext{Channel: sessions.ChannelWebhook, AccountID: b.opts.UID}
		if _, err := b.store.UpdateLastRoute(env.SessionKey, route); err != nil {
			log.Warn().Str("session_key", env.SessionKey).Err(err).Msg("bridge.Bridge.HandleUpstream update last route failed")
		}
	}

	out, ok, err := protocol.Translate(data)
	if !ok {
		observability.RecordDrop(channelGateway, observability.DropUntranslated)
		if err != nil {
			log.Debug().Str("type", env.Type).Err(err).Msg("bridge.Bridge.HandleUpstream untranslatable event dropped")
		}
		return
	}
	payload, err := out.Bytes()
	if err != nil {
		log.Error().Err(err).Msg("bridge.Bridge.HandleUpstream encode failed")
		return
	}
	kind := env.Type
	if out.Message != nil {
		kind = out.Message.Type
	}
	observability.RecordTranslated(kind)
	b.sendDownstream(payload, kind)
}
