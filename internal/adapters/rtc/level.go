package rtc

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dkeye/VoiceCoach/internal/core"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// RFC 6464 client-to-mixer audio level.
const audioLevelURI = "urn:ietf:params:rtp-hdrext:ssrc-audio-level"

const levelInterval = 100 * time.Millisecond

func levelExtensionID(receiver *webrtc.RTPReceiver) uint8 {
	if receiver == nil {
		return 0
	}
	for _, ext := range receiver.GetParameters().HeaderExtensions {
		if ext.URI == audioLevelURI {
			return uint8(ext.ID)
		}
	}
	return 0
}

// levelOf maps -dBov (0 loudest, 127 silence) to [0,1].
func levelOf(pkt *rtp.Packet, id uint8) (float64, bool) {
	if id == 0 || pkt == nil {
		return 0, false
	}
	raw := pkt.GetExtension(id)
	if raw == nil {
		return 0, false
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return 0, false
	}
	return 1 - float64(ext.Level)/127, true
}

// readLevels reports the remote audio level at most every levelInterval and
// reports participant-left when the remote track ends.
func (t *Transport) readLevels(ctx context.Context, track *webrtc.TrackRemote, extID uint8) {
	var last time.Time
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		pkt, _, err := track.ReadRTP()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("module", "rtc").Msg("read RTP error")
			}
			t.emit(core.TransportEvent{Kind: core.TransportParticipantLeft})
			return
		}
		level, ok := levelOf(pkt, extID)
		if !ok || time.Since(last) < levelInterval {
			continue
		}
		last = time.Now()
		t.emit(core.TransportEvent{Kind: core.TransportParticipantUpdated, AudioLevel: level})
	}
}
