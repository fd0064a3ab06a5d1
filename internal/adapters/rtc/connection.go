package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/dkeye/VoiceCoach/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNotJoined = errors.New("transport not joined")

const DefaultICEServer = "stun:stun.l.google.com:19302"

// WebRTCConfig builds a peer configuration for the given ICE server URLs.
// With none, only host candidates are gathered.
func WebRTCConfig(iceURLs []string) webrtc.Configuration {
	var cfg webrtc.Configuration
	if len(iceURLs) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceURLs}}
	}
	return cfg
}

// Transport joins a voice room over a single peer connection. The offer is
// exchanged WHIP-style: POSTed to the room address with the credential as
// bearer token.
type Transport struct {
	cfg  webrtc.Configuration
	http *http.Client

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	sender   *webrtc.RTPSender
	track    *webrtc.TrackLocalStaticRTP
	resource string
	cred     string
	cancel   context.CancelFunc
	onEvent  func(core.TransportEvent)

	joined atomic.Bool
}

func NewTransport(cfg webrtc.Configuration, hc *http.Client) *Transport {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Transport{cfg: cfg, http: hc}
}

// OnEvent sets the callback for transport events. It must be set before Join.
func (t *Transport) OnEvent(fn func(core.TransportEvent)) {
	t.mu.Lock()
	t.onEvent = fn
	t.mu.Unlock()
}

func (t *Transport) emit(ev core.TransportEvent) {
	t.mu.Lock()
	fn := t.onEvent
	t.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (t *Transport) newPeerConnection() (*webrtc.PeerConnection, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: audioLevelURI},
		webrtc.RTPCodecTypeAudio,
	); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	return api.NewPeerConnection(t.cfg)
}

func (t *Transport) Join(ctx context.Context, address, credential string) error {
	t.mu.Lock()
	if t.pc != nil {
		t.mu.Unlock()
		return errors.New("transport already joined")
	}
	t.mu.Unlock()

	pc, err := t.newPeerConnection()
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	track, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "voicecoach",
	)
	if err != nil {
		_ = pc.Close()
		return err
	}
	sender, err := pc.AddTrack(track)
	if err != nil {
		_ = pc.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	t.joined.Store(false)
	t.mu.Lock()
	t.pc, t.sender, t.track, t.cred, t.cancel = pc, sender, track, credential, cancel
	t.mu.Unlock()

	t.watch(runCtx, pc)

	resource, err := t.negotiate(ctx, pc, address, credential)
	if err != nil {
		t.teardown()
		return err
	}
	t.mu.Lock()
	t.resource = resource
	t.mu.Unlock()
	log.Info().Str("module", "rtc").Str("room", address).Msg("offer accepted, waiting for connection")
	return nil
}

// watch hooks the peer connection callbacks. Events are raised on fresh
// goroutines so handlers may call Leave without re-entering pion.
func (t *Transport) watch(ctx context.Context, pc *webrtc.PeerConnection) {
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "rtc").Str("ice_state", s.String()).Msg("ICE state")
		if q := qualityOf(s); q != "" {
			go t.emit(core.TransportEvent{Kind: core.TransportNetworkQuality, Quality: q})
		}
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "rtc").Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if t.joined.CompareAndSwap(false, true) {
				go t.emit(core.TransportEvent{Kind: core.TransportJoined})
			}
		case webrtc.PeerConnectionStateFailed:
			go t.emit(core.TransportEvent{Kind: core.TransportError, Err: errors.New("peer connection failed")})
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "rtc").
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		go t.readLevels(ctx, track, levelExtensionID(receiver))
	})
}

func qualityOf(s webrtc.ICEConnectionState) string {
	switch s {
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		return "good"
	case webrtc.ICEConnectionStateChecking:
		return "fair"
	case webrtc.ICEConnectionStateDisconnected:
		return "poor"
	default:
		return ""
	}
}

// Leave closes the peer connection and reports left. Leaving twice is a no-op.
func (t *Transport) Leave() error {
	t.mu.Lock()
	pc := t.pc
	t.mu.Unlock()
	if pc == nil {
		return nil
	}
	err := t.teardown()
	t.emit(core.TransportEvent{Kind: core.TransportLeft})
	return err
}

func (t *Transport) teardown() error {
	t.mu.Lock()
	pc, resource, cred, cancel := t.pc, t.resource, t.cred, t.cancel
	t.pc, t.sender, t.track, t.resource, t.cancel = nil, nil, nil, "", nil
	t.mu.Unlock()
	if pc == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	if resource != "" {
		t.deleteResource(resource, cred)
	}
	if err := pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "rtc").Msg("close error")
		return err
	}
	log.Info().Str("module", "rtc").Msg("closed")
	return nil
}

// SetLocalAudioEnabled swaps the outgoing track in and out of the sender,
// which takes effect without renegotiation.
func (t *Transport) SetLocalAudioEnabled(enabled bool) error {
	t.mu.Lock()
	sender, track := t.sender, t.track
	t.mu.Unlock()
	if sender == nil {
		return ErrNotJoined
	}
	if enabled {
		return sender.ReplaceTrack(track)
	}
	return sender.ReplaceTrack(nil)
}
