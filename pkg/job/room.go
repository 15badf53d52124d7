package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	media "github.com/livekit/media-sdk"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	lkmedia "github.com/livekit/server-sdk-go/v2/pkg/media"
	"github.com/pion/webrtc/v4"

	"github.com/chriscow/livekit-call-agent/pkg/call"
	"github.com/chriscow/livekit-call-agent/pkg/rtc"
)

// Disconnect reasons reported by the room.
const (
	ReasonParticipantLeft  = "participant_disconnected"
	ReasonRoomDisconnected = "room_disconnected"
)

var (
	// ErrNotConnected is returned by operations that need a joined room.
	ErrNotConnected = errors.New("room is not connected")
	// ErrNoCaller is returned by call control before a caller joined.
	ErrNoCaller = errors.New("no caller in room")
)

const (
	// InputSampleRate is the rate caller audio is decoded to.
	InputSampleRate = 48000
	// OutputSampleRate is the rate of the agent's published track.
	OutputSampleRate = 24000

	// maxQueuedAudio bounds how far agent audio may run ahead of real time,
	// which keeps barge-in responsive.
	maxQueuedAudio = 200 * time.Millisecond
)

// RoomConfig contains what is needed to join a call's room. Either Token or
// APIKey and APISecret must be set.
type RoomConfig struct {
	URL       string
	Token     string
	APIKey    string
	APISecret string
	RoomName  string
	// Identity of the agent participant.
	Identity  string

	// Buffer size for caller audio frames
	AudioBufferSize int

	// DialNumber, when set, is called through SIPTrunkID once the room is
	// joined. Outbound calls use it.
	DialNumber string
	SIPTrunkID string
}

// Room is the LiveKit side of a call. It decodes the caller's audio, plays
// the agent's audio on a published PCM track and carries SIP call control.
type Room struct {
	cfg    RoomConfig
	logger *slog.Logger

	audio        chan rtc.AudioFrame
	disconnected chan string
	arrived      chan struct{}

	sip   *lksdk.SIPClient
	rooms *lksdk.RoomServiceClient

	mu        sync.RWMutex
	room      *lksdk.Room
	track     *lkmedia.PCMLocalTrack
	remotes   []*lkmedia.PCMRemoteTrack
	caller    *Participant
	connected bool
	closed    bool
	playhead  time.Time
}

// NewRoom validates config and prepares a room. Nothing is joined until
// Connect.
func NewRoom(config RoomConfig, logger *slog.Logger) (*Room, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if config.Token == "" && (config.APIKey == "" || config.APISecret == "") {
		return nil, fmt.Errorf("token or API key and secret are required")
	}
	if config.RoomName == "" {
		return nil, fmt.Errorf("room name is required")
	}
	if config.Identity == "" {
		config.Identity = "agent-" + config.RoomName
	}
	if config.AudioBufferSize <= 0 {
		config.AudioBufferSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Room{
		cfg:          config,
		logger:       logger.With(slog.String("room", config.RoomName)),
		audio:        make(chan rtc.AudioFrame, config.AudioBufferSize),
		disconnected: make(chan string, 4),
		arrived:      make(chan struct{}, 1),
	}
	if config.APIKey != "" && config.APISecret != "" {
		r.sip = lksdk.NewSIPClient(config.URL, config.APIKey, config.APISecret)
		r.rooms = lksdk.NewRoomServiceClient(config.URL, config.APIKey, config.APISecret)
	}
	return r, nil
}

// Connect joins the room and publishes the agent's audio track.
func (r *Room) Connect(ctx context.Context) error {
	r.mu.RLock()
	connected := r.connected
	r.mu.RUnlock()
	if connected {
		return fmt.Errorf("room is already connected")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	callback := &lksdk.RoomCallback{
		OnParticipantConnected:    r.onParticipantConnected,
		OnParticipantDisconnected: r.onParticipantDisconnected,
		OnDisconnected:            r.onDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: r.onTrackSubscribed,
		},
	}

	var (
		room *lksdk.Room
		err  error
	)
	if r.cfg.Token != "" {
		room, err = lksdk.ConnectToRoomWithToken(r.cfg.URL, r.cfg.Token, callback, lksdk.WithAutoSubscribe(true))
	} else {
		room, err = lksdk.ConnectToRoom(r.cfg.URL, lksdk.ConnectInfo{
			APIKey:              r.cfg.APIKey,
			APISecret:           r.cfg.APISecret,
			RoomName:            r.cfg.RoomName,
			ParticipantIdentity: r.cfg.Identity,
			ParticipantKind:     lksdk.ParticipantAgent,
		}, callback, lksdk.WithAutoSubscribe(true))
	}
	if err != nil {
		return fmt.Errorf("failed to connect to room: %w", err)
	}

	track, err := lkmedia.NewPCMLocalTrack(OutputSampleRate, 1, nil)
	if err != nil {
		room.Disconnect()
		return fmt.Errorf("failed to create audio track: %w", err)
	}
	if _, err := room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "agent-voice",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		track.Close()
		room.Disconnect()
		return fmt.Errorf("failed to publish audio track: %w", err)
	}

	r.mu.Lock()
	r.room = room
	r.track = track
	r.connected = true
	r.mu.Unlock()

	r.logger.Info("Connected to LiveKit room", slog.String("url", r.cfg.URL))

	for _, rp := range room.GetRemoteParticipants() {
		r.adopt(rp)
	}
	if r.cfg.DialNumber != "" {
		return r.dial(ctx)
	}
	return nil
}

// Caller waits for the first remote participant and describes them.
func (r *Room) Caller(ctx context.Context) (call.Meta, error) {
	for {
		r.mu.RLock()
		caller, connected := r.caller, r.connected
		r.mu.RUnlock()

		if !connected {
			return call.Meta{}, ErrNotConnected
		}
		if caller != nil {
			meta := CallerFromParticipant(*caller)
			meta.RoomName = r.cfg.RoomName
			return meta, nil
		}

		select {
		case <-ctx.Done():
			return call.Meta{}, ctx.Err()
		case <-r.arrived:
		}
	}
}

func (r *Room) Audio() <-chan rtc.AudioFrame { return r.audio }

func (r *Room) Disconnected() <-chan string { return r.disconnected }

// WriteFrame queues one frame of agent audio. It blocks while more than a
// short buffer of audio is already queued, so cancelling ctx stops playback
// almost immediately.
func (r *Room) WriteFrame(ctx context.Context, frame rtc.AudioFrame) error {
	r.mu.RLock()
	track, closed := r.track, r.closed
	r.mu.RUnlock()
	if track == nil || closed {
		return ErrNotConnected
	}

	if err := r.pace(ctx, frame.Duration()); err != nil {
		return err
	}
	if err := track.WriteSample(media.PCM16Sample(frame.Samples())); err != nil {
		return fmt.Errorf("write audio sample: %w", err)
	}
	return nil
}

func (r *Room) pace(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	now := time.Now()
	if r.playhead.Before(now) {
		r.playhead = now
	}
	wait := r.playhead.Sub(now) - maxQueuedAudio
	r.playhead = r.playhead.Add(d)
	r.mu.Unlock()

	if wait <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// Transfer moves the caller's SIP leg to destination.
func (r *Room) Transfer(ctx context.Context, destination string) error {
	identity, err := r.callerIdentity()
	if err != nil {
		return err
	}
	if r.sip == nil {
		return errors.New("SIP transfer needs API credentials")
	}
	_, err = r.sip.TransferSIPParticipant(ctx, &livekit.TransferSIPParticipantRequest{
		ParticipantIdentity: identity,
		RoomName:            r.cfg.RoomName,
		TransferTo:          destination,
		PlayDialtone:        false,
	})
	if err != nil {
		return fmt.Errorf("transfer SIP participant: %w", err)
	}
	r.logger.Info("Caller transferred", slog.String("destination", destination))
	return nil
}

// Hangup removes the caller from the room, which ends the SIP call.
func (r *Room) Hangup(ctx context.Context) error {
	identity, err := r.callerIdentity()
	if err != nil {
		return err
	}
	if r.rooms == nil {
		return errors.New("hangup needs API credentials")
	}
	_, err = r.rooms.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{
		Room:     r.cfg.RoomName,
		Identity: identity,
	})
	if err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

// Close leaves the room and releases the audio tracks. It is safe to call
// more than once.
func (r *Room) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	for _, rt := range r.remotes {
		rt.Close()
	}
	r.remotes = nil
	if r.track != nil {
		r.track.Close()
	}
	if r.connected && r.room != nil {
		r.room.Disconnect()
		r.logger.Info("Disconnected from LiveKit room")
	}
	r.connected = false
	return nil
}

// IsConnected returns true if the room is currently connected.
func (r *Room) IsConnected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.connected
}

func (r *Room) callerIdentity() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.connected {
		return "", ErrNotConnected
	}
	if r.caller == nil {
		return "", ErrNoCaller
	}
	return r.caller.Identity, nil
}

// adopt records the first remote participant as the caller.
func (r *Room) adopt(rp *lksdk.RemoteParticipant) {
	p := Participant{Identity: rp.Identity(), Name: rp.Name(), Attributes: rp.Attributes()}

	r.mu.Lock()
	if r.caller != nil {
		r.mu.Unlock()
		return
	}
	r.caller = &p
	r.mu.Unlock()

	select {
	case r.arrived <- struct{}{}:
	default:
	}
	r.logger.Info("Caller joined",
		slog.String("identity", p.Identity),
		slog.String("name", p.Name))
}

func (r *Room) signal(reason string) {
	select {
	case r.disconnected <- reason:
	default:
	}
}

func (r *Room) onParticipantConnected(rp *lksdk.RemoteParticipant) {
	r.adopt(rp)
}

func (r *Room) onParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	r.mu.RLock()
	isCaller := r.caller != nil && r.caller.Identity == rp.Identity()
	r.mu.RUnlock()

	r.logger.Info("Participant disconnected",
		slog.String("identity", rp.Identity()),
		slog.Bool("caller", isCaller))
	if isCaller {
		r.signal(ReasonParticipantLeft)
	}
}

func (r *Room) onDisconnected() {
	r.logger.Info("Room connection lost")
	r.signal(ReasonRoomDisconnected)
}

func (r *Room) onTrackSubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return
	}
	r.adopt(rp)

	var writer media.PCM16Writer = &frameWriter{out: r.audio, sampleRate: InputSampleRate, logger: r.logger}
	remote, err := lkmedia.NewPCMRemoteTrack(track, &writer,
		lkmedia.WithTargetSampleRate(InputSampleRate),
		lkmedia.WithTargetChannels(1))
	if err != nil {
		r.logger.Error("Failed to decode caller audio",
			slog.String("track_sid", publication.SID()),
			slog.String("error", err.Error()))
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		remote.Close()
		return
	}
	r.remotes = append(r.remotes, remote)
	r.mu.Unlock()

	r.logger.Info("Track subscribed",
		slog.String("participant", rp.Identity()),
		slog.String("track_sid", publication.SID()),
		slog.String("codec", track.Codec().MimeType))
}

// frameWriter turns decoded PCM samples into frames on the audio channel.
// A full channel drops the frame rather than stalling the decoder.
type frameWriter struct {
	out        chan<- rtc.AudioFrame
	sampleRate int
	logger     *slog.Logger
	dropped    int
}

func (w *frameWriter) String() string { return "call-agent-input" }

func (w *frameWriter) SampleRate() int { return w.sampleRate }

func (w *frameWriter) WriteSample(sample media.PCM16Sample) error {
	frame := rtc.FrameFromSamples(sample, w.sampleRate, 1)
	select {
	case w.out <- frame:
	default:
		w.dropped++
		if w.dropped%100 == 1 {
			w.logger.Warn("Caller audio buffer full, dropping frames", slog.Int("dropped", w.dropped))
		}
	}
	return nil
}

func (w *frameWriter) Close() error { return nil }
