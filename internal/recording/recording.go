// Package recording records calls with LiveKit egress: the room's audio is
// mixed into an OGG file uploaded to S3-compatible storage.
package recording

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/chriscow/livekit-call-agent/pkg/finalize"
)

// DefaultStartTimeout bounds the egress start request.
const DefaultStartTimeout = 10 * time.Second

// Config selects the upload target. PublicBaseURL is the address the
// bucket is served from.
type Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	AccessKey     string
	SecretKey     string
	PublicBaseURL string
	StartTimeout  time.Duration
}

// egressAPI is the part of the LiveKit egress client used here.
type egressAPI interface {
	StartRoomCompositeEgress(ctx context.Context, req *livekit.RoomCompositeEgressRequest) (*livekit.EgressInfo, error)
	StopEgress(ctx context.Context, req *livekit.StopEgressRequest) (*livekit.EgressInfo, error)
}

// Recorder starts audio-only room composite egress.
type Recorder struct {
	api    egressAPI
	cfg    Config
	logger *slog.Logger
}

// New returns a recorder using the LiveKit server API.
func New(url, apiKey, apiSecret string, cfg Config, logger *slog.Logger) *Recorder {
	return newRecorder(lksdk.NewEgressClient(url, apiKey, apiSecret), cfg, logger)
}

func newRecorder(api egressAPI, cfg Config, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = DefaultStartTimeout
	}
	return &Recorder{api: api, cfg: cfg, logger: logger.With(slog.String("component", "recording"))}
}

// FilePath is the object key a room's recording is uploaded to.
func FilePath(room string) string {
	return "recordings/" + room + ".ogg"
}

// Start begins recording room.
func (r *Recorder) Start(ctx context.Context, room string) (finalize.Recording, error) {
	if r.cfg.Bucket == "" {
		return nil, errors.New("recording bucket not configured")
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StartTimeout)
	defer cancel()

	info, err := r.api.StartRoomCompositeEgress(ctx, &livekit.RoomCompositeEgressRequest{
		RoomName:  room,
		AudioOnly: true,
		FileOutputs: []*livekit.EncodedFileOutput{{
			FileType: livekit.EncodedFileType_OGG,
			Filepath: FilePath(room),
			Output: &livekit.EncodedFileOutput_S3{S3: &livekit.S3Upload{
				AccessKey: r.cfg.AccessKey,
				Secret:    r.cfg.SecretKey,
				Bucket:    r.cfg.Bucket,
				Region:    r.cfg.Region,
				Endpoint:  r.cfg.Endpoint,
			}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("start egress for %s: %w", room, err)
	}
	r.logger.Info("Recording started", slog.String("room", room), slog.String("egress_id", info.EgressId))

	url := strings.TrimRight(r.cfg.PublicBaseURL, "/") + "/" + FilePath(room)
	return &recording{api: r.api, egressID: info.EgressId, url: url, logger: r.logger}, nil
}

type recording struct {
	api      egressAPI
	egressID string
	url      string
	logger   *slog.Logger
}

// Stop ends the egress. The URL is only valid once the upload completes.
func (r *recording) Stop(ctx context.Context) (string, error) {
	if _, err := r.api.StopEgress(ctx, &livekit.StopEgressRequest{EgressId: r.egressID}); err != nil {
		return "", fmt.Errorf("stop egress %s: %w", r.egressID, err)
	}
	r.logger.Info("Recording stopped", slog.String("egress_id", r.egressID), slog.String("url", r.url))
	return r.url, nil
}
