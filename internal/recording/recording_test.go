package recording

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/livekit/protocol/livekit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEgress struct {
	started  *livekit.RoomCompositeEgressRequest
	stopped  string
	deadline bool
	startErr error
	stopErr  error
}

func (f *fakeEgress) StartRoomCompositeEgress(ctx context.Context, req *livekit.RoomCompositeEgressRequest) (*livekit.EgressInfo, error) {
	_, f.deadline = ctx.Deadline()
	f.started = req
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &livekit.EgressInfo{EgressId: "EG_1"}, nil
}

func (f *fakeEgress) StopEgress(_ context.Context, req *livekit.StopEgressRequest) (*livekit.EgressInfo, error) {
	f.stopped = req.EgressId
	return &livekit.EgressInfo{EgressId: req.EgressId}, f.stopErr
}

func testConfig() Config {
	return Config{Bucket: "calls", Region: "ap-south-1", AccessKey: "ak", SecretKey: "sk", PublicBaseURL: "https://cdn.example.com/"}
}

func TestStartStop(t *testing.T) {
	api := &fakeEgress{}
	r := newRecorder(api, testConfig(), nil)

	rec, err := r.Start(context.Background(), "room-1")
	require.NoError(t, err)
	assert.True(t, api.deadline)
	assert.Equal(t, DefaultStartTimeout, r.cfg.StartTimeout)

	req := api.started
	assert.Equal(t, "room-1", req.RoomName)
	assert.True(t, req.AudioOnly)
	require.Len(t, req.FileOutputs, 1)
	out := req.FileOutputs[0]
	assert.Equal(t, livekit.EncodedFileType_OGG, out.FileType)
	assert.Equal(t, "recordings/room-1.ogg", out.Filepath)
	s3 := out.GetS3()
	require.NotNil(t, s3)
	assert.Equal(t, "calls", s3.Bucket)
	assert.Equal(t, "sk", s3.Secret)

	url, err := rec.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "EG_1", api.stopped)
	assert.Equal(t, "https://cdn.example.com/recordings/room-1.ogg", url)
}

func TestStartErrors(t *testing.T) {
	_, err := newRecorder(&fakeEgress{}, Config{}, nil).Start(context.Background(), "r")
	assert.Error(t, err)

	api := &fakeEgress{startErr: errors.New("egress unavailable")}
	_, err = newRecorder(api, testConfig(), nil).Start(context.Background(), "r")
	assert.ErrorIs(t, err, api.startErr)
}

func TestStopError(t *testing.T) {
	api := &fakeEgress{stopErr: errors.New("not found")}
	cfg := testConfig()
	cfg.StartTimeout = time.Second
	rec, err := newRecorder(api, cfg, nil).Start(context.Background(), "r")
	require.NoError(t, err)
	_, err = rec.Stop(context.Background())
	assert.ErrorIs(t, err, api.stopErr)
}
