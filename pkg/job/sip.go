package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// ErrNoTrunk is returned when an outbound call has no SIP trunk configured.
var ErrNoTrunk = errors.New("no outbound SIP trunk configured")

// dial rings DialNumber and waits until the callee answers.
func (r *Room) dial(ctx context.Context) error {
	if r.cfg.SIPTrunkID == "" {
		return ErrNoTrunk
	}
	if r.sip == nil {
		return errors.New("dialing needs API credentials")
	}

	r.logger.Info("Dialing", slog.String("number", r.cfg.DialNumber))
	info, err := r.sip.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          r.cfg.SIPTrunkID,
		SipCallTo:           r.cfg.DialNumber,
		RoomName:            r.cfg.RoomName,
		ParticipantIdentity: "sip-" + r.cfg.DialNumber,
		ParticipantName:     r.cfg.DialNumber,
		WaitUntilAnswered:   true,
	})
	if err != nil {
		return fmt.Errorf("create SIP participant: %w", err)
	}
	r.logger.Info("Call answered",
		slog.String("participant", info.ParticipantIdentity),
		slog.String("sip_call_id", info.SipCallId))
	return nil
}

// Dispatcher asks the LiveKit server to start an outbound call: it creates
// an agent dispatch for a fresh room whose metadata carries the number.
type Dispatcher struct {
	client    *lksdk.AgentDispatchClient
	agentName string
}

func NewDispatcher(url, apiKey, apiSecret, agentName string) *Dispatcher {
	return &Dispatcher{
		client:    lksdk.NewAgentDispatchServiceClient(url, apiKey, apiSecret),
		agentName: agentName,
	}
}

// DialOut dispatches the agent to call phone and returns the room name.
func (d *Dispatcher) DialOut(ctx context.Context, phone, name string) (string, error) {
	if phone == "" {
		return "", errors.New("phone number is required")
	}
	metadata, err := json.Marshal(DispatchMetadata{
		PhoneNumber: phone,
		CallerName:  name,
		Direction:   string(call.Outbound),
	})
	if err != nil {
		return "", err
	}

	room := "call-" + uuid.NewString()
	dispatch, err := d.client.CreateDispatch(ctx, &livekit.CreateAgentDispatchRequest{
		AgentName: d.agentName,
		Room:      room,
		Metadata:  string(metadata),
	})
	if err != nil {
		return "", fmt.Errorf("create agent dispatch: %w", err)
	}
	slog.Info("Outbound call dispatched",
		slog.String("room", room),
		slog.String("dispatch_id", dispatch.Id),
		slog.String("phone", phone))
	return room, nil
}
