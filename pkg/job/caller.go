package job

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/chriscow/livekit-call-agent/pkg/call"
)

// SIP participant attributes that carry the caller's number.
const (
	AttrSIPPhoneNumber = "sip.phoneNumber"
	AttrPhoneNumber    = "phoneNumber"
)

var identityPhone = regexp.MustCompile(`\+\d{7,15}`)

// placeholder participant names that say nothing about the caller
var anonymousNames = map[string]struct{}{"": {}, "Caller": {}, "Unknown": {}}

// DispatchMetadata is the JSON the outbound dialer attaches to a job.
type DispatchMetadata struct {
	PhoneNumber string `json:"phone_number"`
	CallerName  string `json:"caller_name,omitempty"`
	Direction   string `json:"direction,omitempty"`
}

// ParseDispatchMetadata reads job metadata. A number in the metadata means
// the agent placed the call, unless the metadata says otherwise.
func ParseDispatchMetadata(raw string) (call.Meta, error) {
	meta := call.Meta{Direction: call.Inbound}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return meta, nil
	}

	var d DispatchMetadata
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return meta, fmt.Errorf("parse dispatch metadata: %w", err)
	}
	meta.Phone = strings.TrimSpace(d.PhoneNumber)
	meta.CallerName = strings.TrimSpace(d.CallerName)
	switch call.Direction(d.Direction) {
	case call.Inbound, call.Outbound:
		meta.Direction = call.Direction(d.Direction)
	default:
		if meta.Phone != "" {
			meta.Direction = call.Outbound
		}
	}
	return meta, nil
}

// Participant is what the room knows about a remote participant.
type Participant struct {
	Identity   string
	Name       string
	Attributes map[string]string
}

// CallerFromParticipant resolves the caller's number from the SIP
// attributes, falling back to a number embedded in the identity. The name
// is kept unless it is a placeholder.
func CallerFromParticipant(p Participant) call.Meta {
	var meta call.Meta
	if _, anonymous := anonymousNames[strings.TrimSpace(p.Name)]; !anonymous {
		meta.CallerName = strings.TrimSpace(p.Name)
	}

	for _, key := range []string{AttrSIPPhoneNumber, AttrPhoneNumber} {
		if v := strings.TrimSpace(p.Attributes[key]); v != "" {
			meta.Phone = v
			return meta
		}
	}
	if strings.Contains(p.Identity, "+") {
		meta.Phone = identityPhone.FindString(p.Identity)
	}
	return meta
}
