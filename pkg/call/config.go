package call

import (
	"errors"
	"time"
)

// Config is resolved once per call and is read-only for the session's
// lifetime.
type Config struct {
	AgentName         string
	FirstLine         string
	SystemPrompt      string
	LanguageDirective string // appended to the system prompt

	Voice       string
	Language    string // empty means auto-detect
	STTProvider string
	LLMProvider string
	TTSProvider string
	LLMModel    string

	EndpointingDelay     time.Duration
	MaxTurns             int
	Fillers              []string
	AllowInterruptions   bool
	MinInterruptionWords int
	HangupAfterWrapUp    bool

	TransferNumber string
	SIPDomain      string

	StartTimeout time.Duration
	ToolTimeout  time.Duration
}

// Default per-call settings.
const (
	DefaultEndpointingDelay     = 50 * time.Millisecond
	DefaultMaxTurns             = 25
	DefaultMinInterruptionWords = 2
	DefaultStartTimeout         = 30 * time.Second
	DefaultToolTimeout          = 8 * time.Second
)

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		AgentName:            "Assistant",
		FirstLine:            "Hello! Thanks for calling. How can I help you today?",
		Voice:                "alloy",
		STTProvider:          "openai",
		LLMProvider:          "openai",
		TTSProvider:          "openai",
		EndpointingDelay:     DefaultEndpointingDelay,
		MaxTurns:             DefaultMaxTurns,
		AllowInterruptions:   true,
		MinInterruptionWords: DefaultMinInterruptionWords,
		StartTimeout:         DefaultStartTimeout,
		ToolTimeout:          DefaultToolTimeout,
	}
}

// Validate reports settings that would make a session unusable.
func (c Config) Validate() error {
	var errs []error
	if c.STTProvider == "" || c.LLMProvider == "" || c.TTSProvider == "" {
		errs = append(errs, errors.New("stt, llm and tts providers are required"))
	}
	if c.EndpointingDelay < 0 {
		errs = append(errs, errors.New("endpointing delay must not be negative"))
	}
	if c.MaxTurns < 0 {
		errs = append(errs, errors.New("max turns must not be negative"))
	}
	if c.StartTimeout <= 0 {
		errs = append(errs, errors.New("start timeout must be positive"))
	}
	return errors.Join(errs...)
}

// Meta is the dispatch metadata for one call.
type Meta struct {
	RoomName   string
	Phone      string
	CallerName string
	Direction  Direction
}

// Slot is one bookable calendar slot.
type Slot struct {
	Start time.Time
	Label string
}
