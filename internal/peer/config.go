package peer

import (
	"time"

	"github.com/danmuck/peerctl/internal/protocol/frame"
	"github.com/danmuck/peerctl/internal/protocol/methods"
)

// Config controls how peers are started and observed.
type Config struct {
	// Client identifies the orchestrator in the initialize request.
	Client          methods.ClientInfo
	ProtocolVersion string
	// Capabilities sent with initialize; nil sends none.
	Capabilities *methods.Capabilities
	// SendInitialized writes notifications/initialized after the handshake.
	SendInitialized bool

	Limits           frame.Limits
	StopGrace        time.Duration
	InboxSize        int
	SubscriptionSize int
	StderrTailLines  int
	ExitBuffer       int
}

func DefaultConfig() Config {
	caps := methods.DefaultCapabilities()
	return Config{
		Client:           methods.ClientInfo{Name: "peerctl", Version: "0.1.0"},
		ProtocolVersion:  methods.DefaultProtocolVersion,
		Capabilities:     &caps,
		SendInitialized:  true,
		Limits:           frame.DefaultLimits(),
		StopGrace:        2 * time.Second,
		InboxSize:        1024,
		SubscriptionSize: 256,
		StderrTailLines:  50,
		ExitBuffer:       64,
	}
}

// WithDefaults fills unset sizes and timings. Capabilities and
// SendInitialized are kept as given.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Client.Name == "" {
		c.Client.Name = def.Client.Name
	}
	if c.Client.Version == "" {
		c.Client.Version = def.Client.Version
	}
	if c.ProtocolVersion == "" {
		c.ProtocolVersion = def.ProtocolVersion
	}
	if c.Limits.MaxLineBytes <= 0 {
		c.Limits = def.Limits
	}
	if c.StopGrace <= 0 {
		c.StopGrace = def.StopGrace
	}
	if c.InboxSize <= 0 {
		c.InboxSize = def.InboxSize
	}
	if c.SubscriptionSize <= 0 {
		c.SubscriptionSize = def.SubscriptionSize
	}
	if c.StderrTailLines <= 0 {
		c.StderrTailLines = def.StderrTailLines
	}
	if c.ExitBuffer <= 0 {
		c.ExitBuffer = def.ExitBuffer
	}
	return c
}
