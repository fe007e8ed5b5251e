package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/danmuck/peerctl/internal/peer"
	"github.com/danmuck/peerctl/internal/protocol/frame"
	"github.com/danmuck/peerctl/internal/protocol/methods"
)

const (
	CapabilitiesDefault  = "default"
	CapabilitiesNone     = "none"
	CapabilitiesExplicit = "explicit"
)

// Config is the peerctl file format. Keys left out of a file keep their defaults.
type Config struct {
	ClientName           string           `toml:"client_name" yaml:"client_name"`
	ClientVersion        string           `toml:"client_version" yaml:"client_version"`
	ProtocolVersion      string           `toml:"protocol_version" yaml:"protocol_version"`
	Capabilities         string           `toml:"capabilities" yaml:"capabilities"`
	SendInitialized      bool             `toml:"send_initialized" yaml:"send_initialized"`
	StopGrace            string           `toml:"stop_grace" yaml:"stop_grace"`
	MaxLineBytes         int              `toml:"max_line_bytes" yaml:"max_line_bytes"`
	InboxSize            int              `toml:"inbox_size" yaml:"inbox_size"`
	ExplicitCapabilities CapabilityConfig `toml:"explicit_capabilities" yaml:"explicit_capabilities"`
	Admin                AdminConfig      `toml:"admin" yaml:"admin"`
	Peers                []PeerConfig     `toml:"peers" yaml:"peers"`
}

type CapabilityConfig struct {
	Roots            bool `toml:"roots" yaml:"roots"`
	RootsListChanged bool `toml:"roots_list_changed" yaml:"roots_list_changed"`
	Sampling         bool `toml:"sampling" yaml:"sampling"`
	Experimental     bool `toml:"experimental" yaml:"experimental"`
}

type AdminConfig struct {
	Addr        string   `toml:"addr" yaml:"addr"`
	Token       string   `toml:"token" yaml:"token"`
	CorsOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
}

type PeerConfig struct {
	Name           string   `toml:"name" yaml:"name"`
	Path           string   `toml:"path" yaml:"path"`
	Args           []string `toml:"args" yaml:"args"`
	Env            []string `toml:"env" yaml:"env"`
	Dir            string   `toml:"dir" yaml:"dir"`
	SSHHost        string   `toml:"ssh_host" yaml:"ssh_host"`
	SSHPort        string   `toml:"ssh_port" yaml:"ssh_port"`
	SSHUser        string   `toml:"ssh_user" yaml:"ssh_user"`
	SSHKeyPath     string   `toml:"ssh_key_path" yaml:"ssh_key_path"`
	SSHKnownHosts  string   `toml:"ssh_known_hosts" yaml:"ssh_known_hosts"`
	SSHInsecure    bool     `toml:"ssh_insecure" yaml:"ssh_insecure"`
	SSHDialTimeout string   `toml:"ssh_dial_timeout" yaml:"ssh_dial_timeout"`
}

func Default() Config {
	def := peer.DefaultConfig()
	return Config{
		ClientName:      def.Client.Name,
		ClientVersion:   def.Client.Version,
		ProtocolVersion: def.ProtocolVersion,
		Capabilities:    CapabilitiesDefault,
		SendInitialized: def.SendInitialized,
		StopGrace:       def.StopGrace.String(),
		MaxLineBytes:    def.Limits.MaxLineBytes,
		InboxSize:       def.InboxSize,
		ExplicitCapabilities: CapabilityConfig{
			Roots:            true,
			RootsListChanged: true,
		},
		Admin: AdminConfig{
			Addr: "127.0.0.1:9400",
		},
	}
}

// Load reads a TOML file, or YAML when the extension is .yaml or .yml, over
// the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := loadYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	default:
		if err := loadTOML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func loadTOML(path string, cfg *Config) error {
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return fmt.Errorf("config parse failed (%s): unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("capabilities") {
		cfg.Capabilities = strings.ToLower(strings.TrimSpace(cfg.Capabilities))
	}
	return nil
}

func loadYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	cfg.Capabilities = strings.ToLower(strings.TrimSpace(cfg.Capabilities))
	return nil
}

func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.ClientName) == "" {
		return fmt.Errorf("client_name is required")
	}
	switch cfg.Capabilities {
	case CapabilitiesDefault, CapabilitiesNone, CapabilitiesExplicit:
	default:
		return fmt.Errorf("capabilities must be default, none or explicit (got %q)", cfg.Capabilities)
	}
	if _, err := parseDuration("stop_grace", cfg.StopGrace); err != nil {
		return err
	}
	if cfg.MaxLineBytes <= 0 {
		return fmt.Errorf("max_line_bytes must be positive")
	}
	if cfg.InboxSize <= 0 {
		return fmt.Errorf("inbox_size must be positive")
	}

	names := make(map[string]struct{}, len(cfg.Peers))
	for i, p := range cfg.Peers {
		if err := ValidatePeer(p); err != nil {
			return fmt.Errorf("peer[%d] invalid: %w", i, err)
		}
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("peer[%d] invalid: duplicate name %q", i, p.Name)
		}
		names[p.Name] = struct{}{}
	}
	return nil
}

func ValidatePeer(p PeerConfig) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(p.Path) == "" {
		return fmt.Errorf("path is required")
	}
	for _, kv := range p.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("env entry %q must be KEY=VALUE", kv)
		}
	}
	if strings.TrimSpace(p.SSHHost) == "" {
		return nil
	}
	if strings.TrimSpace(p.SSHUser) == "" {
		return fmt.Errorf("ssh_user required when ssh_host is set")
	}
	if strings.TrimSpace(p.SSHKeyPath) == "" {
		return fmt.Errorf("ssh_key_path required when ssh_host is set")
	}
	if _, err := parseDuration("ssh_dial_timeout", p.SSHDialTimeout); err != nil {
		return err
	}
	return nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative", key)
	}
	return d, nil
}

// SupervisorConfig maps the file onto peer.Config.
func (c Config) SupervisorConfig() (peer.Config, error) {
	grace, err := parseDuration("stop_grace", c.StopGrace)
	if err != nil {
		return peer.Config{}, err
	}
	out := peer.DefaultConfig()
	out.Client = methods.ClientInfo{Name: c.ClientName, Version: c.ClientVersion}
	out.ProtocolVersion = c.ProtocolVersion
	out.SendInitialized = c.SendInitialized
	out.Limits = frame.Limits{MaxLineBytes: c.MaxLineBytes}
	out.InboxSize = c.InboxSize
	if grace > 0 {
		out.StopGrace = grace
	}

	switch c.Capabilities {
	case CapabilitiesNone:
		out.Capabilities = nil
	case CapabilitiesExplicit:
		caps := c.ExplicitCapabilities.Capabilities()
		out.Capabilities = &caps
	default:
		caps := methods.DefaultCapabilities()
		out.Capabilities = &caps
	}
	return out.WithDefaults(), nil
}

func (c CapabilityConfig) Capabilities() methods.Capabilities {
	var caps methods.Capabilities
	if c.Roots {
		listChanged := c.RootsListChanged
		caps.Roots = &methods.RootsCapability{ListChanged: &listChanged}
	}
	if c.Sampling {
		caps.Sampling = &methods.SamplingCapability{}
	}
	if c.Experimental {
		caps.Experimental = &methods.ExperimentalCapability{}
	}
	return caps
}

// Launcher returns the SSH launcher for remote peers and nil for local ones.
func (p PeerConfig) Launcher() peer.Launcher {
	if strings.TrimSpace(p.SSHHost) == "" {
		return nil
	}
	timeout, _ := parseDuration("ssh_dial_timeout", p.SSHDialTimeout)
	return peer.SSHLauncher{
		Host:                        p.SSHHost,
		Port:                        p.SSHPort,
		User:                        p.SSHUser,
		KeyPath:                     p.SSHKeyPath,
		KnownHostsPath:              p.SSHKnownHosts,
		InsecureSkipHostKeyChecking: p.SSHInsecure,
		Timeout:                     timeout,
	}
}

func (p PeerConfig) StartOptions() []peer.StartOption {
	opts := []peer.StartOption{peer.WithArgs(p.Args...), peer.WithEnv(p.Env...)}
	if p.Dir != "" {
		opts = append(opts, peer.WithDir(p.Dir))
	}
	if l := p.Launcher(); l != nil {
		opts = append(opts, peer.Via(l))
	}
	return opts
}
