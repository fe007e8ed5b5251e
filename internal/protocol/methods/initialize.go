package methods

import (
	"fmt"

	"github.com/danmuck/peerctl/internal/protocol/jsonrpc"
)

// InitializeRequestID is the id every handshake request carries.
const InitializeRequestID int64 = 1

// DefaultProtocolVersion is offered when the caller does not pick one.
const DefaultProtocolVersion = "2024-11-05"

// Capabilities advertises optional client features. A nil field is not
// advertised and is left out of the payload entirely.
type Capabilities struct {
	Roots        *RootsCapability        `json:"roots,omitempty" yaml:"roots,omitempty"`
	Sampling     *SamplingCapability     `json:"sampling,omitempty" yaml:"sampling,omitempty"`
	Experimental *ExperimentalCapability `json:"experimental,omitempty" yaml:"experimental,omitempty"`
}

type RootsCapability struct {
	ListChanged *bool `json:"listChanged,omitempty" yaml:"list_changed,omitempty"`
}

type SamplingCapability struct{}

type ExperimentalCapability struct{}

// DefaultCapabilities is {"roots":{"listChanged":true}}.
func DefaultCapabilities() Capabilities {
	listChanged := true
	return Capabilities{Roots: &RootsCapability{ListChanged: &listChanged}}
}

type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type InitializeParams struct {
	ProtocolVersion string        `json:"protocolVersion"`
	Capabilities    *Capabilities `json:"capabilities,omitempty"`
	ClientInfo      ClientInfo    `json:"clientInfo"`
}

// InitializeResult is the typed view of a peer's initialize response.
type InitializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities,omitempty"`
	ServerInfo      *ClientInfo    `json:"serverInfo,omitempty"`
	Instructions    string         `json:"instructions,omitempty"`
}

// NewInitializeRequest builds the handshake request with id 1. A nil caps
// sends no capabilities member.
func NewInitializeRequest(protocolVersion, clientName, clientVersion string, caps *Capabilities) (*jsonrpc.Request, error) {
	if protocolVersion == "" {
		protocolVersion = DefaultProtocolVersion
	}
	params, err := jsonrpc.NewDocument(InitializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    caps,
		ClientInfo:      ClientInfo{Name: clientName, Version: clientVersion},
	})
	if err != nil {
		return nil, fmt.Errorf("initialize params: %w", err)
	}
	return jsonrpc.NewRequest(jsonrpc.NumberID(InitializeRequestID), Initialize.String(), params)
}

// NewInitializedNotification is sent once the peer has answered initialize.
func NewInitializedNotification() *jsonrpc.Notification {
	return &jsonrpc.Notification{Method: Initialized.String()}
}

// ParseInitializeResult extracts the typed view of a handshake response.
func ParseInitializeResult(resp *jsonrpc.Response) (InitializeResult, error) {
	var out InitializeResult
	if resp == nil || resp.Result == nil || resp.Result.IsZero() {
		return out, fmt.Errorf("initialize result: empty")
	}
	if err := resp.Result.Decode(&out); err != nil {
		return out, fmt.Errorf("initialize result: %w", err)
	}
	return out, nil
}
