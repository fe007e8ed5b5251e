// Package methods is the catalog of protocol method names and the typed
// payloads exchanged during the initialize handshake.
package methods

import "strings"

// Method is a protocol method name as it appears on the wire.
type Method string

const (
	Initialize            Method = "initialize"
	Initialized           Method = "notifications/initialized"
	Ping                  Method = "ping"
	Cancelled             Method = "notifications/cancelled"
	Progress              Method = "notifications/progress"
	PromptsList           Method = "prompts/list"
	PromptsGet            Method = "prompts/get"
	PromptsListChanged    Method = "notifications/prompts/list_changed"
	ResourcesList         Method = "resources/list"
	ResourcesRead         Method = "resources/read"
	ResourcesListChanged  Method = "notifications/resources/list_changed"
	ResourcesSubscribe    Method = "resources/subscribe"
	ResourcesUpdated      Method = "notifications/resources/updated"
	ToolsList             Method = "tools/list"
	ToolsCall             Method = "tools/call"
	ToolsListChanged      Method = "notifications/tools/list_changed"
	Completion            Method = "completion/complete"
	LoggingSetLevel       Method = "logging/setLevel"
	LogMessage            Method = "notifications/message"
	RootsList             Method = "roots/list"
	RootsListChanged      Method = "notifications/roots/list_changed"
	SamplingCreateMessage Method = "sampling/createMessage"
)

var catalog = map[Method]struct{}{
	Initialize:            {},
	Initialized:           {},
	Ping:                  {},
	Cancelled:             {},
	Progress:              {},
	PromptsList:           {},
	PromptsGet:            {},
	PromptsListChanged:    {},
	ResourcesList:         {},
	ResourcesRead:         {},
	ResourcesListChanged:  {},
	ResourcesSubscribe:    {},
	ResourcesUpdated:      {},
	ToolsList:             {},
	ToolsCall:             {},
	ToolsListChanged:      {},
	Completion:            {},
	LoggingSetLevel:       {},
	LogMessage:            {},
	RootsList:             {},
	RootsListChanged:      {},
	SamplingCreateMessage: {},
}

func (m Method) String() string {
	return string(m)
}

// IsNotification reports whether the method is sent without an id.
func (m Method) IsNotification() bool {
	return strings.HasPrefix(string(m), "notifications/")
}

// Known reports whether the method is part of the catalog.
func (m Method) Known() bool {
	_, ok := catalog[m]
	return ok
}

// Lookup maps a wire name onto the catalog.
func Lookup(name string) (Method, bool) {
	m := Method(name)
	return m, m.Known()
}
