package shared

// Method names understood by the gateway
const (
	MethodInitialize = "initialize"
	MethodPing       = "ping"

	// Tool methods
	MethodListTools = "tools/list"
	MethodCallTool  = "tools/call"

	// Notifications carry no id and never receive a response
	NotificationPrefix      = "notifications/"
	NotificationInitialized = "notifications/initialized"
	NotificationCancelled   = "notifications/cancelled"
)

// CallMethods are the methods that always expect a response.
var CallMethods = []string{MethodInitialize, MethodPing, MethodListTools, MethodCallTool}

// IsCallMethod reports whether method requires an id.
func IsCallMethod(method string) bool {
	for _, m := range CallMethods {
		if m == method {
			return true
		}
	}
	return false
}

// InitializeParams represents parameters for the initialize method
type InitializeParams struct {
	ProtocolVersion string                 `json:"protocolVersion"`
	Capabilities    map[string]interface{} `json:"capabilities,omitempty"`
	ClientInfo      Implementation         `json:"clientInfo"`
}

// InitializeResult represents the result of the initialize method
type InitializeResult struct {
	ProtocolVersion string             `json:"protocolVersion"`
	Capabilities    ServerCapabilities `json:"capabilities"`
	ServerInfo      Implementation     `json:"serverInfo"`
	Instructions    string             `json:"instructions,omitempty"`
}

// ListToolsResult represents the result of the tools/list method
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams represents parameters for the tools/call method
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments"`
}

// CancelledParams represents parameters of notifications/cancelled
type CancelledParams struct {
	RequestID ID     `json:"requestId"`
	Reason    string `json:"reason,omitempty"`
}

// EmptyResult is the result of ping
type EmptyResult struct{}
