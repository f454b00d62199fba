package shared

// Protocol versions the gateway can negotiate, newest first.
var SupportedProtocolVersions = []string{"2025-06-18", "2025-03-26", "2024-11-05"}

// LatestProtocolVersion is offered when the client asks for an unknown one.
var LatestProtocolVersion = SupportedProtocolVersions[0]

// NegotiateProtocolVersion returns requested if supported, otherwise the
// latest version.
func NegotiateProtocolVersion(requested string) string {
	for _, v := range SupportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return LatestProtocolVersion
}

// Implementation names a client or server
type Implementation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ServerCapabilities represents the server's capabilities
type ServerCapabilities struct {
	Tools *ToolsCapability `json:"tools,omitempty"`
}

// ToolsCapability indicates support for tools
type ToolsCapability struct {
	ListChanged bool `json:"listChanged"`
}

// Tool represents a tool exposed by the server
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	InputSchema interface{} `json:"inputSchema"`
}

// TextContent represents text content
type TextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// NewTextContent returns a text content block
func NewTextContent(text string) TextContent {
	return TextContent{Type: "text", Text: text}
}

// CallToolResult is the conventional result shape of a tool call
type CallToolResult struct {
	Content           []TextContent `json:"content"`
	StructuredContent interface{}   `json:"structuredContent,omitempty"`
	IsError           bool          `json:"isError,omitempty"`
}
