package event

// ReconnectionScheduledData is the data for reconnection.scheduled events.
type ReconnectionScheduledData struct {
	ServerName string `json:"serverName"`
	Attempt    int    `json:"attempt"`
	DelayMs    int64  `json:"delayMs"`
}

// ReconnectionCancelledData is the data for reconnection.cancelled events.
type ReconnectionCancelledData struct {
	ServerName string `json:"serverName"`
}

// ReconnectionConnectedData is the data for reconnection.connected events.
type ReconnectionConnectedData struct {
	ServerName string `json:"serverName"`
	Attempts   int    `json:"attempts"`
}

// ReconnectionExhaustedData is the data for reconnection.exhausted events.
type ReconnectionExhaustedData struct {
	ServerName string `json:"serverName"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"lastError,omitempty"`
}

// ToolRegisteredData is the data for tool.registered events.
type ToolRegisteredData struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

// ToolUnregisteredData is the data for tool.unregistered events.
type ToolUnregisteredData struct {
	Name string `json:"name"`
}

// ServerConnectedData is the data for server.connected events.
type ServerConnectedData struct {
	ServerName string `json:"serverName"`
	ToolCount  int    `json:"toolCount"`
}

// ServerDisconnectedData is the data for server.disconnected events.
type ServerDisconnectedData struct {
	ServerName string `json:"serverName"`
	Error      string `json:"error,omitempty"`
}
