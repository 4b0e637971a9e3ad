package client

// ChuteRequest is a chute declaration for create/update.
type ChuteRequest struct {
	Name      string         `json:"name,omitempty"`
	Version   string         `json:"version,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
	IPs       []string       `json:"ips,omitempty"`
	SSIDs     []string       `json:"ssids,omitempty"`
	StaticIPs []string       `json:"static_ips,omitempty"`
}

// Chute mirrors one registry record as the agent reports it.
type Chute struct {
	Name      string         `json:"name"`
	Version   string         `json:"version"`
	Config    map[string]any `json:"config,omitempty"`
	Running   bool           `json:"running"`
	IPs       []string       `json:"ips,omitempty"`
	SSIDs     []string       `json:"ssids,omitempty"`
	StaticIPs []string       `json:"static_ips,omitempty"`
}

// OperationResult is the outcome of one change-request.
type OperationResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// StatusResponse is the agent status summary.
type StatusResponse struct {
	RouterID   string   `json:"router_id"`
	InProgress []string `json:"in_progress"`
}

// ErrorResponse is the agent's error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
