// Package protocol defines the newline-delimited JSON messages exchanged
// between sfpwatch clients and the sfpwatchd control socket.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// CommandType represents the type of command
type CommandType string

const (
	// CommandStatus gets daemon status
	CommandStatus CommandType = "status"
	// CommandList lists every port and its last known status
	CommandList CommandType = "list"
	// CommandGet returns a single port
	CommandGet CommandType = "get"
)

// Request represents a command request from client to daemon
type Request struct {
	ID      string          `json:"id"`                // Unique request ID
	Type    CommandType     `json:"type"`              // Command type
	Payload json.RawMessage `json:"payload,omitempty"` // Command-specific payload
}

// Response represents a response from daemon to client
type Response struct {
	ID      string          `json:"id"`              // Request ID this responds to
	Success bool            `json:"success"`         // Whether command succeeded
	Error   string          `json:"error,omitempty"` // Error message if failed
	Data    json.RawMessage `json:"data,omitempty"`  // Response data if succeeded
}

// GetRequest selects one port by index.
type GetRequest struct {
	Port int `json:"port"`
}

// PortInfo is the wire form of one port's state.
type PortInfo struct {
	Port       int       `json:"port"`
	Name       string    `json:"name,omitempty"`
	Status     string    `json:"status"`      // status code, "-1" while unknown
	StatusName string    `json:"status_name"` // e.g. PRESENT, BAD_EEPROM
	Known      bool      `json:"known"`
	Updated    time.Time `json:"updated,omitempty"`
	Changes    int       `json:"changes"`
}

// StatusResponse represents daemon status
type StatusResponse struct {
	Version string         `json:"version"`
	Uptime  string         `json:"uptime"`
	Source  string         `json:"source"`
	Ports   int            `json:"ports"`
	Counts  map[string]int `json:"counts"` // ports per status name
}

// ListResponse represents the port table
type ListResponse struct {
	Ports []PortInfo `json:"ports"`
}

// NewRequest builds a request, encoding payload when it is non-nil.
func NewRequest(id string, typ CommandType, payload interface{}) (*Request, error) {
	req := &Request{ID: id, Type: typ}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		req.Payload = data
	}
	return req, nil
}

// ParseRequest parses a JSON request
func ParseRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request: %w", err)
	}
	return &req, nil
}

// ParseResponse parses a JSON response
func ParseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return &resp, nil
}

// MarshalResponse marshals a response to JSON
func MarshalResponse(resp *Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return data, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(id string, err error) *Response {
	return &Response{
		ID:      id,
		Success: false,
		Error:   err.Error(),
	}
}

// NewSuccessResponse creates a success response with data
func NewSuccessResponse(id string, data interface{}) (*Response, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}

	return &Response{
		ID:      id,
		Success: true,
		Data:    jsonData,
	}, nil
}

// Decode unmarshals a successful response's data into v.
func (r *Response) Decode(v interface{}) error {
	if !r.Success {
		return fmt.Errorf("daemon error: %s", r.Error)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("failed to decode response data: %w", err)
	}
	return nil
}
