package protocol

import "fmt"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// MaxQueue bounds the per-connection outbound buffer.
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	RunID           string `json:"run_id"`
	Tick            uint64 `json:"tick"`
	TickRateHz      int    `json:"tick_rate_hz"`
	SceneDigest     string `json:"scene_digest,omitempty"`
}

// CMD (client -> server). Which of Connector/Room/Mode/Body are required
// depends on Kind.
type CmdMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Kind            string `json:"kind"`

	Connector string `json:"connector,omitempty"`
	Room      string `json:"room,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Body      string `json:"body,omitempty"`
}

// Check verifies the fields Kind needs are present. It does not look at the
// simulation.
func (c CmdMsg) Check() error {
	if c.ID == "" {
		return fmt.Errorf("missing id")
	}
	switch c.Kind {
	case CmdOpenConnector, CmdCloseConnector:
		if c.Connector == "" {
			return fmt.Errorf("%s: missing connector", c.Kind)
		}
	case CmdSetMode:
		if c.Room == "" || c.Mode == "" {
			return fmt.Errorf("%s: missing room or mode", c.Kind)
		}
	case CmdBodyEnter, CmdBodyExit:
		if c.Room == "" || c.Body == "" {
			return fmt.Errorf("%s: missing room or body", c.Kind)
		}
	default:
		return fmt.Errorf("unknown kind %q", c.Kind)
	}
	return nil
}

// ACK (server -> client). Sent once the command was applied, or rejected.
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ID              string `json:"id"`
	Tick            uint64 `json:"tick"`
	OK              bool   `json:"ok"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ERROR (server -> client) for messages that never reached the runtime.
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewAck(id string, tick uint64) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, ID: id, Tick: tick, OK: true}
}

func NewReject(id string, tick uint64, code, message string) AckMsg {
	return AckMsg{Type: TypeAck, ProtocolVersion: Version, ID: id, Tick: tick, Code: code, Message: message}
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
