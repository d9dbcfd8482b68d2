package almanac

import "encoding/json"

// Method names served on the almanac COMMS subject.
const (
	MethodQueryRecord  = "queryRecord"
	MethodRegister     = "register"
	MethodLookupName   = "lookupName"
	MethodRegisterName = "registerName"
	MethodHealth       = "health"
)

// Request is the JSON envelope for incoming COMMS almanac requests.
type Request struct {
	ID     string          `json:"id"`
	Type   string          `json:"type,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	// Sender is the requesting agent address, when known.
	Sender string `json:"sender,omitempty"`
}

// Response is the JSON envelope for COMMS almanac responses.
type Response struct {
	ID     string       `json:"id"`
	Ok     bool         `json:"ok"`
	Result interface{}  `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail holds structured error information.
type ErrorDetail struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	Retryable bool        `json:"retryable"`
}
