package protocol

// Error codes reported over the wire. The recoverable flag tells the
// client whether offering a retry control makes sense; resource errors
// are terminal for the requesting session.
const (
	CodeSessionLimitExceeded = "SESSION_LIMIT_EXCEEDED"
	CodeSessionStartFailed   = "SESSION_START_FAILED"
	CodeSessionNotFound      = "SESSION_NOT_FOUND"
	CodeSessionEndFailed     = "SESSION_END_FAILED"
	CodeInvalidAudioChunk    = "INVALID_AUDIO_CHUNK"
	CodeBufferOverflow       = "BUFFER_DURATION_EXCEEDED"
	CodeStreamNotReady       = "STREAM_NOT_READY"
	CodeProviderUnavailable  = "PROVIDER_UNAVAILABLE"
	CodeStorageFailed        = "STORAGE_UPLOAD_FAILED"
	CodeUnauthorized         = "UNAUTHORIZED"
)

// WireError is the server→client error message.
type WireError struct {
	Type        string  `json:"type"`
	ErrorCode   string  `json:"error_code"`
	Message     string  `json:"message"`
	Recoverable bool    `json:"recoverable"`
	Context     string  `json:"context,omitempty"`
	Timestamp   float64 `json:"timestamp"`
}

// NewWireError builds an error message with the current timestamp.
func NewWireError(code, message string, recoverable bool) *WireError {
	return &WireError{
		Type:        TypeError,
		ErrorCode:   code,
		Message:     message,
		Recoverable: recoverable,
		Timestamp:   Now(),
	}
}
