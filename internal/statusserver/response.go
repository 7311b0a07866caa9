package statusserver

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/taskhub/hub/internal/huberr"
)

// Response is the status API's canonical JSON envelope.
type Response struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// ErrorInfo is the error shape nested in a failed Response.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// WriteJSON writes data as a JSON body with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 Response wrapping data.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
		RequestID: w.Header().Get("X-Request-ID"),
	})
}

// WriteError writes err as a Response, deriving the HTTP status from
// its Kind, and logs it server-side.
func WriteError(w http.ResponseWriter, err *huberr.Error, logger *zap.Logger) {
	status := httpStatusForKind(err.Kind)

	if logger != nil {
		logger.Error("status API error",
			zap.String("code", string(err.Code)),
			zap.String("kind", string(err.Kind)),
			zap.String("message", err.Message),
			zap.Bool("retryable", err.Retryable),
			zap.Error(err.Cause),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(err.Code),
			Message:   err.Message,
			Retryable: err.Retryable,
		},
		Timestamp: time.Now(),
	})
}

// WriteErrorMessage is a convenience wrapper for ad hoc handler errors
// that don't already have a huberr.Error, e.g. a malformed path
// parameter the router itself rejects.
func WriteErrorMessage(w http.ResponseWriter, status int, code huberr.ErrorCode, message string, logger *zap.Logger) {
	WriteJSON(w, status, Response{
		Success:   false,
		Error:     &ErrorInfo{Code: string(code), Message: message},
		Timestamp: time.Now(),
	})
}

func httpStatusForKind(kind huberr.Kind) int {
	switch kind {
	case huberr.KindTransient:
		return http.StatusServiceUnavailable
	case huberr.KindInvariant:
		return http.StatusConflict
	case huberr.KindStructure:
		return http.StatusUnprocessableEntity
	case huberr.KindResource:
		return http.StatusTooManyRequests
	case huberr.KindFatal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ResponseWriter wraps http.ResponseWriter to capture the status code
// and byte count written, for access logging and metrics middleware.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode   int
	BytesWritten int64
	written      bool
}

// NewResponseWriter wraps w, defaulting StatusCode to 200 until
// WriteHeader is called explicitly.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
}

func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.StatusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.BytesWritten += int64(n)
	return n, err
}

// Flush implements http.Flusher so SSE/WS upgrade paths still work
// through the wrapper.
func (rw *ResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker so the websocket upgrade on
// /api/v1/live works through the wrapper.
func (rw *ResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("underlying ResponseWriter does not implement http.Hijacker")
	}
	return h.Hijack()
}
