// Package api exposes the engine over HTTP: personas, chat, the
// Symposium, settings, history, and model management. Streaming endpoints
// speak the event protocol from the stream package over SSE or WebSocket.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/whetstone-ai/whetstone/types"
)

// Response is the uniform JSON envelope for non-streaming endpoints.
type Response struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *ErrorInfo  `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorInfo is the serialized error payload.
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON writes a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a 200 envelope around data.
func WriteSuccess(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, Response{
		Success:   true,
		Data:      data,
		Timestamp: time.Now(),
	})
}

// WriteError writes an error envelope, mapping the error code to an HTTP
// status when the error does not carry one.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	werr := types.GetError(err)
	status := werr.HTTPStatus
	if status == 0 {
		status = mapErrorCodeToHTTPStatus(werr.Code)
	}

	if logger != nil {
		logger.Warn("API error",
			zap.String("code", string(werr.Code)),
			zap.String("message", werr.Message),
			zap.Int("status", status),
		)
	}

	WriteJSON(w, status, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      string(werr.Code),
			Message:   werr.Message,
			Retryable: werr.Retryable,
		},
		Timestamp: time.Now(),
	})
}

func mapErrorCodeToHTTPStatus(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidRequest, types.ErrInvalidParticipants, types.ErrEmptyTopic:
		return http.StatusBadRequest
	case types.ErrUnknownPersona, types.ErrModelNotFound:
		return http.StatusNotFound
	case types.ErrSessionBusy:
		return http.StatusTooManyRequests
	case types.ErrSymposiumNotActive, types.ErrSymposiumActive:
		return http.StatusConflict
	case types.ErrInferenceTimeout:
		return http.StatusGatewayTimeout
	case types.ErrConnectionRefused, types.ErrBackendUnavailable:
		return http.StatusServiceUnavailable
	case types.ErrMalformedResponse:
		return http.StatusBadGateway
	case types.ErrStoreFailure, types.ErrInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// DecodeJSONBody decodes the request body into dst, writing the error
// response itself on failure. Unknown fields are rejected.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}, logger *zap.Logger) error {
	if r.Body == nil {
		err := types.NewError(types.ErrInvalidRequest, "request body is empty")
		WriteError(w, err, logger)
		return err
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		apiErr := types.NewError(types.ErrInvalidRequest, "invalid JSON body").
			WithCause(err).
			WithHTTPStatus(http.StatusBadRequest)
		WriteError(w, apiErr, logger)
		return apiErr
	}
	return nil
}

// statusWriter captures the response status for logging and metrics.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.written {
		sw.status = code
		sw.written = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	sw.written = true
	return sw.ResponseWriter.Write(b)
}

// Flush forwards flushing so streaming keeps working through the wrapper.
func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
