package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	goMFA "github.com/MrEthical07/goMFA"
	"go.uber.org/zap"
)

const maxBodyBytes = 64 << 10

const internalErrorMessage = "internal server error"

// decodeJSON reads a bounded JSON body into dst. An empty body leaves dst
// untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return goMFA.ErrInvalidInput
}

// writeJSON writes the envelope. payload must marshal to a JSON object or be
// nil; its fields are merged next to success, message and error.
func writeJSON(w http.ResponseWriter, status int, success bool, message, code string, payload any) {
	body := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			var fields map[string]json.RawMessage
			if json.Unmarshal(raw, &fields) == nil {
				for k, v := range fields {
					body[k] = v
				}
			}
		}
	}
	body["success"] = success
	if message != "" {
		body["message"] = message
	}
	if code != "" {
		body["error"] = code
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *server) ok(w http.ResponseWriter, message string, payload any) {
	writeJSON(w, http.StatusOK, true, message, "", payload)
}

// fail maps err onto the envelope. codeFailureStatus overrides the status
// for wrong, stale or spent codes; zero keeps the taxonomy status.
func (s *server) fail(w http.ResponseWriter, r *http.Request, err error, codeFailureStatus int) {
	kind := goMFA.KindOf(err)
	status := goMFA.HTTPStatus(kind)
	if codeFailureStatus != 0 && goMFA.IsCodeFailure(err) {
		status = codeFailureStatus
	}

	if d, ok := goMFA.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(d.Seconds())))
	}

	if kind == goMFA.KindServer {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeJSON(w, status, false, internalErrorMessage, goMFA.ErrorCode(err), nil)
		return
	}
	writeJSON(w, status, false, err.Error(), goMFA.ErrorCode(err), nil)
}

func (s *server) unauthorized(w http.ResponseWriter, r *http.Request) {
	s.fail(w, r, goMFA.ErrUnauthenticated, 0)
}

func retryAfterSeconds(seconds float64) int {
	if seconds < 1 {
		return 1
	}
	return int(math.Ceil(seconds))
}
