package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/middleware"

	"github.com/cardvault/storefront/internal"
)

// maxLoggedBody caps how much of a body is read into the log line.
const maxLoggedBody = 4 << 10

const filtered = "[FILTERED]"

// Keys containing any of these are replaced wholesale. Webhook bodies and
// admin payloads carry buyer contact data, so phone and address are here too.
var sensitiveFields = []string{
	"password", "token", "authorization", "secret", "key",
	"session", "credential", "auth", "phone", "address",
}

// Keys containing these keep enough shape to correlate a buyer.
var maskedFields = []string{"email"}

type fieldAction int

const (
	keepField fieldAction = iota
	dropField
	maskField
)

func classify(key string) fieldAction {
	key = strings.ToLower(key)
	for _, f := range sensitiveFields {
		if strings.Contains(key, f) {
			return dropField
		}
	}
	for _, f := range maskedFields {
		if strings.Contains(key, f) {
			return maskField
		}
	}
	return keepField
}

// LoggingMiddleware writes one access line per request with redacted request
// and response bodies. The level follows the status class.
func LoggingMiddleware(base *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqBody := peekBody(r)

			rec := &recordingWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			lg := base
			if traceID := internal.TraceIDFromContext(r.Context()); traceID != "" {
				lg = lg.With("trace_id", traceID)
			}

			level := slog.LevelInfo
			switch {
			case rec.status >= http.StatusInternalServerError:
				level = slog.LevelError
			case rec.status >= http.StatusBadRequest:
				level = slog.LevelWarn
			}

			lg.Log(r.Context(), level, "http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"query", r.URL.RawQuery,
				"remote_addr", r.RemoteAddr,
				"user_agent", r.UserAgent(),
				"headers", filterSensitiveHeaders(r.Header),
				"request_body", filterSensitiveBody(reqBody),
				"status_code", rec.status,
				"response_size", rec.size,
				"response_body", filterSensitiveBody(rec.captured()),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type readCloser struct {
	io.Reader
	io.Closer
}

// peekBody reads up to maxLoggedBody+1 bytes and splices them back in front
// of the unread remainder. Bodies over the cap are not logged.
func peekBody(r *http.Request) []byte {
	if r.Body == nil || r.Body == http.NoBody {
		return nil
	}
	head, _ := io.ReadAll(io.LimitReader(r.Body, maxLoggedBody+1))
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(head), r.Body), Closer: r.Body}
	if len(head) > maxLoggedBody {
		return nil
	}
	return head
}

type recordingWriter struct {
	http.ResponseWriter
	status   int
	size     int
	body     bytes.Buffer
	overflow bool
}

func (rw *recordingWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *recordingWriter) Write(b []byte) (int, error) {
	if !rw.overflow {
		if rw.body.Len()+len(b) > maxLoggedBody {
			rw.overflow = true
			rw.body.Reset()
		} else {
			rw.body.Write(b)
		}
	}
	rw.size += len(b)
	return rw.ResponseWriter.Write(b)
}

func (rw *recordingWriter) captured() []byte {
	if rw.overflow {
		return nil
	}
	return rw.body.Bytes()
}

func filterSensitiveHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for name, values := range headers {
		if classify(name) == dropField {
			out[name] = filtered
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

// filterSensitiveBody redacts JSON bodies field by field. A non-JSON body is
// dropped entirely if it mentions any sensitive name.
func filterSensitiveBody(body []byte) string {
	if len(body) == 0 {
		return ""
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		lower := strings.ToLower(string(body))
		for _, f := range sensitiveFields {
			if strings.Contains(lower, f) {
				return "[FILTERED - Contains sensitive data]"
			}
		}
		return string(body)
	}

	out, err := json.Marshal(redact(doc))
	if err != nil {
		return "[ERROR - Failed to marshal filtered JSON]"
	}
	return string(out)
}

func redact(v interface{}) interface{} {
	switch node := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(node))
		for k, child := range node {
			switch classify(k) {
			case dropField:
				out[k] = filtered
			case maskField:
				out[k] = maskEmail(child)
			default:
				out[k] = redact(child)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(node))
		for i, child := range node {
			out[i] = redact(child)
		}
		return out
	default:
		return v
	}
}

// maskEmail keeps the first character and the domain: b***@example.com.
func maskEmail(value interface{}) interface{} {
	s, ok := value.(string)
	if !ok {
		return filtered
	}
	at := strings.LastIndex(s, "@")
	if at < 1 {
		return filtered
	}
	return s[:1] + "***" + s[at:]
}
