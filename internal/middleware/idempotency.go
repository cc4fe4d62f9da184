package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nats-io/nats.go/jetstream"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxIdempotencyBody   = 1 << 20 // 1 MB
)

// storedResponse is the replayable form of a completed request.
type storedResponse struct {
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers"`
	Body       []byte              `json:"body"`
}

// Idempotency returns middleware that deduplicates mutating requests using
// the Idempotency-Key header and a NATS JetStream KV bucket. Entry expiry
// follows the bucket's TTL.
func Idempotency(kv jetstream.KeyValue) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(headerIdempotencyKey)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			if entry, err := kv.Get(r.Context(), key); err == nil {
				if replay(w, entry.Value()) {
					return
				}
				slog.Warn("idempotency: corrupt cache entry", "key", key)
			}

			rec := &responseRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
				body:           &bytes.Buffer{},
			}
			next.ServeHTTP(rec, r)

			persist(r, kv, key, rec)
		})
	}
}

// replay writes a previously stored response. It reports false when the
// stored bytes don't decode, in which case nothing was written.
func replay(w http.ResponseWriter, raw []byte) bool {
	var cached storedResponse
	if err := json.Unmarshal(raw, &cached); err != nil {
		return false
	}
	for k, vals := range cached.Headers {
		for _, v := range vals {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(cached.StatusCode)
	_, _ = w.Write(cached.Body)
	return true
}

// persist stores the captured response, best-effort and capped at 1MB.
func persist(r *http.Request, kv jetstream.KeyValue, key string, rec *responseRecorder) {
	if rec.body.Len() > maxIdempotencyBody {
		return
	}
	data, err := json.Marshal(storedResponse{
		StatusCode: rec.statusCode,
		Headers:    rec.Header().Clone(),
		Body:       rec.body.Bytes(),
	})
	if err != nil {
		return
	}
	if _, err := kv.Put(r.Context(), key, data); err != nil {
		slog.Warn("idempotency: failed to store response", "key", key, "error", err)
	}
}

// responseRecorder wraps http.ResponseWriter to capture the response.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body.Write(b)
	return r.ResponseWriter.Write(b)
}
