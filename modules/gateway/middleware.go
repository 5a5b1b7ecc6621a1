package gateway

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/google/uuid"

	"github.com/neckchi/scheduleapi/modules/settings"
)

// CorrelationHeader carries the request id end to end. Callers that send
// one get it echoed back; everyone else gets a fresh one.
const CorrelationHeader = "X-Correlation-ID"

type contextKey int

const correlationKey contextKey = iota

// CorrelationID mints or propagates the correlation id and echoes it on
// every response.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey, id)))
	})
}

// CorrelationIDFrom returns the request's correlation id, or empty outside
// a request.
func CorrelationIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey).(string)
	return id
}

// BasicAuth guards a handler with the provisioned credential pair. Both
// fields are compared in constant time before either verdict is read.
func BasicAuth(creds settings.BasicAuth, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(creds.User)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(creds.Password.String())) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="scheduleapi"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
