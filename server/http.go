package server

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"daemon-rpc/message"
	"daemon-rpc/protocol"
)

type walletKey struct{}

// Wallet returns the wallet named in a /wallet/{name} request path, or "".
func Wallet(ctx context.Context) string {
	w, _ := ctx.Value(walletKey{}).(string)
	return w
}

// Handler returns the HTTP surface: POST / and POST /wallet/{name} for calls,
// GET /metrics when metrics are enabled.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins,
			AllowedMethods:   []string{"POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
	r.Post("/", s.serveHTTP)
	r.Post("/wallet/{wallet}", func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), walletKey{}, chi.URLParam(r, "wallet"))
		s.serveHTTP(w, r.WithContext(ctx))
	})
	s.chain()
	return r
}

func (s *Server) authorized(r *http.Request) bool {
	if s.creds.IsZero() {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.creds.Username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(s.creds.Password)) == 1
	return userOK && passOK
}

func (s *Server) serveHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("incorrect rpc credentials", slog.String("remote", r.RemoteAddr))
		w.Header().Set("WWW-Authenticate", `Basic realm="jsonrpc"`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, protocol.MaxBodySize))
	if err != nil {
		out, _ := s.codec.EncodeResponse(message.NewErrorResponse(message.ID{},
			message.NewError(message.CodeInvalidRequest, "Invalid Request: body too large or unreadable")))
		_ = protocol.WriteJSON(w, http.StatusRequestEntityTooLarge, s.codec.ContentType(), out)
		return
	}

	ctx, hooks := withReplyHooks(r.Context())
	out, status := s.serveBody(ctx, body)

	w.Header().Set("Content-Length", strconv.Itoa(len(out)))
	if err := protocol.WriteJSON(w, status, s.codec.ContentType(), out); err != nil {
		s.logger.Warn("failed to write reply", slog.String("remote", r.RemoteAddr), slog.String("err", err.Error()))
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	// The reply is on the wire. Hooks may stop this very server, whose
	// Shutdown waits for this handler to return, so they must not block it.
	go hooks.run()
}
