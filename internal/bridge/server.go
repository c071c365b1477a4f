package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rignes/walletgate/internal/protocol"
	"github.com/rignes/walletgate/internal/registry"
)

// Surfacer shows a pending request to the user.
type Surfacer interface {
	SurfaceRequest(ctx context.Context, req *protocol.Request)
}

// AutoSettler settles subscription-tagged payment requests.
type AutoSettler interface {
	HandleAutoPayment(ctx context.Context, req *protocol.Request)
}

// LoginObserver is told about arriving login requests so an awaited link
// flow can complete.
type LoginObserver interface {
	Observe(serviceKey string) bool
}

// DefaultResultTimeout bounds how long an envelope connection is held open
// waiting for the user's decision.
const DefaultResultTimeout = 2 * time.Minute

// Server receives decrypted protocol envelopes from the transport process.
// The transport owns delivery and cryptography; this server owns turning an
// envelope into a pending request and handing back the single settlement
// result.
type Server struct {
	registry      *registry.Registry
	autopay       AutoSettler
	surfacer      Surfacer
	logins        LoginObserver
	resultTimeout time.Duration
	log           *slog.Logger

	server *http.Server
}

// NewServer creates a bridge server. surfacer and logins may be nil when
// the daemon runs headless.
func NewServer(reg *registry.Registry, autopay AutoSettler, surfacer Surfacer, logins LoginObserver, resultTimeout time.Duration, log *slog.Logger) *Server {
	if resultTimeout <= 0 {
		resultTimeout = DefaultResultTimeout
	}
	return &Server{
		registry:      reg,
		autopay:       autopay,
		surfacer:      surfacer,
		logins:        logins,
		resultTimeout: resultTimeout,
		log:           log,
	}
}

// Start starts the bridge server
func (s *Server) Start(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/envelope", s.handleEnvelope)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.resultTimeout + 10*time.Second,
	}

	s.log.Info("starting bridge server", "port", port)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	return s.server.ListenAndServe()
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/envelope", s.handleEnvelope)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *Server) handleEnvelope(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var env Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		s.log.Warn("invalid envelope", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	req, err := ParseEnvelope(&env)
	if err != nil {
		s.log.Warn("reject envelope", "type", env.Type, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	results := make(chan protocol.Result, 1)
	req.Result = protocol.NewSink(func(res protocol.Result) {
		results <- res
	})

	s.log.Info("envelope received",
		"request_id", req.ID,
		"kind", req.Kind(),
		"service_key", truncate(req.ServiceKey, 12),
	)

	s.dispatch(r.Context(), req)

	select {
	case res := <-results:
		writeResult(w, res)
	case <-time.After(s.resultTimeout):
		s.log.Warn("no decision before timeout", "request_id", req.ID)
		w.WriteHeader(http.StatusGatewayTimeout)
	case <-r.Context().Done():
	}
}

// dispatch routes a parsed request. Subscription-tagged payments never
// reach the registry or the user; everything else becomes pending and is
// surfaced.
func (s *Server) dispatch(ctx context.Context, req *protocol.Request) {
	if c, ok := req.Content.(*protocol.PaymentContent); ok && c.SubscriptionID != "" {
		s.autopay.HandleAutoPayment(ctx, req)
		return
	}

	s.registry.Add(req)

	if req.Kind() == protocol.KindLogin && s.logins != nil {
		s.logins.Observe(req.ServiceKey)
	}
	if s.surfacer != nil {
		s.surfacer.SurfaceRequest(ctx, req)
	}
}

func writeResult(w http.ResponseWriter, res protocol.Result) {
	w.Header().Set("Content-Type", "application/json")

	var payload interface{}
	switch r := res.(type) {
	case protocol.Approved:
		payload = map[string]string{"status": "approved", "session_token": r.SessionToken}
	case protocol.Declined:
		payload = map[string]string{"status": "declined", "reason": r.Reason}
	case protocol.Pending:
		payload = map[string]string{"status": "pending"}
	case protocol.Rejected:
		payload = map[string]string{"status": "rejected", "reason": r.Reason}
	case protocol.Confirmed:
		payload = map[string]string{"status": "confirmed", "subscription_id": r.SubscriptionID}
	case protocol.TicketIssued:
		payload = map[string]interface{}{"status": "success", "token": r.Token, "count": r.Count}
	case protocol.InsufficientFunds:
		payload = map[string]string{"status": "insufficient_funds"}
	default:
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(payload)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
