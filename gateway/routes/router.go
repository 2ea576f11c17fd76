package routes

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"escrowchain/core"
	"escrowchain/core/types"
	"escrowchain/gateway/middleware"
	"escrowchain/journal"
	"escrowchain/native/escrow"
)

// RateLimitKeyTransactions names the limiter bucket guarding submissions.
const RateLimitKeyTransactions = "transactions"

// Ledger applies submitted transactions.
type Ledger interface {
	ApplyTransaction(ctx context.Context, tx *types.Transaction) (*core.Receipt, error)
}

type Config struct {
	Ledger        Ledger
	Store         escrow.Store
	// Journal enables idempotency keys and escrow history. Optional.
	Journal       *journal.Store
	RateLimiter   *middleware.RateLimiter
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Timeout       time.Duration
	Logger        *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("routes: ledger required")
	}
	if cfg.Store == nil {
		return nil, errors.New("routes: record store required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.CORS))

	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	txRoutes := &transactionsRoutes{ledger: cfg.Ledger, journal: cfg.Journal, timeout: cfg.Timeout, logger: cfg.Logger}
	r.Route("/v1/transactions", func(sr chi.Router) {
		if cfg.RateLimiter != nil {
			sr.Use(cfg.RateLimiter.Middleware(RateLimitKeyTransactions))
		}
		if obs != nil {
			sr.Use(obs.Middleware("transactions"))
		}
		txRoutes.mount(sr)
	})

	recRoutes := &recordRoutes{store: cfg.Store, journal: cfg.Journal}
	r.Group(func(sr chi.Router) {
		if obs != nil {
			sr.Use(obs.Middleware("records"))
		}
		recRoutes.mount(sr)
	})

	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	return r, nil
}
