/*
handlers.go - HTTP API handlers for the tax position service

PURPOSE:
  Exposes ingestion and the tax position engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the tax package.

ENDPOINTS:
  GET    /api/health                 Liveness + store reachability
  POST   /api/transactions           Ingest a SALES or TAX_PAYMENT event
  PATCH  /api/sale                   Ingest an amendment of one sale line
  GET    /api/tax-position?date=D    Net tax position as of D
                                     (&detail=true adds the breakdown)

  Scenarios:
    GET    /api/scenarios            List demo scenarios
    GET    /api/scenarios/current    Currently loaded scenario
    POST   /api/scenarios/load       Load a demo scenario
    POST   /api/scenarios/reset      Clear the store

REQUEST FLOW:
  1. Validate the body against its JSON Schema (validation.go)
  2. Decode into a DTO
  3. Call the ledger or the position engine
  4. Serialize response
  5. Map errors to status codes

IDEMPOTENCY:
  POST /api/transactions and PATCH /api/sale accept an Idempotency-Key
  header. Replaying a key answers 409 and stores nothing.

ERROR HANDLING:
  Errors are returned as JSON {"error": ..., "details": ...}:
  - 400: Schema violations, invalid dates, invalid values
  - 409: Duplicate idempotency key
  - 500: Store failures
  - 503: Store unreachable (health only)

SEE ALSO:
  - dto.go:       Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go:    Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/warp/tax-engine/tax"
	"go.opentelemetry.io/otel/trace"
)

// IdempotencyKeyHeader carries the client's retry key.
const IdempotencyKeyHeader = "Idempotency-Key"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Store is what the API needs from persistence: the tax.Store ports plus
// health checks and the demo reset.
type Store interface {
	tax.Store
	Ping(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     Store
	Engine    *tax.PositionEngine
	Ledger    *tax.Ledger
	Validator *Validator
	Logger    *slog.Logger
	Now       func() time.Time

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with the given store. tracer may be nil.
func NewHandler(store Store, logger *slog.Logger, tracer trace.Tracer) (*Handler, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		Store: store,
		Engine: &tax.PositionEngine{
			Transactions: store,
			Amendments:   store,
			Logger:       logger,
			Tracer:       tracer,
		},
		Ledger:    tax.NewLedger(store),
		Validator: validator,
		Logger:    logger,
		Now:       time.Now,
	}, nil
}

// =============================================================================
// HEALTH
// =============================================================================

// Health reports liveness. It answers 503 when the store is unreachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		h.Logger.ErrorContext(r.Context(), "health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "OK",
		Timestamp: h.Now().UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// INGESTION
// =============================================================================

// IngestTransaction stores a SALES or TAX_PAYMENT event.
func (h *Handler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	var req TransactionRequest
	if err := h.Validator.Decode(schemaTransaction, r.Body, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	ctx := r.Context()
	key := r.Header.Get(IdempotencyKeyHeader)

	var err error
	switch tax.EventType(req.EventType) {
	case tax.EventSales:
		_, err = h.Ledger.RecordSale(ctx, req.saleInput(key))
	case tax.EventTaxPayment:
		_, err = h.Ledger.RecordPayment(ctx, req.paymentInput(key))
	default:
		// The schema only admits the two known types.
		err = &RequestError{Message: "Validation failed", Err: errors.New("unknown eventType " + req.EventType)}
	}
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.Logger.InfoContext(ctx, "transaction ingested", "event_type", req.EventType, "date", req.Date)
	w.WriteHeader(http.StatusAccepted)
}

// AmendSale stores an amendment of one sale line. The sale does not need to
// exist.
func (h *Handler) AmendSale(w http.ResponseWriter, r *http.Request) {
	var req AmendmentRequest
	if err := h.Validator.Decode(schemaAmendment, r.Body, &req); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	ctx := r.Context()
	if _, err := h.Ledger.Amend(ctx, req.amendmentInput(r.Header.Get(IdempotencyKeyHeader))); err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	h.Logger.InfoContext(ctx, "amendment ingested", "invoice_id", req.InvoiceID, "item_id", req.ItemID, "date", req.Date)
	w.WriteHeader(http.StatusAccepted)
}

// =============================================================================
// TAX POSITION
// =============================================================================

// GetTaxPosition returns the net tax position as of the date query parameter.
func (h *Handler) GetTaxPosition(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "Validation failed", errors.New("date query parameter is required"))
		return
	}
	detail, _ := strconv.ParseBool(r.URL.Query().Get("detail"))

	pos, err := h.Engine.Resolve(r.Context(), date)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTaxPositionResponse(date, pos, detail))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps request, ledger and engine errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		writeError(w, http.StatusBadRequest, reqErr.Message, reqErr.Err)
	case errors.Is(err, tax.ErrInvalidDateFormat):
		writeError(w, http.StatusBadRequest, "Invalid date format", err)
	case tax.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Validation failed", err)
	case tax.IsConflict(err):
		writeError(w, http.StatusConflict, "Duplicate request", err)
	default:
		h.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error", err)
	}
}
