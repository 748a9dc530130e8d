package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"IFLedger/internal/command"
	"IFLedger/internal/core"
	"IFLedger/internal/ingestion"
	"IFLedger/internal/insurance"
	fpmath "IFLedger/internal/math"
	"IFLedger/internal/observability"
	"IFLedger/internal/projection"
	"IFLedger/internal/query"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
)

const (
	maxCommandBytes   = 1 << 20
	defaultPageSize   = 100
	maxPageSize       = 500
	defaultHistoryLen = 50
)

var (
	errBadRequest = errors.New("bad request")
	errDisabled   = errors.New("endpoint disabled")
)

// CommandResponse reports an applied (or deduplicated) command.
type CommandResponse struct {
	CommandType string `json:"command_type"`
	Sequence    int64  `json:"sequence"`
	Amount      uint64 `json:"amount"`
	Duplicate   bool   `json:"duplicate"`
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// StatusResponse describes the running service.
type StatusResponse struct {
	State        string `json:"state"`
	LastSequence int64  `json:"last_sequence"`
	Uptime       string `json:"uptime"`
}

// handlerFunc returns the response body or an error. The route wrapper owns
// encoding, status mapping and metrics.
type handlerFunc func(r *http.Request, params map[string]string) (any, error)

type routes struct {
	deps    *ServerDeps
	metrics *observability.Metrics
}

func registerRoutes(mux *runtime.ServeMux, deps *ServerDeps) error {
	rt := &routes{deps: deps, metrics: deps.Metrics}

	table := []struct {
		method, pattern, endpoint string
		fallback                  codes.Code
		h                         handlerFunc
	}{
		// Commands
		{http.MethodPost, "/v1/commands/{type}", "submit_command", codes.FailedPrecondition, rt.submitCommand},

		// Queries
		{http.MethodGet, "/v1/pools", "list_pools", codes.Internal, rt.listPools},
		{http.MethodGet, "/v1/pools/{pool}", "get_pool", codes.Internal, rt.getPool},
		{http.MethodGet, "/v1/pools/{pool}/stakes/{owner}", "get_stake", codes.Internal, rt.getStake},
		{http.MethodGet, "/v1/pools/{pool}/stakes/{owner}/history", "stake_history", codes.Internal, rt.stakeHistory},
		{http.MethodGet, "/v1/pools/{pool}/accounts/{account}", "account_balance", codes.Internal, rt.accountBalance},
		{http.MethodGet, "/v1/markets/{market}", "get_market", codes.Internal, rt.getMarket},
		{http.MethodGet, "/v1/journal/{owner}", "journal_history", codes.Internal, rt.journalHistory},

		// Admin
		{http.MethodGet, "/v1/admin/status", "status", codes.Internal, rt.status},
		{http.MethodGet, "/v1/admin/integrity", "verify_integrity", codes.Internal, rt.verifyIntegrity},
		{http.MethodPost, "/v1/admin/snapshots", "take_snapshot", codes.Internal, rt.takeSnapshot},
		{http.MethodPost, "/v1/admin/projections/rebuild", "rebuild_projections", codes.Internal, rt.rebuildProjections},
	}

	for _, route := range table {
		if err := mux.HandlePath(route.method, route.pattern, rt.wrap(route.endpoint, route.fallback, route.h)); err != nil {
			return fmt.Errorf("register %s %s: %w", route.method, route.pattern, err)
		}
	}
	return nil
}

func (rt *routes) wrap(endpoint string, fallback codes.Code, h handlerFunc) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		start := time.Now()
		body, err := h(r, params)
		if rt.metrics != nil {
			rt.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
			rt.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}

		if err != nil {
			code := errorCode(err, fallback)
			if rt.metrics != nil {
				rt.metrics.QueryErrors.WithLabelValues(endpoint, code.String()).Inc()
			}
			if code == codes.Internal {
				rt.deps.Logger.Error().Err(err).Str("endpoint", endpoint).Msg("request failed")
			}
			writeJSON(w, runtime.HTTPStatusFromCode(code), ErrorResponse{Code: code.String(), Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// errorCode classifies an error; anything unrecognised maps to fallback.
func errorCode(err error, fallback codes.Code) codes.Code {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, command.ErrInvalidCommand),
		errors.Is(err, insurance.ErrInvalidParam):
		return codes.InvalidArgument
	case errors.Is(err, query.ErrNotFound),
		errors.Is(err, core.ErrUnknownPool),
		errors.Is(err, core.ErrUnknownMarket):
		return codes.NotFound
	case errors.Is(err, core.ErrPoolExists), errors.Is(err, core.ErrMarketExists):
		return codes.AlreadyExists
	case errors.Is(err, insurance.ErrWithdrawLimitReached),
		errors.Is(err, insurance.ErrInsuranceCapReached):
		return codes.ResourceExhausted
	case errors.Is(err, fpmath.ErrMathOverflow),
		errors.Is(err, fpmath.ErrMathUnderflow),
		errors.Is(err, fpmath.ErrDivideByZero):
		return codes.OutOfRange
	case errors.Is(err, query.ErrUnavailable), errors.Is(err, errDisabled):
		return codes.Unavailable
	}
	return fallback
}

// ============================================================================
// Commands
// ============================================================================

func (rt *routes) submitCommand(r *http.Request, params map[string]string) (any, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %v: %w", err, errBadRequest)
	}
	if len(data) > maxCommandBytes {
		return nil, fmt.Errorf("body exceeds %d bytes: %w", maxCommandBytes, errBadRequest)
	}

	raw := ingestion.RawCommand{
		Source:      "http",
		CommandType: params["type"],
		Data:        data,
		Timestamp:   time.Now(),
	}
	if rt.metrics != nil {
		rt.metrics.IngestReceived.WithLabelValues(raw.Source, raw.CommandType).Inc()
	}

	cmd, err := ingestion.ParseRawCommand(raw)
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.IngestParseErrors.WithLabelValues(raw.CommandType).Inc()
		}
		return nil, err
	}

	res, err := rt.deps.Applier.ProcessCommand(cmd)
	if err != nil {
		return nil, err
	}
	return CommandResponse{
		CommandType: cmd.CommandType().String(),
		Sequence:    res.Sequence,
		Amount:      res.Amount,
		Duplicate:   res.Duplicate,
	}, nil
}

// ============================================================================
// Queries
// ============================================================================

func (rt *routes) listPools(r *http.Request, _ map[string]string) (any, error) {
	return rt.deps.QueryService.ListPools()
}

func (rt *routes) getPool(r *http.Request, params map[string]string) (any, error) {
	poolID, err := parseID(params["pool"])
	if err != nil {
		return nil, err
	}
	return rt.deps.QueryService.GetPool(poolID)
}

func (rt *routes) getStake(r *http.Request, params map[string]string) (any, error) {
	poolID, err := parseID(params["pool"])
	if err != nil {
		return nil, err
	}
	owner, err := parseOwner(params["owner"])
	if err != nil {
		return nil, err
	}
	return rt.deps.QueryService.GetStake(owner, poolID)
}

func (rt *routes) stakeHistory(r *http.Request, params map[string]string) (any, error) {
	poolID, err := parseID(params["pool"])
	if err != nil {
		return nil, err
	}
	owner, err := parseOwner(params["owner"])
	if err != nil {
		return nil, err
	}
	limit, err := pageSize(r, defaultHistoryLen)
	if err != nil {
		return nil, err
	}
	entries, err := rt.deps.QueryService.GetStakeHistory(owner, poolID, limit)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []projection.StakeHistoryEntry{}
	}
	return entries, nil
}

func (rt *routes) accountBalance(r *http.Request, params map[string]string) (any, error) {
	poolID, err := parseID(params["pool"])
	if err != nil {
		return nil, err
	}
	return rt.deps.QueryService.GetAccountBalance(r.Context(), params["account"], poolID)
}

func (rt *routes) getMarket(r *http.Request, params map[string]string) (any, error) {
	marketID, err := parseID(params["market"])
	if err != nil {
		return nil, err
	}
	return rt.deps.QueryService.GetMarket(marketID)
}

func (rt *routes) journalHistory(r *http.Request, params map[string]string) (any, error) {
	owner, err := parseOwner(params["owner"])
	if err != nil {
		return nil, err
	}
	limit, err := pageSize(r, defaultPageSize)
	if err != nil {
		return nil, err
	}

	var before *int64
	if v := r.URL.Query().Get("before_sequence"); v != "" {
		seq, err := strconv.ParseInt(v, 10, 64)
		if err != nil || seq < 0 {
			return nil, fmt.Errorf("before_sequence %q: %w", v, errBadRequest)
		}
		before = &seq
	}

	entries, err := rt.deps.QueryService.GetJournalHistory(r.Context(), owner, limit, before)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	return entries, nil
}

// ============================================================================
// Admin
// ============================================================================

func (rt *routes) status(r *http.Request, _ map[string]string) (any, error) {
	resp := StatusResponse{State: "starting", LastSequence: -1, Uptime: time.Since(rt.deps.StartTime).String()}
	if rt.deps.HealthChecker != nil && rt.deps.HealthChecker.IsReady() {
		resp.State = "ready"
	}
	if rt.deps.SnapshotMgr != nil {
		seq, err := rt.deps.SnapshotMgr.GetLatestSequence(r.Context())
		if err != nil {
			return nil, fmt.Errorf("latest sequence: %w", err)
		}
		resp.LastSequence = seq
	}
	return resp, nil
}

func (rt *routes) verifyIntegrity(r *http.Request, _ map[string]string) (any, error) {
	return rt.deps.QueryService.VerifyIntegrity(r.Context())
}

func (rt *routes) takeSnapshot(r *http.Request, _ map[string]string) (any, error) {
	if rt.deps.TakeSnapshot == nil {
		return nil, fmt.Errorf("snapshots: %w", errDisabled)
	}
	seq, err := rt.deps.TakeSnapshot(r.Context())
	if err != nil {
		return nil, err
	}
	return map[string]int64{"sequence": seq}, nil
}

func (rt *routes) rebuildProjections(r *http.Request, _ map[string]string) (any, error) {
	if rt.deps.DB == nil {
		return nil, fmt.Errorf("projection rebuild: %w", errDisabled)
	}
	if err := projection.RebuildProjections(r.Context(), rt.deps.DB); err != nil {
		return nil, fmt.Errorf("rebuild projections: %w", err)
	}
	return map[string]bool{"rebuilt": true}, nil
}

// ============================================================================
// Helpers
// ============================================================================

func parseID(s string) (uint16, error) {
	id, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("id %q: %w", s, errBadRequest)
	}
	return uint16(id), nil
}

func parseOwner(s string) (uuid.UUID, error) {
	owner, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("owner %q: %w", s, errBadRequest)
	}
	return owner, nil
}

func pageSize(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("limit %q: %w", v, errBadRequest)
	}
	if n > maxPageSize {
		n = maxPageSize
	}
	return n, nil
}
