package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bidhall.org/internal/audit"
	"bidhall.org/internal/auction"
	"bidhall.org/internal/obs"
	"bidhall.org/internal/oracle"
	"bidhall.org/internal/rail"
	"bidhall.org/internal/registry"
)

type startAuctionRequest struct {
	Seller          string `json:"seller"`
	AssetID         uint64 `json:"asset_id"`
	StartingPrice   int64  `json:"starting_price"`
	DurationSeconds int64  `json:"duration_seconds"`
	TokenRail       string `json:"token_rail"`
}

type bidRequest struct {
	NativeAmount int64 `json:"native_amount"`
}

type listAuctionsResponse struct {
	Count uint64             `json:"count"`
	Items []auction.Snapshot `json:"items"`
}

type listEventsResponse struct {
	Items     []auction.Event `json:"items"`
	NextAfter uint64          `json:"next_after"`
	AsOf      time.Time       `json:"as_of"`
}

func (a *API) handleAuctionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.startAuction(w, r)
	case http.MethodGet:
		a.listAuctions(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAuctionResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/auctions/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "auction id must be a non-negative integer")
		return
	}

	switch {
	case len(parts) == 1:
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getAuction(w, r, id)
	case len(parts) == 2 && parts[1] == "bids":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.placeBid(w, r, id)
	case len(parts) == 3 && parts[1] == "bids":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		a.getEscrow(w, r, id, parts[2])
	case len(parts) == 2 && parts[1] == "end":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.endAuction(w, r, id)
	case len(parts) == 2 && parts[1] == "withdrawals":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.withdraw(w, r, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) startAuction(w http.ResponseWriter, r *http.Request) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req startAuctionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	seller := strings.TrimSpace(req.Seller)
	if seller == "" {
		writeError(w, r, http.StatusBadRequest, "seller is required")
		return
	}
	if req.StartingPrice < 0 {
		writeError(w, r, http.StatusBadRequest, "starting_price must be >= 0")
		return
	}
	if req.DurationSeconds <= 0 {
		writeError(w, r, http.StatusBadRequest, "duration_seconds must be > 0")
		return
	}
	token := a.rails[strings.TrimSpace(req.TokenRail)]
	if token == nil {
		writeError(w, r, http.StatusBadRequest, "token_rail is unknown")
		return
	}

	id, err := a.ledger.Start(r.Context(), caller, auction.StartParams{
		Seller:        seller,
		AssetID:       req.AssetID,
		Registry:      a.registry,
		StartingPrice: req.StartingPrice,
		Duration:      time.Duration(req.DurationSeconds) * time.Second,
		Token:         token,
	})
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	obs.AuctionsStarted.Inc()
	a.auditEvent(r.Context(), "auction.start", map[string]any{
		"auction_id":     id,
		"seller":         seller,
		"asset_id":       req.AssetID,
		"starting_price": req.StartingPrice,
		"token_rail":     req.TokenRail,
	})

	snap, err := a.ledger.Get(id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/auctions/"+strconv.FormatUint(id, 10))
	writeJSON(w, http.StatusCreated, snap)
}

func (a *API) listAuctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, listAuctionsResponse{
		Count: a.ledger.Count(),
		Items: a.ledger.List(),
	})
}

func (a *API) getAuction(w http.ResponseWriter, r *http.Request, id uint64) {
	snap, err := a.ledger.Get(id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) placeBid(w http.ResponseWriter, r *http.Request, id uint64) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	var req bidRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if req.NativeAmount < 0 {
		writeError(w, r, http.StatusBadRequest, "native_amount must be >= 0")
		return
	}

	receipt, err := a.ledger.Bid(r.Context(), caller, id, req.NativeAmount)
	if err != nil {
		obs.BidsTotal.WithLabelValues(labelForBidError(err), "rejected").Inc()
		handleEngineError(w, r, err)
		return
	}

	obs.BidsTotal.WithLabelValues(receipt.Method.String(), "accepted").Inc()
	a.auditEvent(r.Context(), "auction.bid", map[string]any{
		"auction_id": id,
		"bidder":     caller,
		"amount":     receipt.Amount,
		"method":     receipt.Method.String(),
		"reference":  receipt.Reference,
	})

	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) getEscrow(w http.ResponseWriter, r *http.Request, id uint64, bidder string) {
	entry, err := a.ledger.Escrow(id, bidder)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (a *API) endAuction(w http.ResponseWriter, r *http.Request, id uint64) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	if err := a.ledger.EndBidding(r.Context(), caller, id); err != nil {
		handleEngineError(w, r, err)
		return
	}

	a.auditEvent(r.Context(), "auction.end", map[string]any{"auction_id": id})

	snap, err := a.ledger.Get(id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) withdraw(w http.ResponseWriter, r *http.Request, id uint64) {
	caller, ok := a.caller(w, r)
	if !ok {
		return
	}

	wd, err := a.ledger.Withdraw(r.Context(), caller, id)
	if err != nil {
		handleEngineError(w, r, err)
		return
	}

	obs.WithdrawalsTotal.WithLabelValues(wd.Claim.String()).Inc()
	a.auditEvent(r.Context(), "auction.withdraw", map[string]any{
		"auction_id": id,
		"party":      caller,
		"claim":      wd.Claim.String(),
		"amount":     wd.Amount,
	})

	writeJSON(w, http.StatusOK, wd)
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	limit, err := parsePositiveInt(r.URL.Query().Get("limit"), 100, 1, 1000)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	afterParam := strings.TrimSpace(r.URL.Query().Get("after"))
	var after uint64
	if afterParam != "" {
		v, err := strconv.ParseUint(afterParam, 10, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = v
	}

	items, next := a.ledger.Events(limit, after)
	writeJSON(w, http.StatusOK, listEventsResponse{
		Items:     items,
		NextAfter: next,
		AsOf:      time.Now().UTC(),
	})
}

func (a *API) auditEvent(ctx context.Context, event string, fields map[string]any) {
	_ = audit.LogEvent(ctx, event, fields)
}

func labelForBidError(err error) string {
	switch {
	case errors.Is(err, auction.ErrEmptyBid):
		return "none"
	case errors.Is(err, auction.ErrAmbiguousBid):
		return "ambiguous"
	default:
		return "unknown"
	}
}

func parsePositiveInt(raw string, def, min, max int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("limit must be an integer")
	}
	if val < min || val > max {
		return 0, errors.New("limit must be between 1 and 1000")
	}
	return val, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleEngineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auction.ErrInvalidAsset),
		errors.Is(err, auction.ErrInvalidDuration),
		errors.Is(err, auction.ErrInvalidPaymentToken),
		errors.Is(err, auction.ErrEmptyBid),
		errors.Is(err, auction.ErrAmbiguousBid),
		errors.Is(err, auction.ErrBelowStartingPrice),
		errors.Is(err, auction.ErrBelowHighestBid):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, auction.ErrUnauthorized):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auction.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, auction.ErrAuctionEnded),
		errors.Is(err, auction.ErrAuctionNotEnded),
		errors.Is(err, auction.ErrAlreadyEnded),
		errors.Is(err, rail.ErrInsufficientFunds),
		errors.Is(err, rail.ErrInsufficientAllowance):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, oracle.ErrUnknownRail),
		errors.Is(err, rail.ErrInsufficientEscrow),
		errors.Is(err, registry.ErrUnknownAsset),
		errors.Is(err, registry.ErrNotOwner),
		errors.Is(err, registry.ErrNotAuthorized):
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
