package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"buste/internal/core"
	"buste/internal/log"
	"buste/internal/services"
	"buste/internal/smartfill"
)

// planEditRequest carries the user's edits on top of a fresh classification.
// The server holds no plan state between requests; every call replays the
// edits against the current snapshot.
type planEditRequest struct {
	Sources  []sourceEdit `json:"sources"`
	Fills    []fillEdit   `json:"fills"`
	FillAll  bool         `json:"fill_all"`
	ClearAll bool         `json:"clear_all"`
}

type sourceEdit struct {
	ID       int64 `json:"id"`
	Selected bool  `json:"selected"`
}

type fillEdit struct {
	ID     int64  `json:"id"`
	Amount string `json:"amount"`
}

type destinationResponse struct {
	smartfill.Destination
	Selected bool `json:"selected"`
}

type transferResponse struct {
	FromID int64      `json:"from_id"`
	From   string     `json:"from"`
	ToID   int64      `json:"to_id"`
	To     string     `json:"to"`
	Amount core.Money `json:"amount_cents"`
}

type planResponse struct {
	Sources        []smartfill.Source    `json:"sources"`
	Destinations   []destinationResponse `json:"destinations"`
	TotalAvailable core.Money            `json:"total_available_cents"`
	TotalNeeded    core.Money            `json:"total_needed_cents"`
	TotalFill      core.Money            `json:"total_fill_cents"`
	Transfers      []transferResponse    `json:"transfers"`
}

func toPlanResponse(plan smartfill.Plan) planResponse {
	resp := planResponse{
		Sources:        plan.Sources,
		Destinations:   make([]destinationResponse, 0, len(plan.Destinations)),
		TotalAvailable: plan.TotalAvailable(),
		TotalNeeded:    plan.TotalNeeded(),
		TotalFill:      plan.TotalFill(),
		Transfers:      make([]transferResponse, 0),
	}
	if resp.Sources == nil {
		resp.Sources = make([]smartfill.Source, 0)
	}
	for _, d := range plan.Destinations {
		resp.Destinations = append(resp.Destinations, destinationResponse{
			Destination: d,
			Selected:    d.Selected(),
		})
	}

	names := make(map[int64]string, len(plan.Sources)+len(plan.Destinations))
	for _, s := range plan.Sources {
		names[s.ID] = s.Name
	}
	for _, d := range plan.Destinations {
		names[d.ID] = d.Name
	}
	for _, t := range plan.Transfers() {
		resp.Transfers = append(resp.Transfers, transferResponse{
			FromID: t.FromID,
			From:   names[t.FromID],
			ToID:   t.ToID,
			To:     names[t.ToID],
			Amount: t.Amount,
		})
	}
	return resp
}

// applyPlanEdits replays the request's edits onto the plan: source
// selections first, then bulk operations, then individual fills.
func applyPlanEdits(plan smartfill.Plan, req planEditRequest) (smartfill.Plan, error) {
	for _, se := range req.Sources {
		plan = plan.SelectSource(se.ID, se.Selected)
	}
	if req.ClearAll {
		plan = plan.ClearAll()
	}
	if req.FillAll {
		plan = plan.FillAll()
	}
	for _, fe := range req.Fills {
		cents, err := core.ParseDecimalToCents(sanitizeInput(fe.Amount))
		if err != nil {
			return smartfill.Plan{}, fmt.Errorf("fill amount for destination %d: %w", fe.ID, err)
		}
		plan = plan.SetFill(fe.ID, core.Money{Cents: cents})
	}
	return plan, nil
}

// handleClassify serves GET /api/smartfill: the classification of the
// current snapshot with all fills at zero.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	if resp := RequireMethod(r, http.MethodGet); resp != nil {
		resp.Write(w)
		return
	}

	plan, err := s.currentPlan(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Classification error",
			log.NewFields().WithOperation(log.OpClassify).WithError(err).ToSlice()...)
		InternalServerError("could not classify envelopes").Write(w)
		return
	}
	NewJSONResponse().Payload(toPlanResponse(plan)).Write(w)
}

// handlePlan serves POST /api/smartfill/plan: recompute the plan with the
// caller's edits and return the resulting fills and transfer preview.
func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	if resp := RequireMethod(r, http.MethodPost); resp != nil {
		resp.Write(w)
		return
	}

	var req planEditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}

	plan, err := s.currentPlan(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "Classification error",
			log.NewFields().WithOperation(log.OpPlan).WithError(err).ToSlice()...)
		InternalServerError("could not classify envelopes").Write(w)
		return
	}

	plan, err = applyPlanEdits(plan, req)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	NewJSONResponse().Payload(toPlanResponse(plan)).Write(w)
}

type applyResponse struct {
	BatchID   int64              `json:"batch_id"`
	Transfers []transferResponse `json:"transfers"`
	Total     core.Money         `json:"total_cents"`
}

// handleApply serves POST /api/smartfill/apply: rebuild the plan from a
// fresh snapshot, replay the edits, and persist the resulting transfers.
func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	if resp := RequireMethod(r, http.MethodPost); resp != nil {
		resp.Write(w)
		return
	}

	var req planEditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}

	// Always rebuild from storage here: applying against a cached snapshot
	// could move money based on stale balances.
	envelopes, err := s.reader.ListEnvelopes(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List envelopes error", "error", err)
		InternalServerError("could not load envelopes").Write(w)
		return
	}

	plan, err := applyPlanEdits(smartfill.NewPlan(envelopes), req)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}

	transfers := plan.Transfers()
	if len(transfers) == 0 {
		UnprocessableEntityError("nothing to transfer").Write(w)
		return
	}

	batchID, err := s.transfers.Apply(r.Context(), transfers)
	if err != nil {
		slog.ErrorContext(r.Context(), "Apply transfers error",
			append(log.NewFields().WithOperation(log.OpApply).WithError(err).ToSlice(),
				log.FieldTransfers, len(transfers))...)
		switch {
		case errors.Is(err, services.ErrExceedsSurplus), errors.Is(err, services.ErrSpendingAccount):
			ConflictError(err.Error()).Write(w)
		case errors.Is(err, core.ErrUnknownEnvelope):
			NotFoundError(err.Error()).Write(w)
		default:
			InternalServerError("could not apply transfers").Write(w)
		}
		return
	}
	s.invalidatePlan()

	slog.InfoContext(r.Context(), "Smart fill plan applied",
		log.NewFields().WithOperation(log.OpApply).WithBatch(batchID, len(transfers)).ToSlice()...)

	resp := applyResponse{BatchID: batchID, Total: plan.TotalFill()}
	names := make(map[int64]string, len(envelopes))
	for _, e := range envelopes {
		names[e.ID] = e.Name
	}
	for _, t := range transfers {
		resp.Transfers = append(resp.Transfers, transferResponse{
			FromID: t.FromID,
			From:   names[t.FromID],
			ToID:   t.ToID,
			To:     names[t.ToID],
			Amount: t.Amount,
		})
	}
	NewJSONResponse().Payload(resp).Write(w)
}

type batchResponse struct {
	ID            int64      `json:"id"`
	TransferCount int        `json:"transfer_count"`
	Total         core.Money `json:"total_cents"`
	SyncStatus    string     `json:"sync_status"`
	CreatedAt     string     `json:"created_at"`
}

// handleTransfers serves GET /api/transfers: recent batches, or the
// transfers of one batch when batch_id is given.
func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	if resp := RequireMethod(r, http.MethodGet); resp != nil {
		resp.Write(w)
		return
	}

	if v := strings.TrimSpace(r.URL.Query().Get("batch_id")); v != "" {
		batchID, err := strconv.ParseInt(v, 10, 64)
		if err != nil || batchID <= 0 {
			BadRequestError("invalid batch_id").Write(w)
			return
		}
		s.listBatchTransfers(w, r, batchID)
		return
	}

	limit := 0
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	batches, err := s.batches.ListBatches(r.Context(), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "List batches error", "error", err)
		InternalServerError("could not load transfer history").Write(w)
		return
	}

	out := make([]batchResponse, 0, len(batches))
	for _, b := range batches {
		out = append(out, batchResponse{
			ID:            b.ID,
			TransferCount: b.TransferCount,
			Total:         b.Total,
			SyncStatus:    b.SyncStatus,
			CreatedAt:     b.CreatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	NewJSONResponse().Payload(map[string]any{"batches": out}).Write(w)
}

func (s *Server) listBatchTransfers(w http.ResponseWriter, r *http.Request, batchID int64) {
	transfers, err := s.batches.ListTransfersByBatch(r.Context(), batchID)
	if err != nil {
		slog.ErrorContext(r.Context(), "List batch transfers error", "error", err, "batch_id", batchID)
		InternalServerError("could not load batch transfers").Write(w)
		return
	}

	out := make([]transferResponse, 0, len(transfers))
	for _, t := range transfers {
		tr := transferResponse{FromID: t.FromID, ToID: t.ToID, Amount: t.Amount}
		if e, err := s.reader.GetEnvelope(r.Context(), t.FromID); err == nil {
			tr.From = e.Name
		}
		if e, err := s.reader.GetEnvelope(r.Context(), t.ToID); err == nil {
			tr.To = e.Name
		}
		out = append(out, tr)
	}
	NewJSONResponse().Payload(map[string]any{"batch_id": batchID, "transfers": out}).Write(w)
}
