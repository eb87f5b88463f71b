package http

import (
	"errors"
	"log/slog"
	"net/http"

	"buste/internal/core"
	"buste/internal/log"
)

type envelopeRequest struct {
	Name     string `json:"name"`
	Icon     string `json:"icon"`
	Current  string `json:"current"`
	Target   string `json:"target"`
	Priority string `json:"priority"`
	Spending bool   `json:"spending"`
}

type envelopeResponse struct {
	ID        int64      `json:"id"`
	Name      string     `json:"name"`
	Icon      string     `json:"icon"`
	Current   core.Money `json:"current_cents"`
	Target    core.Money `json:"target_cents"`
	Priority  string     `json:"priority,omitempty"`
	Spending  bool       `json:"spending"`
	Surplus   core.Money `json:"surplus_cents"`
	Shortfall core.Money `json:"shortfall_cents"`
}

func toEnvelopeResponse(e core.Envelope) envelopeResponse {
	return envelopeResponse{
		ID:        e.ID,
		Name:      e.Name,
		Icon:      e.Icon,
		Current:   e.Current,
		Target:    e.Target,
		Priority:  string(e.Priority),
		Spending:  e.Spending,
		Surplus:   e.Surplus(),
		Shortfall: e.Shortfall(),
	}
}

// parseEnvelope converts a request payload into a domain envelope. Amounts
// arrive as decimal strings ("120.50" or "120,50"); empty means zero.
func parseEnvelope(req envelopeRequest) (core.Envelope, error) {
	e := core.Envelope{
		Name:     sanitizeInput(req.Name),
		Icon:     sanitizeInput(req.Icon),
		Spending: req.Spending,
	}

	if v := sanitizeInput(req.Current); v != "" {
		cents, err := core.ParseDecimalToCents(v)
		if err != nil {
			return core.Envelope{}, err
		}
		e.Current = core.Money{Cents: cents}
	}
	if v := sanitizeInput(req.Target); v != "" {
		cents, err := core.ParseDecimalToCents(v)
		if err != nil {
			return core.Envelope{}, err
		}
		e.Target = core.Money{Cents: cents}
	}

	if v := sanitizeInput(req.Priority); v != "" {
		p, err := core.ParsePriority(v)
		if err != nil {
			return core.Envelope{}, err
		}
		e.Priority = p
	} else if !req.Spending {
		e.Priority = core.Discretionary
	}

	return e, e.Validate()
}

// handleEnvelopes serves GET (list) and POST (create) on /api/envelopes.
func (s *Server) handleEnvelopes(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listEnvelopes(w, r)
	case http.MethodPost:
		s.createEnvelope(w, r)
	default:
		MethodNotAllowedError("GET, POST").Write(w)
	}
}

func (s *Server) listEnvelopes(w http.ResponseWriter, r *http.Request) {
	envelopes, err := s.reader.ListEnvelopes(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "List envelopes error",
			log.NewFields().WithOperation(log.OpList).WithError(err).ToSlice()...)
		InternalServerError("could not load envelopes").Write(w)
		return
	}

	out := make([]envelopeResponse, 0, len(envelopes))
	for _, e := range envelopes {
		out = append(out, toEnvelopeResponse(e))
	}
	NewJSONResponse().Payload(map[string]any{"envelopes": out}).Write(w)
}

func (s *Server) createEnvelope(w http.ResponseWriter, r *http.Request) {
	var req envelopeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}

	e, err := parseEnvelope(req)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}

	id, err := s.writer.CreateEnvelope(r.Context(), e)
	if err != nil {
		slog.ErrorContext(r.Context(), "Create envelope error", "error", err, "name", e.Name)
		InternalServerError("could not create envelope").Write(w)
		return
	}
	e.ID = id
	s.invalidatePlan()

	slog.InfoContext(r.Context(), "Envelope created",
		log.NewFields().WithOperation(log.OpCreate).WithEnvelope(id, e.Name).ToSlice()...)

	NewJSONResponse().Status(http.StatusCreated).Payload(toEnvelopeResponse(e)).Write(w)
}

// handleEnvelopeByID serves GET, PUT and DELETE on /api/envelopes/{id}.
func (s *Server) handleEnvelopeByID(w http.ResponseWriter, r *http.Request) {
	id, err := pathID("/api/envelopes/", r.URL.Path)
	if err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.getEnvelope(w, r, id)
	case http.MethodPut:
		s.updateEnvelope(w, r, id)
	case http.MethodDelete:
		s.deleteEnvelope(w, r, id)
	default:
		MethodNotAllowedError("GET, PUT, DELETE").Write(w)
	}
}

func (s *Server) getEnvelope(w http.ResponseWriter, r *http.Request, id int64) {
	e, err := s.reader.GetEnvelope(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrUnknownEnvelope) {
			NotFoundError("envelope not found").Write(w)
			return
		}
		slog.ErrorContext(r.Context(), "Get envelope error",
			append(log.NewFields().WithOperation(log.OpRead).WithError(err).ToSlice(), log.FieldEnvelopeID, id)...)
		InternalServerError("could not load envelope").Write(w)
		return
	}
	NewJSONResponse().Payload(toEnvelopeResponse(e)).Write(w)
}

func (s *Server) updateEnvelope(w http.ResponseWriter, r *http.Request, id int64) {
	var req envelopeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError("invalid request body").Write(w)
		return
	}

	e, err := parseEnvelope(req)
	if err != nil {
		UnprocessableEntityError(err.Error()).Write(w)
		return
	}
	e.ID = id

	if err := s.writer.UpdateEnvelope(r.Context(), e); err != nil {
		if errors.Is(err, core.ErrUnknownEnvelope) {
			NotFoundError("envelope not found").Write(w)
			return
		}
		slog.ErrorContext(r.Context(), "Update envelope error", "error", err, "id", id)
		InternalServerError("could not update envelope").Write(w)
		return
	}
	s.invalidatePlan()

	slog.InfoContext(r.Context(), "Envelope updated",
		log.NewFields().WithOperation(log.OpUpdate).WithEnvelope(id, e.Name).ToSlice()...)

	NewJSONResponse().Payload(toEnvelopeResponse(e)).Write(w)
}

func (s *Server) deleteEnvelope(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.writer.DeleteEnvelope(r.Context(), id); err != nil {
		if errors.Is(err, core.ErrUnknownEnvelope) {
			NotFoundError("envelope not found").Write(w)
			return
		}
		slog.ErrorContext(r.Context(), "Delete envelope error", "error", err, "id", id)
		InternalServerError("could not delete envelope").Write(w)
		return
	}
	s.invalidatePlan()

	slog.InfoContext(r.Context(), "Envelope deleted",
		append(log.NewFields().WithOperation(log.OpDelete).ToSlice(), log.FieldEnvelopeID, id)...)

	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
