package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/duesledger/duesledger/internal/auth"
	"github.com/duesledger/duesledger/internal/ledger"
	"github.com/duesledger/duesledger/internal/model"
	"github.com/duesledger/duesledger/internal/service"
)

// Private API errors.
var (
	errForbidden    = errors.New("forbidden")
	errMissingParam = errors.New("missing parameter")
)

// privateMethod implements one POST /api/{method} call.
type privateMethod func(ctx context.Context, req *auth.Request) (any, error)

// Private handles POST /api/{method}. The request body was already verified
// by the PrivateAPI middleware; the method's return value is the JSON body.
func (h *Handler) Private(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "method")
	method, ok := h.private[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown method")
		return
	}

	req, ok := principal(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	result, err := method(r.Context(), req)
	if err != nil {
		status, message := privateErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.internalError(w, r, name, err)
			return
		}
		h.logger.Info("private API call refused",
			slog.String("method", name),
			slog.String("key_id", req.Principal.KeyID),
			slog.Int("status", status),
			slog.String("reason", err.Error()),
		)
		writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func privateErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, ledger.ErrMemberNotFound):
		return http.StatusNotFound, "member not found"
	case errors.Is(err, ledger.ErrTransferNotFound):
		return http.StatusNotFound, "transfer not found"
	case errors.Is(err, ledger.ErrPeriodTaken):
		return http.StatusConflict, "period already paid"
	case errors.Is(err, service.ErrInvalidCount),
		errors.Is(err, service.ErrNotIncoming),
		errors.Is(err, errMissingParam),
		errors.Is(err, auth.ErrMalformedPayload):
		return http.StatusBadRequest, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

func requireUnscoped(req *auth.Request) error {
	if !req.Principal.Unscoped() {
		return errForbidden
	}
	return nil
}

func (h *Handler) listMembers(ctx context.Context, req *auth.Request) (any, error) {
	if err := requireUnscoped(req); err != nil {
		return nil, err
	}
	return h.members.Usernames(ctx)
}

func (h *Handler) getMemberInfo(ctx context.Context, req *auth.Request) (any, error) {
	var p struct {
		Member string `json:"member"`
	}
	if err := req.Params.Decode(&p); err != nil {
		return nil, err
	}
	if p.Member == "" {
		return nil, errMissingParam
	}
	if !req.Principal.CanActFor(p.Member) {
		return nil, errForbidden
	}
	return h.members.Info(ctx, p.Member)
}

func (h *Handler) matchEasy(ctx context.Context, req *auth.Request) (any, error) {
	if err := requireUnscoped(req); err != nil {
		return nil, err
	}
	return h.reconciler.MatchEasy(ctx)
}

func (h *Handler) match(ctx context.Context, req *auth.Request) (any, error) {
	if err := requireUnscoped(req); err != nil {
		return nil, err
	}
	var p struct {
		Member   string `json:"member"`
		Transfer string `json:"transfer"`
		Months   *int   `json:"months"`
	}
	if err := req.Params.Decode(&p); err != nil {
		return nil, err
	}
	if p.Member == "" || p.Transfer == "" {
		return nil, errMissingParam
	}
	months := 1
	if p.Months != nil {
		months = *p.Months
	}

	created, err := h.reconciler.Match(ctx, p.Member, p.Transfer, months)
	if err != nil {
		return nil, err
	}
	periods := make([]model.Period, 0, len(created))
	for _, mt := range created {
		periods = append(periods, mt.Period)
	}
	return periods, nil
}

func (h *Handler) setMemberActive(ctx context.Context, req *auth.Request) (any, error) {
	if err := requireUnscoped(req); err != nil {
		return nil, err
	}
	var p struct {
		Member string `json:"member"`
		Active *bool  `json:"active"`
	}
	if err := req.Params.Decode(&p); err != nil {
		return nil, err
	}
	if p.Member == "" || p.Active == nil {
		return nil, errMissingParam
	}
	if err := h.members.SetActive(ctx, p.Member, *p.Active); err != nil {
		return nil, err
	}
	return map[string]any{"member": p.Member, "active": *p.Active}, nil
}

func (h *Handler) unmatchedTransfers(ctx context.Context, req *auth.Request) (any, error) {
	if err := requireUnscoped(req); err != nil {
		return nil, err
	}
	transfers, err := h.reconciler.Unmatched(ctx)
	if err != nil {
		return nil, err
	}
	if transfers == nil {
		transfers = []*model.Transfer{}
	}
	return transfers, nil
}
