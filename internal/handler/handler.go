// Package handler provides HTTP request handlers for the public and private
// dues API.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/duesledger/duesledger/internal/auth"
	"github.com/duesledger/duesledger/internal/model"
	"github.com/duesledger/duesledger/internal/service"
)

// Stats reports month totals. Implemented by service.StatsService.
type Stats interface {
	Month(ctx context.Context, p model.Period) (service.MonthStats, error)
	Current(ctx context.Context) (service.MonthStats, error)
	Modified(ctx context.Context) (*time.Time, error)
}

// Members reads and administers members. Implemented by service.MemberService.
type Members interface {
	Usernames(ctx context.Context) ([]string, error)
	Info(ctx context.Context, username string) (*service.MemberInfo, error)
	MonthsDue(ctx context.Context, username string) (due int, ok bool, err error)
	MemberList(ctx context.Context) ([]byte, error)
	SetActive(ctx context.Context, username string, active bool) error
}

// Reconciler matches transfers. Implemented by service.ReconcileService.
type Reconciler interface {
	MatchEasy(ctx context.Context) (service.MatchReport, error)
	Match(ctx context.Context, username, uid string, count int) ([]model.MemberTransfer, error)
	Unmatched(ctx context.Context) ([]*model.Transfer, error)
}

// Handler serves the dues API.
type Handler struct {
	logger     *slog.Logger
	stats      Stats
	members    Members
	reconciler Reconciler
	private    map[string]privateMethod
}

// New creates a new Handler.
func New(logger *slog.Logger, stats Stats, members Members, reconciler Reconciler) *Handler {
	h := &Handler{
		logger:     logger,
		stats:      stats,
		members:    members,
		reconciler: reconciler,
	}
	h.private = map[string]privateMethod{
		"list_members":        h.listMembers,
		"get_member_info":     h.getMemberInfo,
		"match_easy":          h.matchEasy,
		"match":               h.match,
		"set_member_active":   h.setMemberActive,
		"unmatched_transfers": h.unmatchedTransfers,
	}
	return h
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "resource not found")
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// principal returns the caller of a private method. The PrivateAPI
// middleware guarantees one is present.
func principal(ctx context.Context) (*auth.Request, bool) {
	return auth.RequestFromContext(ctx)
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: message})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
