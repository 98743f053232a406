package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/duesledger/duesledger/internal/model"
)

// envelope wraps every public response.
type envelope struct {
	Status   string     `json:"status"`
	Content  any        `json:"content"`
	Modified *time.Time `json:"modified"`
}

// Month handles GET /api/month/{year}/{month}.json
func (h *Handler) Month(w http.ResponseWriter, r *http.Request) {
	year, errY := strconv.Atoi(chi.URLParam(r, "year"))
	month, errM := strconv.Atoi(chi.URLParam(r, "month"))
	if errY != nil || errM != nil {
		writeError(w, http.StatusBadRequest, "invalid period")
		return
	}
	p, err := model.ParsePeriod(year, month)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := h.stats.Month(r.Context(), p)
	if err != nil {
		h.internalError(w, r, "month stats", err)
		return
	}
	h.writePublic(w, r, stats)
}

// Mana handles GET /api/mana.json, the current month's totals.
func (h *Handler) Mana(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Current(r.Context())
	if err != nil {
		h.internalError(w, r, "current stats", err)
		return
	}
	h.writePublic(w, r, stats)
}

// MonthsDue handles GET /api/months_due/{username}.json. The content is
// false for unknown members and members who never paid.
//
// Usernames may contain dots, so the whole last segment is routed and the
// suffix stripped here.
func (h *Handler) MonthsDue(w http.ResponseWriter, r *http.Request) {
	username, ok := strings.CutSuffix(chi.URLParam(r, "file"), ".json")
	if !ok || username == "" {
		h.NotFound(w, r)
		return
	}

	due, ok, err := h.members.MonthsDue(r.Context(), username)
	if err != nil {
		h.internalError(w, r, "months due", err)
		return
	}
	if !ok {
		h.writePublic(w, r, false)
		return
	}
	h.writePublic(w, r, due)
}

// MemberList handles GET /api/members.json
func (h *Handler) MemberList(w http.ResponseWriter, r *http.Request) {
	data, err := h.members.MemberList(r.Context())
	if err != nil {
		h.internalError(w, r, "member list", err)
		return
	}
	h.writePublic(w, r, json.RawMessage(data))
}

func (h *Handler) writePublic(w http.ResponseWriter, r *http.Request, content any) {
	modified, err := h.stats.Modified(r.Context())
	if err != nil {
		h.internalError(w, r, "latest transfer", err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, envelope{Status: "ok", Content: content, Modified: modified})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	h.logger.Error(op+" failed",
		slog.String("error", err.Error()),
		slog.String("path", r.URL.Path),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
