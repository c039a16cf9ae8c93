package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	domain "github.com/R3E-Network/loyalty_layer/internal/domain/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/errors"
	"github.com/R3E-Network/loyalty_layer/internal/httputil"
	"github.com/R3E-Network/loyalty_layer/internal/logging"
	"github.com/R3E-Network/loyalty_layer/internal/loyalty"
	"github.com/R3E-Network/loyalty_layer/internal/middleware"
)

// handler bundles HTTP endpoints for the loyalty services.
type handler struct {
	ledger   *loyalty.Service
	settings *loyalty.SettingsService
	log      *logging.Logger
	audit    *AuditLog
	ready    func(r *http.Request) error
}

// fail writes err as a failure envelope. Server-side failures are logged in
// full since the caller only sees a generic message.
func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !errors.IsClientError(err) {
		h.log.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("request failed")
	}
	httputil.WriteServiceError(w, r, err)
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r); err != nil {
			h.log.WithContext(r.Context()).WithError(err).Warn("health check failed")
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetSettings(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, settings)
}

// settingsUpdate is a partial settings document. Stamp fields echoed back
// from a previous read are accepted and ignored.
type settingsUpdate struct {
	domain.SettingsPatch
	UpdatedBy json.RawMessage `json:"updatedBy,omitempty"`
	UpdatedAt json.RawMessage `json:"updatedAt,omitempty"`
}

func (h *handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsUpdate
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	settings, err := h.settings.UpdateSettings(r.Context(), req.SettingsPatch, middleware.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, settings)
}

func (h *handler) customerTransactions(w http.ResponseWriter, r *http.Request) {
	customerID := mux.Vars(r)["customerId"]
	q := r.URL.Query()

	filter, err := parseFilter(q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	page, err := intParam(q.Get("page"), "page", 1)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit", loyalty.DefaultPageLimit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	history, err := h.ledger.CustomerHistory(r.Context(), customerID, filter, page, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, history)
}

type adjustRequest struct {
	Points *int64 `json:"points"`
	Reason string `json:"reason"`
}

func (h *handler) adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Points == nil || strings.TrimSpace(req.Reason) == "" {
		h.fail(w, r, errors.Validation("Points and reason are required"))
		return
	}

	customer, tx, err := h.ledger.AdjustPoints(r.Context(), mux.Vars(r)["customerId"], *req.Points, req.Reason, middleware.GetUserID(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"customer":    customer,
		"transaction": tx,
	})
}

func (h *handler) earn(w http.ResponseWriter, r *http.Request) {
	var req loyalty.EarnRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.CustomerID = mux.Vars(r)["customerId"]

	res, err := h.ledger.EarnForPurchase(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, res)
}

func (h *handler) redeem(w http.ResponseWriter, r *http.Request) {
	var req loyalty.RedeemRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.CustomerID = mux.Vars(r)["customerId"]

	res, err := h.ledger.Redeem(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, res)
}

func (h *handler) redemptionQuote(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("points")
	if raw == "" {
		h.fail(w, r, errors.Validation("points is required"))
		return
	}
	points, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.fail(w, r, errors.InvalidFormat("points", "an integer"))
		return
	}

	quote, err := h.ledger.QuoteRedemption(r.Context(), points)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, quote)
}

func (h *handler) customerSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.ledger.CustomerSummary(r.Context(), mux.Vars(r)["customerId"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, summary)
}

func (h *handler) auditCustomer(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger.AuditCustomer(r.Context(), mux.Vars(r)["customerId"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, report)
}

func (h *handler) auditLog(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), "limit", 0)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httputil.WriteSuccess(w, http.StatusOK, h.audit.Recent(limit))
}
