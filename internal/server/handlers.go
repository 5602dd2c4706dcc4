package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	auditdomain "chat-otp-gateway/internal/audit/domain"
	"chat-otp-gateway/internal/contact"
	contactdomain "chat-otp-gateway/internal/contact/domain"
	"chat-otp-gateway/internal/gateway"
	"chat-otp-gateway/internal/otp"
	"chat-otp-gateway/internal/otp/domain"
	"chat-otp-gateway/internal/server/httpx"
)

// OTPService is the slice of the OTP service the handlers need.
type OTPService interface {
	Issue(ctx context.Context, destination, reason, template string) (*otp.IssueResult, error)
	Verify(ctx context.Context, uuid, destination, code string) (*otp.VerifyResult, error)
	Status(ctx context.Context, uuid string) (*otp.StatusResult, error)
}

// ContactService is the slice of the contact service the handlers need.
type ContactService interface {
	Submit(ctx context.Context, in contact.Input) (*contact.Result, error)
	List(ctx context.Context, limit int) ([]*contactdomain.Submission, error)
}

// DeliveryLog reads the delivery-log, for the operator audit endpoint.
type DeliveryLog interface {
	ListByDestination(ctx context.Context, destination string, limit int) ([]*auditdomain.Record, error)
}

// SessionFacade is the status/control surface the handlers expose.
type SessionFacade interface {
	Status() gateway.Status
	Restart(ctx context.Context)
	Challenge(ctx context.Context) (string, error)
}

// Handler serves the gateway's JSON API.
type Handler struct {
	otp      OTPService
	contact  ContactService
	session  SessionFacade
	delivery DeliveryLog
}

// NewHandler returns a Handler with the given services. delivery may be nil;
// the delivery-log endpoint then returns an empty list.
func NewHandler(otpSvc OTPService, contactSvc ContactService, session SessionFacade, delivery DeliveryLog) *Handler {
	return &Handler{otp: otpSvc, contact: contactSvc, session: session, delivery: delivery}
}

type contactRequest struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

type contactResponse struct {
	ID            string `json:"id"`
	CustomerSent  bool   `json:"customerSent"`
	CustomerError string `json:"customerError,omitempty"`
	AdminSent     bool   `json:"adminSent"`
	AdminError    string `json:"adminError,omitempty"`
}

// Contact handles POST /api/contact.
func (h *Handler) Contact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.contact.Submit(r.Context(), contact.Input{
		Name:    req.Name,
		Phone:   req.Phone,
		Email:   req.Email,
		Message: req.Message,
	})
	if err != nil {
		writeContactError(w, err)
		return
	}

	httpx.JSON(w, http.StatusCreated, contactResponse{
		ID:            res.ID,
		CustomerSent:  res.CustomerSent,
		CustomerError: res.CustomerError,
		AdminSent:     res.AdminSent,
		AdminError:    res.AdminError,
	})
}

type submissionView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
	Message   string `json:"message"`
	CreatedAt string `json:"createdAt"`
}

// ContactList handles GET /api/contact.
func (h *Handler) ContactList(w http.ResponseWriter, r *http.Request) {
	subs, err := h.contact.List(r.Context(), queryLimit(r))
	if err != nil {
		internalError(w, err)
		return
	}

	out := make([]submissionView, 0, len(subs))
	for _, s := range subs {
		out = append(out, submissionView{
			ID:        s.ID,
			Name:      s.Name,
			Phone:     s.Phone,
			Email:     s.Email,
			Message:   s.Message,
			CreatedAt: s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"submissions": out})
}

type deliveryView struct {
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"createdAt"`
}

// DeliveryLog handles GET /api/delivery/{destination}: the newest delivery-log
// entries for one number, for operator troubleshooting.
func (h *Handler) DeliveryLog(w http.ResponseWriter, r *http.Request) {
	if h.delivery == nil {
		httpx.JSON(w, http.StatusOK, map[string]any{"entries": []deliveryView{}})
		return
	}

	limit := queryLimit(r)
	if limit == 0 || limit > 200 {
		limit = 50
	}
	recs, err := h.delivery.ListByDestination(r.Context(), chi.URLParam(r, "destination"), limit)
	if err != nil {
		internalError(w, err)
		return
	}

	out := make([]deliveryView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, deliveryView{
			Action:    rec.Action,
			Outcome:   rec.Outcome,
			Detail:    rec.Detail,
			CreatedAt: rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": out})
}

// queryLimit reads ?limit=; 0 lets the service apply its default cap.
func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

type otpSendRequest struct {
	Phone    string `json:"phone"`
	Reason   string `json:"reason"`
	Template string `json:"template"`
}

type otpSendResponse struct {
	UUID      string `json:"uuid"`
	ExpiresIn int    `json:"expiresIn"`
	Delivered bool   `json:"delivered"`
	Error     string `json:"error,omitempty"`
	Code      string `json:"code,omitempty"`
}

// OTPSend handles POST /api/otp/send.
func (h *Handler) OTPSend(w http.ResponseWriter, r *http.Request) {
	var req otpSendRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.otp.Issue(r.Context(), req.Phone, req.Reason, req.Template)
	if err != nil {
		var delivery *otp.DeliveryError
		if errors.As(err, &delivery) && res != nil {
			// The token exists; the caller may poll status and retry delivery
			// out of band, so this is a partial success, not a plain error.
			httpx.JSON(w, http.StatusBadGateway, otpSendResponse{
				UUID:      res.UUID,
				ExpiresIn: res.ExpiresIn,
				Delivered: false,
				Error:     "code delivery failed",
				Code:      "delivery_failed",
			})
			return
		}
		writeOTPError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, otpSendResponse{
		UUID:      res.UUID,
		ExpiresIn: res.ExpiresIn,
		Delivered: true,
	})
}

type otpVerifyRequest struct {
	UUID  string `json:"uuid"`
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type otpVerifyResponse struct {
	Verified bool   `json:"verified"`
	Reason   string `json:"reason,omitempty"`
}

// OTPVerify handles POST /api/otp/verify.
func (h *Handler) OTPVerify(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.otp.Verify(r.Context(), req.UUID, req.Phone, req.Code)
	if err != nil {
		writeOTPError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, otpVerifyResponse{Verified: true, Reason: res.Reason})
}

type otpStatusResponse struct {
	Destination string `json:"destination"`
	IsExpired   bool   `json:"isExpired"`
	Attempts    int    `json:"attempts"`
	CreatedAt   string `json:"createdAt"`
	ExpiresAt   string `json:"expiresAt"`
}

// OTPStatus handles GET /api/otp/status/{uuid}.
func (h *Handler) OTPStatus(w http.ResponseWriter, r *http.Request) {
	res, err := h.otp.Status(r.Context(), chi.URLParam(r, "uuid"))
	if err != nil {
		writeOTPError(w, err)
		return
	}

	httpx.JSON(w, http.StatusOK, otpStatusResponse{
		Destination: res.Destination,
		IsExpired:   res.IsExpired,
		Attempts:    res.Attempts,
		CreatedAt:   res.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		ExpiresAt:   res.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	})
}

// SessionStatus handles GET /api/session/status.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, h.session.Status())
}

// SessionRestart handles POST /api/session/restart. The restart runs in the
// background; 202 means initiated, not ready.
func (h *Handler) SessionRestart(w http.ResponseWriter, r *http.Request) {
	h.session.Restart(r.Context())
	httpx.JSON(w, http.StatusAccepted, map[string]string{"status": "restarting"})
}

// SessionQR handles POST /api/session/qr.
func (h *Handler) SessionQR(w http.ResponseWriter, r *http.Request) {
	payload, err := h.session.Challenge(r.Context())
	switch {
	case errors.Is(err, gateway.ErrAlreadyAuthenticated):
		httpx.Error(w, http.StatusConflict, "already_authenticated", "session is already authenticated")
		return
	case errors.Is(err, gateway.ErrChallengeUnavailable):
		httpx.Error(w, http.StatusNotFound, "qr_unavailable", "no pairing challenge available yet, retry shortly")
		return
	case err != nil:
		internalError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"qr": payload})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpx.Error(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}

// writeOTPError maps OTP service errors to status codes and machine codes.
func writeOTPError(w http.ResponseWriter, err error) {
	var cooldown *domain.CooldownError
	var mismatch *otp.MismatchError

	switch {
	case errors.Is(err, otp.ErrInvalidDestination):
		httpx.Error(w, http.StatusBadRequest, "invalid_destination", err.Error())
	case errors.As(err, &cooldown):
		secs := int(cooldown.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		httpx.JSON(w, http.StatusTooManyRequests, httpx.ErrorBody{
			Code:              "cooldown_active",
			Error:             err.Error(),
			RetryAfterSeconds: secs,
		})
	case errors.As(err, &mismatch):
		remaining := mismatch.AttemptsRemaining
		httpx.JSON(w, http.StatusUnauthorized, httpx.ErrorBody{
			Code:              "code_mismatch",
			Error:             err.Error(),
			AttemptsRemaining: &remaining,
		})
	case errors.Is(err, otp.ErrTokenInvalid):
		httpx.Error(w, http.StatusNotFound, "token_invalid", err.Error())
	case errors.Is(err, otp.ErrNotFound):
		httpx.Error(w, http.StatusNotFound, "not_found", err.Error())
	default:
		internalError(w, err)
	}
}

func writeContactError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contact.ErrInvalidName),
		errors.Is(err, contact.ErrInvalidPhone),
		errors.Is(err, contact.ErrInvalidMessage):
		httpx.Error(w, http.StatusBadRequest, "invalid_input", err.Error())
	default:
		internalError(w, err)
	}
}

// internalError hides the cause from the client; details go to the log only.
func internalError(w http.ResponseWriter, err error) {
	log.Printf("server: internal error: %v", err)
	httpx.Error(w, http.StatusInternalServerError, "internal", "internal server error")
}
