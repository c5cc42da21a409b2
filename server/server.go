package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/neohoods/portal-assistant/agent/agents/orchestrator"
	"github.com/neohoods/portal-assistant/agent/agents/reservation"
	contractx "github.com/neohoods/portal-assistant/agent/contract"
	promptx "github.com/neohoods/portal-assistant/agent/prompt"
	statex "github.com/neohoods/portal-assistant/agent/state"
	"github.com/neohoods/portal-assistant/agent/tool"
	qstashx "github.com/neohoods/portal-assistant/pkg/qstash"
)

const (
	CodeBadRequest = "BAD_REQUEST"
	CodeNotFound   = "NOT_FOUND"
	CodeSignature  = "WEBHOOK_SIGNATURE_INVALID"
	CodeInternal   = "INTERNAL_ERROR"
)

const maxBodyBytes = 64 << 10

type Config struct {
	Addr            string        `default:":8080"`
	ShutdownTimeout time.Duration `split_words:"true" default:"10s"`

	// WebhookURL is the public URL QStash delivers payment events to. When
	// set, it must match the signature subject.
	WebhookURL string `split_words:"true"`
}

// Assistant is the conversational engine served over HTTP.
type Assistant interface {
	HandleMessage(ctx context.Context, auth contractx.AuthContext, message string) (orchestrator.Reply, error)
	ConfirmPayment(ctx context.Context, conversationID, reservationID string) error
}

// PaymentRecorder marks a reservation as paid in the portal backend.
type PaymentRecorder interface {
	MarkPaid(ctx context.Context, reservationID string) (tool.Reservation, error)
}

type Options struct {
	// Verifier authenticates payment webhooks. The webhook route is not
	// mounted without it.
	Verifier   *qstashx.Verifier
	Payments   PaymentRecorder
	Gatherer   prometheus.Gatherer
	WebhookURL string
}

type handler struct {
	assistant Assistant
	opts      Options
}

type messageRequest struct {
	Message     string `json:"message"`
	SenderID    string `json:"senderId"`
	UserID      string `json:"userId,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Private     bool   `json:"private"`
	Locale      string `json:"locale,omitempty"`
}

type paymentEvent struct {
	ConversationID string `json:"conversationId"`
	ReservationID  string `json:"reservationId"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Vars    map[string]string `json:"vars,omitempty"`
}

func NewHandler(assistant Assistant, opts Options) (http.Handler, error) {
	if assistant == nil {
		return nil, errors.New("assistant is required")
	}
	h := &handler{assistant: assistant, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/conversations/{conversationID}/messages", h.postMessage)
		if opts.Verifier != nil {
			r.Post("/webhooks/payment", h.paymentWebhook)
		}
	})
	return r, nil
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Code: CodeBadRequest, Message: "invalid request body"})
		return
	}

	auth := contractx.AuthContext{
		ConversationID:  chi.URLParam(r, "conversationID"),
		SenderID:        strings.TrimSpace(req.SenderID),
		UserID:          strings.TrimSpace(req.UserID),
		DisplayName:     strings.TrimSpace(req.DisplayName),
		Private:         req.Private,
		PreferredLocale: promptx.NormalizeLocale(req.Locale),
	}

	reply, err := h.assistant.HandleMessage(r.Context(), auth, req.Message)
	if err != nil {
		h.writeTurnError(w, r, auth, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *handler) writeTurnError(w http.ResponseWriter, r *http.Request, auth contractx.AuthContext, err error) {
	body := errorBody{Code: contractx.CodeOf(err), Message: err.Error()}
	var coded *contractx.CodedError
	if errors.As(err, &coded) {
		body.Vars = coded.Vars
	}

	status := http.StatusInternalServerError
	switch {
	case body.Code == contractx.CodePrivateRequired:
		status = http.StatusForbidden
		body.Message = promptx.Text(auth.PreferredLocale, promptx.MsgPrivateRequired)
	case body.Code == contractx.CodeConversationBusy:
		status = http.StatusConflict
	case errors.Is(err, orchestrator.ErrInvalidConversation), errors.Is(err, orchestrator.ErrInvalidSender):
		status = http.StatusBadRequest
		body.Code = CodeBadRequest
	case body.Code == "":
		body.Code = CodeInternal
	}

	evt := log.Warn()
	if status >= http.StatusInternalServerError {
		evt = log.Error()
		body.Message = "internal error"
	}
	evt.Err(err).
		Str("conversation_id", auth.ConversationID).
		Str("request_id", middleware.GetReqID(r.Context())).
		Str("code", body.Code).
		Msg("turn failed")
	writeError(w, status, body)
}

func (h *handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, errorBody{Code: CodeBadRequest, Message: "invalid request body"})
		return
	}
	if err := h.opts.Verifier.Verify(r.Header.Get(qstashx.SignatureHeader), payload, h.opts.WebhookURL); err != nil {
		log.Warn().Err(err).Msg("payment webhook rejected")
		writeError(w, http.StatusUnauthorized, errorBody{Code: CodeSignature, Message: "invalid signature"})
		return
	}

	var evt paymentEvent
	if err := json.Unmarshal(payload, &evt); err != nil || evt.ConversationID == "" || evt.ReservationID == "" {
		writeError(w, http.StatusBadRequest, errorBody{Code: CodeBadRequest, Message: "conversationId and reservationId are required"})
		return
	}

	if h.opts.Payments != nil {
		if _, err := h.opts.Payments.MarkPaid(r.Context(), evt.ReservationID); err != nil {
			if errors.Is(err, tool.ErrReservationNotFound) {
				writeError(w, http.StatusNotFound, errorBody{Code: CodeNotFound, Message: err.Error()})
				return
			}
			log.Error().Err(err).Str("reservation_id", evt.ReservationID).Msg("mark reservation paid")
			writeError(w, http.StatusInternalServerError, errorBody{Code: CodeInternal, Message: "internal error"})
			return
		}
	}

	if err := h.assistant.ConfirmPayment(r.Context(), evt.ConversationID, evt.ReservationID); err != nil {
		switch {
		case errors.Is(err, reservation.ErrNoPendingPayment), errors.Is(err, statex.ErrStateNotFound):
			writeError(w, http.StatusNotFound, errorBody{Code: CodeNotFound, Message: err.Error()})
		case contractx.CodeOf(err) == contractx.CodeConversationBusy:
			writeError(w, http.StatusConflict, errorBody{Code: contractx.CodeConversationBusy, Message: err.Error()})
		default:
			log.Error().Err(err).Str("conversation_id", evt.ConversationID).Msg("confirm payment")
			writeError(w, http.StatusInternalServerError, errorBody{Code: CodeInternal, Message: "internal error"})
		}
		return
	}

	log.Info().
		Str("conversation_id", evt.ConversationID).
		Str("reservation_id", evt.ReservationID).
		Msg("payment confirmed")
	w.WriteHeader(http.StatusNoContent)
}

func writeError(w http.ResponseWriter, status int, body errorBody) {
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}
