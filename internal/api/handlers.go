package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/LeventeLantos/scheduled-messaging/internal/client"
	"github.com/LeventeLantos/scheduled-messaging/internal/model"
	"github.com/LeventeLantos/scheduled-messaging/internal/parser"
	"github.com/LeventeLantos/scheduled-messaging/internal/repo"
	"github.com/LeventeLantos/scheduled-messaging/internal/scheduler"
	"github.com/LeventeLantos/scheduled-messaging/internal/service"
)

const maxBodyBytes = 1 << 20

// Receipts looks up the delivery receipt recorded for a sent message.
type Receipts interface {
	Receipt(ctx context.Context, id int64) (remoteMessageID string, sentAt time.Time, found bool, err error)
}

type Handler struct {
	// ctx bounds a scheduler started over HTTP; request contexts end with
	// the request.
	ctx        context.Context
	sched      *scheduler.Scheduler
	svc        *service.SchedulingService
	dispatcher *service.Dispatcher
	receipts   Receipts
	now        func() time.Time
	log        zerolog.Logger
}

func NewHandler(ctx context.Context, s *scheduler.Scheduler, svc *service.SchedulingService, d *service.Dispatcher, log zerolog.Logger) *Handler {
	return &Handler{
		ctx:        ctx,
		sched:      s,
		svc:        svc,
		dispatcher: d,
		now:        time.Now,
		log:        log.With().Str("component", "api").Logger(),
	}
}

// WithReceipts adds the cached delivery receipt to single-message responses.
func (h *Handler) WithReceipts(r Receipts) *Handler {
	h.receipts = r
	return h
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	h.writeSchedulerState(w)
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	if h.sched.Start(h.ctx) {
		h.log.Info().Msg("scheduler started via api")
	}
	h.writeSchedulerState(w)
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	if h.sched.Stop() {
		h.log.Info().Msg("scheduler stopped via api")
	}
	h.writeSchedulerState(w)
}

func (h *Handler) writeSchedulerState(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  h.sched.IsRunning(),
		"interval": h.sched.Interval().String(),
	})
}

type contactView struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Address     string `json:"address"`
}

func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	contacts, err := h.svc.Contacts(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	items := make([]contactView, 0, len(contacts))
	for _, c := range contacts {
		items = append(items, contactView{Name: c.Name, DisplayName: model.DisplayName(c.Name), Address: c.Address})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) PutContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	name := model.NormalizeName(r.PathValue("name"))
	if err := h.svc.AddContact(r.Context(), name, req.Address); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contactView{Name: name, DisplayName: model.DisplayName(name), Address: strings.TrimSpace(req.Address)})
}

func (h *Handler) DeleteContact(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.RemoveContact(r.Context(), r.PathValue("name")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.Messages(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if s := r.URL.Query().Get("status"); s != "" {
		filtered := items[:0]
		for _, m := range items {
			if string(m.Status) == s {
				filtered = append(filtered, m)
			}
		}
		items = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type receiptView struct {
	RemoteMessageID string    `json:"remoteMessageId"`
	SentAt          time.Time `json:"sentAt"`
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.Message(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := map[string]any{"message": m}
	if h.receipts != nil && m.Status == model.Sent {
		remoteID, sentAt, found, err := h.receipts.Receipt(r.Context(), id)
		switch {
		case err != nil:
			h.log.Warn().Err(err).Int64("id", id).Msg("receipt lookup failed")
		case found:
			resp["receipt"] = receiptView{RemoteMessageID: remoteID, SentAt: sentAt}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type createMessageRequest struct {
	// Free-text instruction, e.g. `Send john "hi" in 5 minutes`.
	Text        string `json:"text"`
	SelfAddress string `json:"selfAddress"`
	NewAddress  string `json:"newAddress"`

	Recipient    string     `json:"recipient"`
	Body         string     `json:"body"`
	DueAt        *time.Time `json:"dueAt"`
	DelayMinutes *int       `json:"delayMinutes"`
}

func (h *Handler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	var req createMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	prompter := service.StaticPrompter{Self: req.SelfAddress, NewContact: req.NewAddress}

	var (
		m   model.ScheduledMessage
		err error
	)
	if strings.TrimSpace(req.Text) != "" {
		m, err = h.svc.Schedule(r.Context(), req.Text, prompter)
	} else {
		if strings.TrimSpace(req.Recipient) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "either text or recipient is required"})
			return
		}
		m, err = h.svc.ScheduleAt(r.Context(), req.Recipient, req.Body, h.dueAt(req.DueAt, req.DelayMinutes), prompter)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.svc.DeleteMessage(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	m, err := h.svc.SendNow(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) RescheduleMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req struct {
		DueAt        *time.Time `json:"dueAt"`
		DelayMinutes *int       `json:"delayMinutes"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.DueAt == nil && req.DelayMinutes == nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "dueAt or delayMinutes is required"})
		return
	}
	m, err := h.svc.Reschedule(r.Context(), id, h.dueAt(req.DueAt, req.DelayMinutes))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) SendDirect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.SendImmediately(r.Context(), req.To, req.Body); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	res, err := h.dispatcher.Tick(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// dueAt picks an absolute time over a relative delay; neither means now.
func (h *Handler) dueAt(at *time.Time, delayMinutes *int) time.Time {
	switch {
	case at != nil:
		return *at
	case delayMinutes != nil:
		return h.now().Add(time.Duration(*delayMinutes) * time.Minute)
	default:
		return h.now()
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrParseIncomplete):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{"error": err.Error(), "usage": parser.Usage})
	case errors.Is(err, service.ErrUnknownRecipient), errors.Is(err, repo.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, repo.ErrNotPending):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, service.ErrEmptyBody), errors.Is(err, service.ErrBodyTooLong),
		errors.Is(err, repo.ErrEmptyBody), errors.Is(err, repo.ErrInvalidContact):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	case errors.Is(err, client.ErrUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
	case errors.Is(err, service.ErrDeliveryFailed):
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
	default:
		h.log.Error().Err(err).Msg("request failed")
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": fmt.Sprintf("invalid message id %q", r.PathValue("id"))})
		return 0, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid json: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
