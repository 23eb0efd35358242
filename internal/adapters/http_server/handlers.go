package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"checkin_messenger/internal/app"
	"checkin_messenger/internal/domain"
)

const maxBody = 1 << 20

type Handlers struct {
	Dispatch *app.DispatchService
	Bulk     *app.BulkService
	Messages *app.MessageQueryService
	Registry domain.RoomRegistry
	Settings domain.SettingsStore
	Loc      *time.Location
	Now      func() time.Time
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })

	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(s.readTimeout))
		r.Get("/v1/rooms/{id}/settings", h.getSettings)
		r.Put("/v1/rooms/{id}/settings", h.putSettings)
		r.Get("/v1/rooms/{id}/reservations", h.roomReservations)
		r.Get("/v1/messages", h.listMessages)
		r.Get("/v1/messages/stats", h.messageStats)
	})
	s.mux.Group(func(r chi.Router) {
		r.Use(Timeout(s.runTimeout))
		r.Post("/v1/dispatch", h.runDispatch)
		r.Post("/v1/dispatch/manual", h.sendManual)
		r.Post("/v1/bulk", h.runBulk)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

// writeError maps domain errors onto problem responses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidHeader):
		writeProblem(w, http.StatusBadRequest, "Invalid Header", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		writeProblem(w, http.StatusBadRequest, "Invalid Input", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		writeProblem(w, http.StatusServiceUnavailable, "Timeout", err.Error())
	default:
		log.Error().Err(err).Msg("request failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "unexpected error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}

func roomID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: room id must be a positive number", domain.ErrInvalidInput)
	}
	return id, nil
}

func (h *Handlers) today() string {
	now := time.Now()
	if h.Now != nil {
		now = h.Now()
	}
	return app.Today(now, h.Loc)
}

func (h *Handlers) dateOr(d string) string {
	if d = strings.TrimSpace(d); d != "" {
		return d
	}
	return h.today()
}

// ---- runs ----

func (h *Handlers) runDispatch(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Date string `json:"date"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, err)
		return
	}
	sum, err := h.Dispatch.RunDispatch(r.Context(), h.dateOr(in.Date), app.DispatchOptions{})
	if sum.Sent > 0 {
		h.invalidate(r.Context())
	}
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sum)
	case sum.RunID != "":
		// canceled mid-run: the partial summary is still the truth of what happened
		writeJSON(w, http.StatusServiceUnavailable, sum)
	default:
		writeError(w, err)
	}
}

func (h *Handlers) sendManual(w http.ResponseWriter, r *http.Request) {
	var req app.ManualRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	req.Date = h.dateOr(req.Date)
	rec, err := h.Dispatch.SendManual(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.Status == domain.StatusSent {
		h.invalidate(r.Context())
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) invalidate(ctx context.Context) {
	if h.Messages == nil {
		return
	}
	if err := h.Messages.Invalidate(context.WithoutCancel(ctx)); err != nil {
		log.Warn().Err(err).Msg("message cache invalidation failed")
	}
}

type bulkRequest struct {
	Phones       []string            `json:"phones"`
	PhonesText   string              `json:"phones_text"`
	TemplateName string              `json:"template_name"`
	Language     string              `json:"language"`
	Header       *domain.HeaderInput `json:"header"`
}

func (h *Handlers) runBulk(w http.ResponseWriter, r *http.Request) {
	in, err := readBulkRequest(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if in.Header == nil {
		writeError(w, fmt.Errorf("%w: header is required", domain.ErrInvalidHeader))
		return
	}
	hdr, err := domain.ParseHeader(*in.Header)
	if err != nil {
		writeError(w, err)
		return
	}
	phones := append(in.Phones, app.ParsePhoneList(in.PhonesText)...)

	sum, err := h.Bulk.RunBulk(r.Context(), domain.BulkJob{
		Phones:   phones,
		Template: in.TemplateName,
		Language: in.Language,
		Header:   hdr,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sum)
	case sum.JobID != "":
		writeJSON(w, http.StatusServiceUnavailable, sum)
	default:
		writeError(w, err)
	}
}

// readBulkRequest accepts either a JSON body or a multipart form carrying an
// optional phones_file upload.
func readBulkRequest(r *http.Request) (bulkRequest, error) {
	var in bulkRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct != "multipart/form-data" {
		return in, decodeJSON(r, &in)
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		return in, fmt.Errorf("%w: bad multipart form: %v", domain.ErrInvalidInput, err)
	}
	in.PhonesText = r.FormValue("phones_text")
	in.TemplateName = r.FormValue("template_name")
	in.Language = r.FormValue("language")
	if t := r.FormValue("header_type"); t != "" {
		in.Header = &domain.HeaderInput{
			Type:      t,
			Text:      r.FormValue("header_text"),
			URL:       r.FormValue("header_url"),
			Filename:  r.FormValue("header_filename"),
			Latitude:  r.FormValue("header_latitude"),
			Longitude: r.FormValue("header_longitude"),
			Name:      r.FormValue("header_name"),
			Address:   r.FormValue("header_address"),
		}
	}
	f, _, err := r.FormFile("phones_file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		return in, fmt.Errorf("%w: phones_file: %v", domain.ErrInvalidInput, err)
	default:
		defer f.Close()
		phones, err := app.ReadPhoneList(f)
		if err != nil {
			return in, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
		in.Phones = phones
	}
	return in, nil
}

// ---- rooms ----

func (h *Handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	st, err := h.Registry.GetRoomSettings(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) putSettings(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var u domain.SettingsUpdate
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.Settings.UpdateRoomSettings(r.Context(), id, u)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handlers) roomReservations(w http.ResponseWriter, r *http.Request) {
	id, err := roomID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	date := h.dateOr(r.URL.Query().Get("date"))
	evs, err := h.Dispatch.RoomCheckins(r.Context(), id, date)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			writeError(w, err)
			return
		}
		writeProblem(w, http.StatusBadGateway, "Calendar Unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"room_id": id, "date": date, "reservations": evs})
}

// ---- history ----

func messageQuery(r *http.Request) (domain.MessageQuery, error) {
	var q domain.MessageQuery
	qs := r.URL.Query()
	for name, dst := range map[string]**int64{"hotel_id": &q.HotelID, "room_id": &q.RoomID} {
		if v := qs.Get(name); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return q, fmt.Errorf("%w: %s must be a number", domain.ErrInvalidInput, name)
			}
			*dst = &n
		}
	}
	for name, dst := range map[string]**string{"start_date": &q.StartDate, "end_date": &q.EndDate} {
		if v := qs.Get(name); v != "" {
			if _, err := time.Parse(domain.DateLayout, v); err != nil {
				return q, fmt.Errorf("%w: %s must be YYYY-MM-DD", domain.ErrInvalidInput, name)
			}
			*dst = &v
		}
	}
	return q, nil
}

func (h *Handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	q, err := messageQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.Messages.ListMessages(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) messageStats(w http.ResponseWriter, r *http.Request) {
	q, err := messageQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	out, err := h.Messages.Stats(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
