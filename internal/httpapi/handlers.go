// Package httpapi exposes the scheduler over a small JSON control API.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"lnsched/internal/notification"
	"lnsched/internal/scheduler"
	"lnsched/internal/storage"
	"lnsched/internal/trigger"
	logx "lnsched/pkg/logx"
)

const maxBodyBytes = 1 << 20

// Scheduler is the part of *scheduler.Scheduler the API drives.
type Scheduler interface {
	Capacity() int
	Schedule(ctx context.Context, n notification.Notification) (string, bool)
	ScheduleMany(ctx context.Context, ns []notification.Notification) []string
	Lookup(id string) (notification.Notification, bool)
	LookupSeries(series string) (notification.Notification, bool)
	Admitted() []notification.Notification
	Queued() []notification.Notification
	CancelByID(ctx context.Context, id string) (bool, error)
	CancelSeries(ctx context.Context, series string) (int, error)
	CancelAll(ctx context.Context) error
	Reconcile(ctx context.Context) (scheduler.Report, error)
	SaveQueue(ctx context.Context) error
	Dump(w io.Writer, brief bool) error
}

// Trigger is optional; when set the trigger state is exposed too.
type Trigger interface {
	Snapshot() trigger.Snapshot
	RunNow(ctx context.Context) error
}

type Deps struct {
	Scheduler Scheduler
	Trigger   Trigger
	Log       logx.Logger
	// Pprof mounts net/http/pprof under /debug/pprof.
	Pprof bool
}

type scheduleResponse struct {
	ID           string `json:"id"`
	Synchronized bool   `json:"synchronized"`
}

type batchResponse struct {
	IDs      []string `json:"ids"`
	Rejected int      `json:"rejected"`
}

type listResponse struct {
	Capacity      int                         `json:"capacity"`
	AdmittedCount int                         `json:"admitted_count"`
	QueuedCount   int                         `json:"queued_count"`
	Admitted      []notification.Notification `json:"admitted"`
	Queued        []notification.Notification `json:"queued"`
}

type cancelSeriesResponse struct {
	Cancelled int `json:"cancelled"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type handlers struct {
	sched Scheduler
	trig  Trigger
	log   logx.Logger
}

// NewRouter builds the API router.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{sched: d.Scheduler, trig: d.Trigger, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, "ok")
	})

	r.Route("/notifications", func(r chi.Router) {
		r.Post("/", h.schedule)
		r.Post("/batch", h.scheduleBatch)
		r.Get("/", h.list)
		r.Delete("/", h.cancelAll)
		r.Get("/{id}", h.lookup)
		r.Delete("/{id}", h.cancel)
	})
	r.Get("/series/{id}", h.lookupSeries)
	r.Delete("/series/{id}", h.cancelSeries)

	r.Post("/reconcile", h.reconcile)
	r.Post("/queue/save", h.saveQueue)
	r.Get("/debug/dump", h.dump)

	if h.trig != nil {
		r.Get("/trigger", h.triggerSnapshot)
		r.Post("/trigger/run", h.triggerRun)
	}
	if d.Pprof {
		r.Mount("/debug/pprof", middleware.Profiler())
	}
	return r
}

func (h *handlers) schedule(w http.ResponseWriter, r *http.Request) {
	var n notification.Notification
	if !decodeBody(w, r, &n) {
		return
	}
	if n.FireDate.IsZero() {
		writeError(w, r, http.StatusBadRequest, "fire_date is required")
		return
	}
	id, ok := h.sched.Schedule(r.Context(), n)
	if !ok {
		writeError(w, r, http.StatusConflict, "notification rejected: it already carries an id")
		return
	}
	resp := scheduleResponse{ID: id}
	if p, found := h.sched.Lookup(id); found {
		resp.Synchronized = p.Synchronized()
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, resp)
}

func (h *handlers) scheduleBatch(w http.ResponseWriter, r *http.Request) {
	var ns []notification.Notification
	if !decodeBody(w, r, &ns) {
		return
	}
	for _, n := range ns {
		if n.FireDate.IsZero() {
			writeError(w, r, http.StatusBadRequest, "every notification needs a fire_date")
			return
		}
	}
	ids := h.sched.ScheduleMany(r.Context(), ns)
	resp := batchResponse{IDs: ids}
	for _, id := range ids {
		if id == "" {
			resp.Rejected++
		}
	}
	render.JSON(w, r, resp)
}

func (h *handlers) list(w http.ResponseWriter, r *http.Request) {
	admitted := h.sched.Admitted()
	queued := h.sched.Queued()
	render.JSON(w, r, listResponse{
		Capacity:      h.sched.Capacity(),
		AdmittedCount: len(admitted),
		QueuedCount:   len(queued),
		Admitted:      admitted,
		Queued:        queued,
	})
}

func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) {
	n, ok := h.sched.Lookup(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "notification not found")
		return
	}
	render.JSON(w, r, n)
}

func (h *handlers) lookupSeries(w http.ResponseWriter, r *http.Request) {
	n, ok := h.sched.LookupSeries(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, r, http.StatusNotFound, "series not found")
		return
	}
	render.JSON(w, r, n)
}

func (h *handlers) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.sched.CancelByID(r.Context(), id); err != nil {
		h.log.Warn("cancel failed on platform", logx.String("id", id), logx.Err(err))
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) cancelSeries(w http.ResponseWriter, r *http.Request) {
	series := chi.URLParam(r, "id")
	n, err := h.sched.CancelSeries(r.Context(), series)
	if err != nil {
		h.log.Warn("series cancel failed on platform", logx.String("series", series), logx.Err(err))
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	render.JSON(w, r, cancelSeriesResponse{Cancelled: n})
}

func (h *handlers) cancelAll(w http.ResponseWriter, r *http.Request) {
	if err := h.sched.CancelAll(r.Context()); err != nil {
		h.log.Warn("cancel all failed on platform", logx.Err(err))
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) reconcile(w http.ResponseWriter, r *http.Request) {
	rep, err := h.sched.Reconcile(r.Context())
	if err != nil {
		writeError(w, r, http.StatusBadGateway, err.Error())
		return
	}
	render.JSON(w, r, rep)
}

func (h *handlers) saveQueue(w http.ResponseWriter, r *http.Request) {
	err := h.sched.SaveQueue(r.Context())
	switch {
	case errors.Is(err, storage.ErrDisabled):
		writeError(w, r, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, r, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *handlers) dump(w http.ResponseWriter, r *http.Request) {
	brief := r.URL.Query().Get("brief")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := h.sched.Dump(w, brief == "1" || brief == "true"); err != nil {
		h.log.Debug("dump write failed", logx.Err(err))
	}
}

func (h *handlers) triggerSnapshot(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.trig.Snapshot())
}

func (h *handlers) triggerRun(w http.ResponseWriter, r *http.Request) {
	err := h.trig.RunNow(r.Context())
	switch {
	case errors.Is(err, trigger.ErrOverlapSkip):
		writeError(w, r, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, r, http.StatusBadGateway, err.Error())
	default:
		render.JSON(w, r, h.trig.Snapshot())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid body: "+err.Error())
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: msg})
}

func requestLogger(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Debug("http request",
					logx.String("method", r.Method),
					logx.String("path", r.URL.Path),
					logx.Int("status", ww.Status()),
					logx.Int("bytes", ww.BytesWritten()),
					logx.Duration("took", time.Since(start)),
					logx.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
