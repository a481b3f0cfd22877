package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appscans "github.com/gumballmed/scanpipe/internal/application/scans"
	"github.com/gumballmed/scanpipe/internal/application/tokens"
	domai "github.com/gumballmed/scanpipe/internal/domain/ai"
	"github.com/gumballmed/scanpipe/internal/domain/jobs"
	domain "github.com/gumballmed/scanpipe/internal/domain/scans"
	"github.com/gumballmed/scanpipe/internal/infra/storage"
	"github.com/gumballmed/scanpipe/internal/middleware"
)

type Router struct {
	svc            *appscans.Service
	tokens         *tokens.Issuer
	maxUploadBytes int64
}

// NewRouter builds the full HTTP surface. Scan endpoints sit behind bearer
// auth; task endpoints authenticate with the task token they carry.
func NewRouter(svc *appscans.Service, issuer *tokens.Issuer, checkers map[string]middleware.HealthChecker) http.Handler {
	r := &Router{svc: svc, tokens: issuer, maxUploadBytes: svc.MaxUploadBytes}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)

	mux.Get("/health", middleware.HealthHandler(checkers))
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1", func(rt chi.Router) {
		rt.Group(func(g chi.Router) {
			g.Use(middleware.BearerAuth(issuer))
			g.Use(middleware.RateLimitMiddleware(30, 10))
			g.Post("/scans", r.wrap(r.handleUpload))
			g.Get("/scans", r.wrap(r.handleList))
			g.Get("/scans/{id}", r.wrap(r.handleGet))
			g.Post("/advice", r.wrap(r.handleRequestAdvice))
		})

		rt.Get("/advice/result", r.wrap(r.handleAdviceResult))
		rt.Get("/tasks/status", r.wrap(r.handleTaskStatus))
		rt.Get("/tasks/next", r.wrap(r.handleTaskNext))
		rt.Post("/tasks/cancel", r.wrap(r.handleTaskCancel))
		rt.Get("/tasks/stream", r.handleStream)
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			http.Error(w, err.Error(), statusFor(err))
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, jobs.ErrNotFound),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, appscans.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, tokens.ErrMalformed),
		errors.Is(err, tokens.ErrExpired),
		errors.Is(err, tokens.ErrStale),
		errors.Is(err, tokens.ErrWrongJobKind):
		return http.StatusUnauthorized
	case errors.Is(err, appscans.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, appscans.ErrUnsupportedFormat),
		errors.Is(err, storage.ErrPathEscape):
		return http.StatusBadRequest
	case errors.Is(err, appscans.ErrNotReady),
		errors.Is(err, jobs.ErrNoResult),
		errors.Is(err, jobs.ErrNoNext),
		errors.Is(err, jobs.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, domai.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domai.ErrAnalyzerUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// POST /v1/scans
// multipart form: file=<image>, kind=<xray|ct|mri>
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	req.Body = http.MaxBytesReader(w, req.Body, r.maxUploadBytes+(1<<20))
	if err := req.ParseMultipartForm(r.maxUploadBytes); err != nil {
		return fmt.Errorf("%w: %v", appscans.ErrTooLarge, err)
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		return fmt.Errorf("file field is required: %w", err)
	}
	defer file.Close()

	if err := middleware.ValidateFilename(header.Filename); err != nil {
		return fmt.Errorf("%w: %v", appscans.ErrUnsupportedFormat, err)
	}
	kind := req.FormValue("kind")
	if err := middleware.ValidateScanKind(kind); err != nil {
		return err
	}

	res, err := r.svc.Upload(req.Context(), appscans.UploadCommand{
		OwnerID:  middleware.GetOwnerFromContext(req.Context()),
		Kind:     kind,
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		return err
	}
	middleware.IncrementUploads()
	middleware.IncrementJobsQueued()
	return writeJSON(w, http.StatusCreated, res)
}

// GET /v1/scans?limit=
func (r *Router) handleList(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	limit = middleware.ValidateLimit(limit)

	list, err := r.svc.List(req.Context(), middleware.GetOwnerFromContext(req.Context()), limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*domain.Scan{}
	}
	return writeJSON(w, http.StatusOK, list)
}

// GET /v1/scans/{id}
func (r *Router) handleGet(w http.ResponseWriter, req *http.Request) error {
	id := chi.URLParam(req, "id")
	sc, err := r.svc.Get(req.Context(), middleware.GetOwnerFromContext(req.Context()), domain.ScanID(id))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sc)
}

// POST /v1/advice
// Body: {"scan_id": "<id>", "symptoms": "...", "audience": "friendly|expert"}
func (r *Router) handleRequestAdvice(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		ScanID   string `json:"scan_id"`
		Symptoms string `json:"symptoms"`
		Audience string `json:"audience"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("%w: %v", appscans.ErrUnsupportedFormat, err)
	}
	if body.ScanID == "" {
		return fmt.Errorf("%w: scan_id is required", appscans.ErrUnsupportedFormat)
	}

	res, err := r.svc.RequestAdvice(req.Context(), appscans.AdviceCommand{
		RequesterID: middleware.GetOwnerFromContext(req.Context()),
		ScanID:      body.ScanID,
		Symptoms:    middleware.SanitizeString(body.Symptoms),
		Audience:    body.Audience,
	})
	if err != nil {
		return err
	}
	middleware.IncrementJobsQueued()
	return writeJSON(w, http.StatusAccepted, res)
}

// taskClaims authenticates a request by its task token, taken from the
// Authorization header or the token query parameter.
func (r *Router) taskClaims(req *http.Request, kinds ...jobs.Kind) (*tokens.TaskClaims, error) {
	raw := req.URL.Query().Get("token")
	if raw == "" {
		raw = bearerToken(req)
	}
	if raw == "" {
		return nil, tokens.ErrMalformed
	}
	return r.tokens.ValidateTask(req.Context(), raw, kinds...)
}

func bearerToken(req *http.Request) string {
	auth := req.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	if len(auth) > 7 && auth[:7] == "Bearer " {
		return auth[7:]
	}
	return auth
}

// GET /v1/advice/result?token=<task token>
func (r *Router) handleAdviceResult(w http.ResponseWriter, req *http.Request) error {
	claims, err := r.taskClaims(req, jobs.KindAdvise)
	if err != nil {
		return err
	}
	st, err := r.svc.Status(req.Context(), claims.JobID)
	if err != nil {
		return err
	}
	out := struct {
		JobID  string `json:"job_id"`
		State  string `json:"state"`
		Advice string `json:"advice,omitempty"`
		Reason string `json:"reason,omitempty"`
	}{JobID: st.JobID, State: st.State, Reason: st.Reason}

	if st.State == string(jobs.StateSucceeded) {
		text, err := r.svc.AdviceText(req.Context(), claims.OwnerID, claims.JobID)
		if err != nil {
			return err
		}
		out.Advice = text
	}
	return writeJSON(w, http.StatusOK, out)
}

// GET /v1/tasks/status?token=<task token>
func (r *Router) handleTaskStatus(w http.ResponseWriter, req *http.Request) error {
	claims, err := r.taskClaims(req)
	if err != nil {
		return err
	}
	st, err := r.svc.Status(req.Context(), claims.JobID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, st)
}

// GET /v1/tasks/next?token=<task token>
// Exchanges a finished stage's token for one scoped to the chained stage.
func (r *Router) handleTaskNext(w http.ResponseWriter, req *http.Request) error {
	claims, err := r.taskClaims(req)
	if err != nil {
		return err
	}
	res, err := r.svc.NextTask(req.Context(), claims.OwnerID, claims.JobID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// POST /v1/tasks/cancel?token=<task token>
func (r *Router) handleTaskCancel(w http.ResponseWriter, req *http.Request) error {
	claims, err := r.taskClaims(req)
	if err != nil {
		return err
	}
	st, err := r.svc.Cancel(req.Context(), claims.JobID)
	if err != nil {
		if errors.Is(err, jobs.ErrAlreadyTerminal) {
			// Report the state the job finished in; nothing changed.
			return writeJSON(w, http.StatusConflict, st)
		}
		return err
	}
	return writeJSON(w, http.StatusOK, st)
}
