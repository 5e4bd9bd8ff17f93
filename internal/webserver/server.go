package webserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/nameflow/internal/auth"
	"github.com/tejzpr/nameflow/internal/authz"
	"github.com/tejzpr/nameflow/internal/db"
	"github.com/tejzpr/nameflow/internal/metrics"
	"github.com/tejzpr/nameflow/internal/notify"
	"github.com/tejzpr/nameflow/internal/workflow"
)

const (
	healthMagic     = "nameflow-ok"
	maxBodyBytes    = 1 << 20
	shutdownTimeout = 10 * time.Second
)

type Options struct {
	CORSOrigins []string
	MetricsPath string
}

// Server exposes the workflow over a JSON API.
type Server struct {
	svc      *workflow.Service
	authz    *authz.Enforcer
	tokens   *auth.Issuer
	broker   *notify.Broker
	log      *logrus.Entry
	opts     Options
	validate *validator.Validate
}

func New(svc *workflow.Service, enf *authz.Enforcer, tokens *auth.Issuer, broker *notify.Broker, log *logrus.Logger, opts Options) *Server {
	return &Server{
		svc:      svc,
		authz:    enf,
		tokens:   tokens,
		broker:   broker,
		log:      log.WithField("component", "webserver"),
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(metrics.Middleware)

	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/api/events", s.authenticateStream(http.HandlerFunc(s.handleSSE))).Methods(http.MethodGet)
	metrics.Register(r, s.opts.MetricsPath)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/me", s.handleMe).Methods(http.MethodGet)
	api.HandleFunc("/requests", s.handleListRequests).Methods(http.MethodGet)
	api.HandleFunc("/requests", s.handleCreateRequest).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}", s.handleDeleteRequest).Methods(http.MethodDelete)
	api.HandleFunc("/requests/{id}/transitions", s.handleAvailableTransitions).Methods(http.MethodGet)
	api.HandleFunc("/requests/{id}/transitions", s.handleTransition).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/claim", s.handleClaim).Methods(http.MethodPost)
	api.HandleFunc("/requests/{id}/claim", s.handleRelease).Methods(http.MethodDelete)

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	}).Handler(r)
}

// Serve runs until ctx is cancelled, then shuts down gracefully. Open event
// streams end with ctx because every request context derives from it.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.log.WithField("addr", ln.Addr().String()).Info("api listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.log.Info("api shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return s.withActor(next, false)
}

// authenticateStream also takes the token from ?access_token=, because
// EventSource cannot set headers. Only the event stream is mounted with it.
func (s *Server) authenticateStream(next http.Handler) http.Handler {
	return s.withActor(next, true)
}

func (s *Server) withActor(next http.Handler, queryToken bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := auth.BearerToken(r.Header.Get("Authorization"))
		if token == "" && queryToken {
			token = r.URL.Query().Get("access_token")
		}
		actor, err := s.tokens.Verify(token)
		if err != nil {
			s.log.WithError(err).WithField("path", r.URL.Path).Debug("rejected token")
			writeError(w, http.StatusUnauthorized, codeUnauthorized, "missing or invalid bearer token", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithActor(r.Context(), actor)))
	})
}

func actorFrom(r *http.Request) workflow.Actor {
	actor, _ := auth.ActorFrom(r.Context())
	return actor
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": healthMagic})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, actorFrom(r))
}

type createRequestBody struct {
	Title    string         `json:"title" validate:"max=200"`
	FormData map[string]any `json:"form_data" validate:"required"`
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if err := s.authz.Authorize(actor, authz.ObjectRequests, authz.ActionCreate); err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}

	var body createRequestBody
	if !s.decode(w, r, &body) {
		return
	}

	req, err := s.svc.Submit(r.Context(), actor, workflow.SubmitInput{Title: body.Title, FormData: body.FormData})
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	q := r.URL.Query()
	filter := db.Filter{
		Status:           q.Get("status"),
		SubmitterID:      q.Get("submitter_id"),
		AssignedReviewer: q.Get("assigned_reviewer"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid limit", nil)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid offset", nil)
		return
	}

	switch {
	case s.authz.Allowed(actor.Role, authz.ObjectRequests, authz.ActionReadAll):
	case s.authz.Allowed(actor.Role, authz.ObjectRequests, authz.ActionReadOwn):
		filter.SubmitterID = actor.ID
	default:
		s.writeWorkflowError(w, r, s.authz.Authorize(actor, authz.ObjectRequests, authz.ActionReadOwn))
		return
	}

	requests, err := s.svc.List(r.Context(), filter)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, requests)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadReadable(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type transitionsView struct {
	RequestID            string            `json:"request_id"`
	Status               workflow.Status   `json:"status"`
	AvailableTransitions []workflow.Status `json:"available_transitions"`
}

func (s *Server) handleAvailableTransitions(w http.ResponseWriter, r *http.Request) {
	req, ok := s.loadReadable(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, transitionsView{
		RequestID:            req.ID,
		Status:               workflow.Status(req.Status),
		AvailableTransitions: workflow.AvailableTransitions(req, actorFrom(r)),
	})
}

type transitionBody struct {
	Status      string  `json:"status" validate:"required"`
	Comment     string  `json:"comment" validate:"max=2000"`
	ReviewNotes *string `json:"review_notes" validate:"omitempty,max=10000"`
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body transitionBody
	if !s.decode(w, r, &body) {
		return
	}

	req, err := s.svc.Transition(r.Context(), mux.Vars(r)["id"], workflow.Status(body.Status), actorFrom(r), workflow.TransitionInput{
		Comment:     body.Comment,
		ReviewNotes: body.ReviewNotes,
	})
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if err := s.authz.Authorize(actor, authz.ObjectRequests, authz.ActionClaim); err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	req, err := s.svc.Claim(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if err := s.authz.Authorize(actor, authz.ObjectRequests, authz.ActionClaim); err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	req, err := s.svc.Release(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if err := s.authz.Authorize(actor, authz.ObjectRequests, authz.ActionDelete); err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	if err := s.svc.Delete(r.Context(), mux.Vars(r)["id"], actor); err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, codeInternal, "streaming not supported", nil)
		return
	}
	actor := actorFrom(r)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := s.broker.Subscribe(actor.ID)
	defer s.broker.Unsubscribe(actor.ID, ch)

	fmt.Fprintf(w, ": keepalive\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: notification\ndata: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// loadReadable fetches the request named in the path and checks read access:
// read_all, or read_own for the submitter.
func (s *Server) loadReadable(w http.ResponseWriter, r *http.Request) (*db.NamingRequest, bool) {
	actor := actorFrom(r)
	req, err := s.svc.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return nil, false
	}
	if s.authz.Allowed(actor.Role, authz.ObjectRequests, authz.ActionReadAll) {
		return req, true
	}
	if req.SubmitterID == actor.ID && s.authz.Allowed(actor.Role, authz.ObjectRequests, authz.ActionReadOwn) {
		return req, true
	}
	s.writeWorkflowError(w, r, &workflow.Error{
		Kind:    workflow.KindForbidden,
		Message: fmt.Sprintf("request %s belongs to another submitter", req.ID),
	})
	return nil, false
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid body", nil)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		meta := map[string]string{}
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				meta[fe.Field()] = fe.Tag()
			}
		}
		writeError(w, http.StatusBadRequest, codeBadRequest, "validation failed", meta)
		return false
	}
	return true
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid integer %q", v)
	}
	return n, nil
}
