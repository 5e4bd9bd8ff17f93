package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/nameflow/internal/db"
	"github.com/tejzpr/nameflow/internal/metrics"
)

const untitled = "Untitled request"

// Store is the persistence contract the workflow relies on. *db.Store implements it.
type Store interface {
	Create(ctx context.Context, req *db.NamingRequest) error
	FindByID(ctx context.Context, id string) (*db.NamingRequest, error)
	List(ctx context.Context, f db.Filter) ([]db.NamingRequest, error)
	UpdateStatus(ctx context.Context, id, from string, u db.StatusUpdate) (*db.NamingRequest, error)
	SetAssignedReviewer(ctx context.Context, id, reviewer string, statuses []string, at time.Time) (*db.NamingRequest, error)
	ClearAssignedReviewer(ctx context.Context, id, reviewer string, at time.Time) (*db.NamingRequest, error)
	Delete(ctx context.Context, id string) error
}

// Notification tells a user that something happened to a request.
type Notification struct {
	Recipient string    `json:"recipient"`
	Event     string    `json:"event"`
	RequestID string    `json:"request_id"`
	Title     string    `json:"title"`
	From      Status    `json:"from,omitempty"`
	To        Status    `json:"to,omitempty"`
	Actor     Actor     `json:"actor"`
	Comment   string    `json:"comment,omitempty"`
	At        time.Time `json:"at"`
}

const (
	EventTransition = "transition"
	EventClaim      = "claim"
)

// Notifier delivers notifications. Failures are logged and never undo the change.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type SubmitInput struct {
	Title    string
	FormData map[string]any
}

type TransitionInput struct {
	Comment     string
	ReviewNotes *string
}

// Service owns request status changes and reviewer assignment.
type Service struct {
	store    Store
	notifier Notifier
	log      *logrus.Entry
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

func WithLogger(log *logrus.Logger) Option {
	return func(s *Service) { s.log = log.WithField("component", "workflow") }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		log:   logrus.WithField("component", "workflow"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit creates a request in the submitted state with its first history entry.
func (s *Service) Submit(ctx context.Context, actor Actor, in SubmitInput) (*db.NamingRequest, error) {
	if !actor.valid() {
		return nil, newError(KindForbidden, "", "unknown actor")
	}
	now := s.now().UTC()
	req := &db.NamingRequest{
		SubmitterID: actor.ID,
		Title:       deriveTitle(in.Title, in.FormData),
		FormData:    in.FormData,
		Status:      string(StatusSubmitted),
		StatusHistory: []db.StatusHistoryEntry{{
			Status:    string(StatusSubmitted),
			ChangedBy: actor.ID,
			ChangedAt: now,
		}},
	}
	if req.FormData == nil {
		req.FormData = map[string]any{}
	}
	if err := s.store.Create(ctx, req); err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"request_id": req.ID, "actor": actor.ID}).Info("naming request submitted")
	return req, nil
}

func (s *Service) Get(ctx context.Context, id string) (*db.NamingRequest, error) {
	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, id)
	}
	return req, nil
}

func (s *Service) List(ctx context.Context, f db.Filter) ([]db.NamingRequest, error) {
	if f.Status != "" {
		if _, ok := ParseStatus(f.Status); !ok {
			return nil, errors.Wrapf(ErrInvalidFilter, "unknown status %q", f.Status)
		}
	}
	return s.store.List(ctx, f)
}

// Transition moves a request to target on behalf of actor.
func (s *Service) Transition(ctx context.Context, id string, target Status, actor Actor, in TransitionInput) (*db.NamingRequest, error) {
	to, ok := ParseStatus(string(target))
	if !ok {
		return nil, newError(KindInvalidTransition, ReasonUnknownStatus, "unknown status %q", target)
	}
	if !actor.valid() {
		return nil, newError(KindForbidden, "", "unknown actor")
	}

	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, id)
	}
	from := Status(req.Status)
	log := s.log.WithFields(logrus.Fields{
		"request_id": id,
		"from":       from,
		"to":         to,
		"actor":      actor.ID,
		"role":       actor.Role,
	})

	if actor.Role == RoleSubmitter && req.SubmitterID != actor.ID {
		metrics.Transitions.WithLabelValues(string(from), string(to), outcome(ErrForbidden)).Inc()
		return nil, newError(KindForbidden, "", "request %s belongs to another submitter", id)
	}
	if err := checkTransition(from, to, actor.Role); err != nil {
		metrics.Transitions.WithLabelValues(string(from), string(to), outcome(err)).Inc()
		log.WithError(err).Debug("transition rejected")
		return nil, err
	}

	updated, err := s.store.UpdateStatus(ctx, id, string(from), db.StatusUpdate{
		Status:      string(to),
		ChangedBy:   actor.ID,
		Comment:     strings.TrimSpace(in.Comment),
		ReviewNotes: in.ReviewNotes,
		At:          s.now().UTC(),
	})
	if err != nil {
		err = translate(err, id)
		metrics.Transitions.WithLabelValues(string(from), string(to), outcome(err)).Inc()
		if KindOf(err) == KindConflict {
			log.Warn("transition lost a race")
		}
		return nil, err
	}

	metrics.Transitions.WithLabelValues(string(from), string(to), outcome(nil)).Inc()
	log.Info("naming request transitioned")

	for _, recipient := range transitionRecipients(updated, actor, to) {
		s.notify(ctx, Notification{
			Recipient: recipient,
			Event:     EventTransition,
			RequestID: id,
			Title:     updated.Title,
			From:      from,
			To:        to,
			Actor:     actor,
			Comment:   strings.TrimSpace(in.Comment),
			At:        s.now().UTC(),
		})
	}
	return updated, nil
}

// Claim assigns actor as the reviewer of an active, unclaimed request. Claiming
// a request already held by actor succeeds without changes.
func (s *Service) Claim(ctx context.Context, id string, actor Actor) (*db.NamingRequest, error) {
	if !actor.valid() || actor.Role == RoleSubmitter {
		metrics.Claims.WithLabelValues(outcome(ErrForbidden)).Inc()
		return nil, newError(KindForbidden, "", "only reviewers and admins can claim requests")
	}

	req, err := s.store.SetAssignedReviewer(ctx, id, actor.ID, activeStatuses(), s.now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, db.ErrConflict):
		err = claimConflict(req, actor)
		metrics.Claims.WithLabelValues(outcome(err)).Inc()
		if err != nil {
			return nil, err
		}
		return req, nil
	default:
		err = translate(err, id)
		metrics.Claims.WithLabelValues(outcome(err)).Inc()
		return nil, err
	}

	metrics.Claims.WithLabelValues(outcome(nil)).Inc()
	s.log.WithFields(logrus.Fields{"request_id": id, "reviewer": actor.ID}).Info("naming request claimed")
	if req.SubmitterID != actor.ID {
		s.notify(ctx, Notification{
			Recipient: req.SubmitterID,
			Event:     EventClaim,
			RequestID: id,
			Title:     req.Title,
			Actor:     actor,
			At:        s.now().UTC(),
		})
	}
	return req, nil
}

// Release clears the assigned reviewer. The holder or an admin may release.
func (s *Service) Release(ctx context.Context, id string, actor Actor) (*db.NamingRequest, error) {
	if !actor.valid() || actor.Role == RoleSubmitter {
		return nil, newError(KindForbidden, "", "only reviewers and admins can release requests")
	}
	req, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, translate(err, id)
	}
	if req.AssignedReviewer == "" {
		return req, nil
	}
	if actor.Role != RoleAdmin && req.AssignedReviewer != actor.ID {
		return nil, newError(KindForbidden, "", "request %s is claimed by another reviewer", id)
	}

	released, err := s.store.ClearAssignedReviewer(ctx, id, req.AssignedReviewer, s.now().UTC())
	if err != nil {
		return nil, translate(err, id)
	}
	s.log.WithFields(logrus.Fields{"request_id": id, "actor": actor.ID, "reviewer": req.AssignedReviewer}).Info("naming request released")
	return released, nil
}

// Delete hard-deletes a request. Admin only.
func (s *Service) Delete(ctx context.Context, id string, actor Actor) error {
	if actor.Role != RoleAdmin || !actor.valid() {
		return newError(KindForbidden, "", "only admins can delete requests")
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return translate(err, id)
	}
	s.log.WithFields(logrus.Fields{"request_id": id, "actor": actor.ID}).Warn("naming request deleted")
	return nil
}

func (s *Service) notify(ctx context.Context, n Notification) {
	if s.notifier == nil || n.Recipient == "" {
		return
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": n.RequestID,
			"recipient":  n.Recipient,
			"event":      n.Event,
		}).Warn("notification failed")
	}
}

// transitionRecipients: staff acting on someone else's request tell the submitter;
// a submitter holding or cancelling tells the assigned reviewer.
func transitionRecipients(req *db.NamingRequest, actor Actor, to Status) []string {
	var out []string
	switch actor.Role {
	case RoleReviewer, RoleAdmin:
		if req.SubmitterID != actor.ID {
			out = append(out, req.SubmitterID)
		}
	case RoleSubmitter:
		if (to == StatusCancelled || to == StatusOnHold) && req.AssignedReviewer != "" && req.AssignedReviewer != actor.ID {
			out = append(out, req.AssignedReviewer)
		}
	}
	return out
}

func claimConflict(req *db.NamingRequest, actor Actor) error {
	switch {
	case req.AssignedReviewer == actor.ID:
		return nil
	case req.AssignedReviewer != "":
		return newError(KindAlreadyClaimed, "", "request %s is already claimed by %s", req.ID, req.AssignedReviewer)
	default:
		return newError(KindInvalidTransition, ReasonNotClaimable, "cannot claim a request in status %s", req.Status)
	}
}

func translate(err error, id string) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return newError(KindNotFound, "", "naming request %s not found", id)
	case errors.Is(err, db.ErrConflict):
		return newError(KindConflict, "", "naming request %s was changed by someone else, reload and retry", id)
	}
	return errors.Wrapf(err, "naming request %s", id)
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := KindOf(err); k != "" {
		return strings.ToLower(string(k))
	}
	return "error"
}

func deriveTitle(title string, form map[string]any) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	for _, key := range []string{"title", "name", "proposed_name"} {
		if v, ok := form[key].(string); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return untitled
}
