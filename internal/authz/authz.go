package authz

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/casbin/casbin/v2/persist"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/nameflow/internal/workflow"
)

//go:embed model.conf
var modelText string

//go:embed policy.csv
var defaultPolicy string

const ObjectRequests = "requests"

// Actions on the requests object. Status changes are not listed here: the
// workflow transition table decides those.
const (
	ActionCreate  = "create"
	ActionReadOwn = "read_own"
	ActionReadAll = "read_all"
	ActionClaim   = "claim"
	ActionDelete  = "delete"
)

// Enforcer answers role/object/action questions for the API layer.
type Enforcer struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
	log      *logrus.Entry
}

// New loads the embedded policy, or the CSV at policyPath when it is set.
func New(policyPath string, log *logrus.Logger) (*Enforcer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, errors.Wrap(err, "authz: parse model")
	}

	var adapter persist.Adapter
	if policyPath != "" {
		adapter = fileadapter.NewAdapter(policyPath)
	} else {
		adapter = stringadapter.NewAdapter(defaultPolicy)
	}

	enf, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, errors.Wrap(err, "authz: failed to initialize enforcer")
	}
	if err := enf.LoadPolicy(); err != nil {
		return nil, errors.Wrap(err, "authz: failed to load policies")
	}
	return &Enforcer{
		enforcer: enf,
		log:      log.WithField("component", "authz"),
	}, nil
}

// Allowed reports whether role may perform action on object.
func (e *Enforcer) Allowed(role workflow.Role, object, action string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ok, err := e.enforcer.Enforce(string(role), object, action)
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{
			"role":   role,
			"object": object,
			"action": action,
		}).Error("authz enforce failed")
		return false
	}
	return ok
}

// Authorize returns a workflow Forbidden error when the action is denied.
func (e *Enforcer) Authorize(actor workflow.Actor, object, action string) error {
	if e.Allowed(actor.Role, object, action) {
		return nil
	}
	e.log.WithFields(logrus.Fields{
		"subject": actor.ID,
		"role":    actor.Role,
		"object":  object,
		"action":  action,
	}).Warn("authz denied request")
	return &workflow.Error{
		Kind:    workflow.KindForbidden,
		Message: fmt.Sprintf("role %s may not %s %s", actor.Role, action, object),
	}
}
