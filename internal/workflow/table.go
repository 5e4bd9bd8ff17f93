package workflow

import "github.com/tejzpr/nameflow/internal/db"

type edge struct {
	from Status
	to   Status
}

var (
	staff         = []Role{RoleReviewer, RoleAdmin}
	staffAndOwner = []Role{RoleSubmitter, RoleReviewer, RoleAdmin}
)

// transitions is the only place status changes are defined. Submitter entries
// additionally require ownership, which Transition checks first.
var transitions = map[edge][]Role{
	{StatusSubmitted, StatusBrandReview}:   staff,
	{StatusSubmitted, StatusCancelled}:     staffAndOwner,
	{StatusSubmitted, StatusOnHold}:        staffAndOwner,
	{StatusBrandReview, StatusLegalReview}: staff,
	{StatusBrandReview, StatusOnHold}:      staffAndOwner,
	{StatusBrandReview, StatusCancelled}:   staffAndOwner,
	{StatusLegalReview, StatusApproved}:    staff,
	{StatusLegalReview, StatusOnHold}:      staff,
	{StatusLegalReview, StatusCancelled}:   staff,
	{StatusOnHold, StatusSubmitted}:        staff,
	{StatusOnHold, StatusBrandReview}:      staff,
	{StatusOnHold, StatusLegalReview}:      staff,
}

// lookup reports whether from->to exists at all and whether role may take it.
func lookup(from, to Status, role Role) (exists, permitted bool) {
	if from.Terminal() {
		return false, false
	}
	// admin may cancel anything that is not finished
	if to == StatusCancelled && role == RoleAdmin {
		return true, true
	}
	roles, ok := transitions[edge{from, to}]
	if !ok {
		return to == StatusCancelled, false
	}
	for _, r := range roles {
		if r == role {
			return true, true
		}
	}
	return true, false
}

// AvailableTransitions returns the statuses actor may move req to, in pipeline
// order. It only drives what a client offers; Transition checks again.
func AvailableTransitions(req *db.NamingRequest, actor Actor) []Status {
	out := []Status{}
	if req == nil || !actor.valid() {
		return out
	}
	if actor.Role == RoleSubmitter && req.SubmitterID != actor.ID {
		return out
	}
	from := Status(req.Status)
	for _, to := range Statuses {
		if _, ok := lookup(from, to, actor.Role); ok {
			out = append(out, to)
		}
	}
	return out
}

func checkTransition(from, to Status, role Role) error {
	exists, permitted := lookup(from, to, role)
	switch {
	case !exists && from.Terminal():
		return newError(KindInvalidTransition, ReasonNoSuchTransition,
			"request is %s, which is terminal", from)
	case !exists:
		return newError(KindInvalidTransition, ReasonNoSuchTransition,
			"no transition from %s to %s", from, to)
	case !permitted:
		return newError(KindInvalidTransition, ReasonRoleNotPermitted,
			"role %s may not move a request from %s to %s", role, from, to)
	}
	return nil
}
