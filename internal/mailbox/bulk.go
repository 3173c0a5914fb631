package mailbox

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Action is a bulk mutation applied to a set of threads.
type Action int

const (
	ActionArchive Action = iota
	ActionDelete
	ActionStar
	ActionUnstar
)

var actionNames = [...]string{
	ActionArchive: "archive",
	ActionDelete:  "delete",
	ActionStar:    "star",
	ActionUnstar:  "unstar",
}

// ParseAction resolves a wire action name.
func ParseAction(name string) (Action, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range actionNames {
		if n == name {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("unsupported action %q", name)
}

// Valid reports whether a is a defined action.
func (a Action) Valid() bool { return a >= 0 && int(a) < len(actionNames) }

func (a Action) String() string {
	if !a.Valid() {
		return fmt.Sprintf("Action(%d)", int(a))
	}
	return actionNames[a]
}

// Removes reports whether the action takes threads out of the current view.
func (a Action) Removes() bool { return a == ActionArchive || a == ActionDelete }

// OutcomeKind tags the state of an optimistic bulk mutation.
type OutcomeKind int

const (
	// OutcomePending: patched locally, awaiting the provider.
	OutcomePending OutcomeKind = iota
	// OutcomeApplied: the provider confirmed the change.
	OutcomeApplied
	// OutcomeRolledBack: the provider failed and the local patch was undone.
	OutcomeRolledBack
	// OutcomeStale: the provider failed but the collection had already been
	// replaced by a newer fetch, so there was nothing to undo.
	OutcomeStale
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeApplied:
		return "applied"
	case OutcomeRolledBack:
		return "rolled back"
	case OutcomeStale:
		return "stale"
	default:
		return "unknown"
	}
}

// BulkOutcome is the settled result of a Mutation.
type BulkOutcome struct {
	Kind    OutcomeKind
	Action  Action
	IDs     []string
	Updated int
	Err     error
}

// Mutation is an optimistic bulk change already applied to the collection
// and waiting for the provider.
type Mutation struct {
	Action  Action
	Mailbox string
	IDs     []string

	mutator Mutator
	session *Session
	version uint64

	removed     []removedThread
	prevOpen    string // open thread removed by this mutation
	prevStarred map[string]bool

	settled bool
	outcome BulkOutcome
}

// MutationResult is the outcome of Mutation.Run.
type MutationResult struct {
	Mutation *Mutation
	Updated  int
	Err      error
}

// Run performs the provider call.
func (m *Mutation) Run(ctx context.Context) MutationResult {
	n, err := m.mutator.BulkUpdate(ctx, m.Mailbox, slices.Clone(m.IDs), m.Action)
	return MutationResult{Mutation: m, Updated: n, Err: err}
}

// Outcome reports the mutation's current state.
func (m *Mutation) Outcome() BulkOutcome {
	if !m.settled {
		return BulkOutcome{Kind: OutcomePending, Action: m.Action, IDs: slices.Clone(m.IDs)}
	}
	return m.outcome
}

// Bulk applies action to the resolved targets: the selection, else the
// open thread. With no target it is a no-op and returns nil.
func (s *Session) Bulk(action Action) *Mutation {
	return s.ApplyBulk(action, s.threads.Targets())
}

// ToggleStar stars or unstars a single thread.
func (s *Session) ToggleStar(id string) *Mutation {
	t, ok := s.threads.Find(id)
	if !ok {
		return nil
	}
	action := ActionStar
	if t.Starred {
		action = ActionUnstar
	}
	return s.ApplyBulk(action, []string{id})
}

// ApplyBulk patches the collection for action on ids and returns the
// pending remote call. Star and unstar flip flags in place. Archive and
// delete remove the threads and their selection, clearing the open thread
// if it was a target without picking a replacement.
//
// An empty target set, an invalid action or an inactive session make this
// a no-op returning nil.
func (s *Session) ApplyBulk(action Action, ids []string) *Mutation {
	if s.closed || s.state == StateIdle || !action.Valid() {
		return nil
	}
	ids = compactIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	m := &Mutation{
		Action:  action,
		Mailbox: s.mailbox,
		IDs:     ids,
		mutator: s.provider,
		session: s,
		version: s.threads.version,
	}
	if action.Removes() {
		open := s.threads.OpenID()
		var openRemoved bool
		m.removed, openRemoved = s.threads.remove(ids)
		if openRemoved {
			m.prevOpen = open
		}
	} else {
		m.prevStarred = s.threads.setStarred(ids, action == ActionStar)
	}
	s.bulkErr = nil

	s.logger.Debug("bulk patch applied",
		"mailbox", s.mailbox, "action", action.String(), "targets", len(ids))
	return m
}

// Owns reports whether m was issued by this session.
func (s *Session) Owns(m *Mutation) bool { return m != nil && m.session == s }

// Settle reconciles a finished mutation. On failure the local patch is
// rolled back when the collection it patched is still loaded, and the error
// is kept in the bulk error slot either way. Settling twice is harmless.
//
// A mutation issued by another session is reported stale and leaves this
// session untouched.
func (s *Session) Settle(r MutationResult) BulkOutcome {
	m := r.Mutation
	if m == nil {
		return BulkOutcome{}
	}
	if !s.Owns(m) {
		s.logger.Debug("discard foreign bulk result", "mailbox", s.mailbox, "from", m.Mailbox)
		return BulkOutcome{Kind: OutcomeStale, Action: m.Action, IDs: slices.Clone(m.IDs), Err: r.Err}
	}
	if m.settled {
		return m.outcome
	}
	m.settled = true
	out := BulkOutcome{Action: m.Action, IDs: slices.Clone(m.IDs), Updated: r.Updated, Err: r.Err}

	switch {
	case r.Err == nil:
		out.Kind = OutcomeApplied
	case s.closed || m.version != s.threads.version:
		out.Kind = OutcomeStale
	default:
		out.Kind = OutcomeRolledBack
		s.rollback(m)
	}
	if r.Err != nil && !s.closed {
		s.bulkErr = r.Err
		s.logger.Warn("bulk update failed",
			"mailbox", s.mailbox, "action", m.Action.String(),
			"outcome", out.Kind.String(), "error", r.Err)
	}
	m.outcome = out
	return out
}

func (s *Session) rollback(m *Mutation) {
	if !m.Action.Removes() {
		s.threads.restoreStarred(m.prevStarred)
		return
	}
	s.threads.restore(m.removed)
	if m.prevOpen != "" && s.threads.OpenID() == "" {
		s.threads.Open(m.prevOpen)
	}
}

func compactIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
