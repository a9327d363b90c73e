// Package engine implements the generic state engine shared by every
// per-operation state machine: a declared set of states and a
// fromState->event->{toStates} transition table, driven by a pending-event
// queue so that an enter hook can chain further events synchronously.
//
// The source this is grounded on (RaceLib::StateEngine) uses class-based
// polymorphism over State objects. Here a state machine is instead a single
// Spec value: StateID and EventID are small int-like sum types, and the
// enter/exit/prerequisite hooks are plain functions keyed by state, per the
// "tagged variants" design note. Context carries no behavior of its own —
// the State/Context coupling of the source collapses to hook functions
// taking a Context.
package engine

import "fmt"

// StateID identifies one declared state of a machine. Each concrete machine
// defines its own small int constants starting at 1; 0 is reserved
// (StateInvalid) so a zero-valued Context is visibly uninitialized.
type StateID int

// EventID identifies one event a machine's states may respond to. Each
// concrete machine defines its own constants starting at 1.
type EventID int

const (
	// StateInvalid is the zero value; no real state ever uses it.
	StateInvalid StateID = 0
)

// Context is the minimal state an engine needs from whatever is being
// driven: its current state and a FIFO of events still to be processed.
// Concrete per-operation contexts embed this.
type Context struct {
	CurrentState  StateID
	pendingEvents []EventID
}

// State returns the context's current state.
func (c *Context) State() StateID { return c.CurrentState }

// push enqueues an event to be processed by the next drain.
func (c *Context) push(e EventID) {
	c.pendingEvents = append(c.pendingEvents, e)
}

// Hooks bundles the behavior of one declared state.
type Hooks struct {
	// Enter runs when the context transitions into this state. Entering
	// the initial state via Start also runs Enter. An Enter hook may call
	// PushEvent(ctx, ...) to chain further transitions synchronously — this is
	// the "EVENT_ALWAYS" unconditional-transition mechanism.
	Enter func(ctx *Context) error
	// Exit runs when the context transitions away from this state.
	Exit func(ctx *Context) error
	// PrerequisitesSatisfied gates entry into this state; returning false
	// fails the context without running Enter. Nil means always satisfied.
	PrerequisitesSatisfied func(ctx *Context) bool
	// Final marks a state as having no required outbound transitions
	// (validation does not demand one).
	Final bool
	// Disambiguate is consulted when a (fromState, event) transition has
	// more than one declared target state; it must return one of them. Nil
	// is only valid when every transition from this state is
	// single-target.
	Disambiguate func(ctx *Context, event EventID, candidates []StateID) StateID
}

// Spec is an immutable declaration of one state machine: its states, its
// transition table, and its designated initial/failed states.
type Spec struct {
	states      map[StateID]Hooks
	transitions map[StateID]map[EventID][]StateID
	initial     StateID
	failed      StateID
}

// NewSpec begins building a Spec with the given initial and failed states.
// Both must be added via AddState before Validate/Start is called.
func NewSpec(initial, failed StateID) *Spec {
	return &Spec{
		states:      make(map[StateID]Hooks),
		transitions: make(map[StateID]map[EventID][]StateID),
		initial:     initial,
		failed:      failed,
	}
}

// AddState declares a state and its hooks. Declaring the same StateID twice
// overwrites the previous declaration.
func (s *Spec) AddState(id StateID, hooks Hooks) *Spec {
	s.states[id] = hooks
	return s
}

// AddTransition declares that event, when received in fromState, may lead to
// toState. Declaring more than one toState for the same (fromState, event)
// requires that toState's... no — requires that fromState's Hooks specify
// Disambiguate, consulted when the transition fires.
func (s *Spec) AddTransition(fromState StateID, event EventID, toState StateID) *Spec {
	if s.transitions[fromState] == nil {
		s.transitions[fromState] = make(map[EventID][]StateID)
	}
	s.transitions[fromState][event] = append(s.transitions[fromState][event], toState)
	return s
}

// Validate checks the structural invariants the design notes call for:
// every state other than the initial one (the failed state included) is
// reachable from the initial state, every
// non-final, non-failed state has at least one outbound transition, and
// every declared transition target is itself a declared state. It returns
// every problem found rather than stopping at the first.
func (s *Spec) Validate() []error {
	var problems []error

	for from, byEvent := range s.transitions {
		if _, ok := s.states[from]; !ok {
			problems = append(problems, fmt.Errorf("transition declared from undeclared state %d", from))
		}
		for event, targets := range byEvent {
			for _, to := range targets {
				if _, ok := s.states[to]; !ok {
					problems = append(problems, fmt.Errorf("state %d event %d targets undeclared state %d", from, event, to))
				}
			}
		}
	}

	for id, hooks := range s.states {
		if id == s.failed || hooks.Final {
			continue
		}
		if len(s.transitions[id]) == 0 {
			problems = append(problems, fmt.Errorf("state %d has no outbound transitions and is not marked final", id))
		}
	}

	reachable := map[StateID]bool{s.initial: true}
	changed := true
	for changed {
		changed = false
		for from, byEvent := range s.transitions {
			if !reachable[from] {
				continue
			}
			for _, targets := range byEvent {
				for _, to := range targets {
					if !reachable[to] {
						reachable[to] = true
						changed = true
					}
				}
			}
		}
	}
	for id := range s.states {
		if id == s.initial {
			continue
		}
		if !reachable[id] {
			problems = append(problems, fmt.Errorf("state %d is not reachable from the initial state", id))
		}
	}

	return problems
}

// Engine drives Contexts through a validated Spec.
type Engine struct {
	spec *Spec
}

// New returns an Engine for spec. It does not validate spec: a spec with
// structural problems still returns an Engine and nothing is logged —
// check Spec.Validate explicitly during tests/construction.
func New(spec *Spec) *Engine {
	return &Engine{spec: spec}
}

// Start runs the initial state's Enter hook and then drains any events it
// queued.
func (e *Engine) Start(ctx *Context) error {
	ctx.pendingEvents = nil
	init, ok := e.spec.states[e.spec.initial]
	if !ok {
		return fmt.Errorf("engine: no initial state declared")
	}
	if init.PrerequisitesSatisfied != nil && !init.PrerequisitesSatisfied(ctx) {
		e.fail(ctx)
		return fmt.Errorf("engine: initial state prerequisites not satisfied")
	}
	if init.Enter != nil {
		if err := init.Enter(ctx); err != nil {
			e.fail(ctx)
			return err
		}
	}
	ctx.CurrentState = e.spec.initial
	return e.drain(ctx)
}

// HandleEvent enqueues event and drains the pending-event queue.
func (e *Engine) HandleEvent(ctx *Context, event EventID) error {
	if _, ok := e.spec.states[ctx.CurrentState]; !ok {
		return fmt.Errorf("engine: context in undeclared state %d", ctx.CurrentState)
	}
	ctx.push(event)
	return e.drain(ctx)
}

// Failed reports whether ctx currently sits in the machine's failed state.
func (e *Engine) Failed(ctx *Context) bool {
	return ctx.CurrentState == e.spec.failed
}

// Finished reports whether ctx sits in a state marked Final.
func (e *Engine) Finished(ctx *Context) bool {
	h, ok := e.spec.states[ctx.CurrentState]
	return ok && h.Final
}

func (e *Engine) drain(ctx *Context) error {
	for len(ctx.pendingEvents) > 0 {
		event := ctx.pendingEvents[0]
		ctx.pendingEvents = ctx.pendingEvents[1:]

		byEvent, ok := e.spec.transitions[ctx.CurrentState]
		if !ok {
			e.fail(ctx)
			return fmt.Errorf("engine: state %d declares no transitions", ctx.CurrentState)
		}
		targets, ok := byEvent[event]
		if !ok || len(targets) == 0 {
			e.fail(ctx)
			return fmt.Errorf("engine: state %d does not handle event %d", ctx.CurrentState, event)
		}

		toID, err := e.resolveTarget(ctx, event, targets)
		if err != nil {
			e.fail(ctx)
			return err
		}

		if err := e.transition(ctx, toID); err != nil {
			e.fail(ctx)
			return err
		}
	}
	return nil
}

func (e *Engine) resolveTarget(ctx *Context, event EventID, targets []StateID) (StateID, error) {
	if len(targets) == 1 {
		return targets[0], nil
	}
	from := e.spec.states[ctx.CurrentState]
	if from.Disambiguate == nil {
		return StateInvalid, fmt.Errorf("engine: state %d event %d has %d candidate targets and no Disambiguate hook", ctx.CurrentState, event, len(targets))
	}
	chosen := from.Disambiguate(ctx, event, targets)
	for _, t := range targets {
		if t == chosen {
			return chosen, nil
		}
	}
	return StateInvalid, fmt.Errorf("engine: Disambiguate returned a state not among the declared candidates")
}

func (e *Engine) transition(ctx *Context, to StateID) error {
	curr := e.spec.states[ctx.CurrentState]
	next, ok := e.spec.states[to]
	if !ok {
		return fmt.Errorf("engine: transition to undeclared state %d", to)
	}

	if curr.Exit != nil {
		if err := curr.Exit(ctx); err != nil {
			return err
		}
	}
	if next.PrerequisitesSatisfied != nil && !next.PrerequisitesSatisfied(ctx) {
		return fmt.Errorf("engine: state %d prerequisites not satisfied", to)
	}
	if next.Enter != nil {
		if err := next.Enter(ctx); err != nil {
			return err
		}
	}
	ctx.CurrentState = to
	return nil
}

// fail forces ctx directly into the machine's failed state, running the
// current state's Exit and the failed state's Enter. Errors from those
// hooks are deliberately swallowed: failure is unconditional once entered,
// matching the source's StateEngine::fail, which always lands in the failed
// state regardless of exit/enter outcome.
func (e *Engine) fail(ctx *Context) {
	if curr, ok := e.spec.states[ctx.CurrentState]; ok && curr.Exit != nil {
		_ = curr.Exit(ctx)
	}
	failedHooks := e.spec.states[e.spec.failed]
	if failedHooks.Enter != nil {
		_ = failedHooks.Enter(ctx)
	}
	ctx.CurrentState = e.spec.failed
}

// PushEvent lets an Enter/Exit hook enqueue a further event for the same
// drain pass (the chaining mechanism the design notes call EVENT_ALWAYS).
func PushEvent(ctx *Context, event EventID) {
	ctx.push(event)
}
