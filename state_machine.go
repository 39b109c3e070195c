package auth

import (
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

const textCodeInvalidTransition = "INVALID_RECONCILER_TRANSITION"

// ErrInvalidTransition is returned when a requested phase change is not allowed.
var ErrInvalidTransition = goerrors.New("invalid reconciler transition", goerrors.CategoryValidation).
	WithTextCode(textCodeInvalidTransition).
	WithCode(goerrors.CodeBadRequest)

// ReconcilerPhase is the state of the profile reconciler for the current identity.
type ReconcilerPhase string

const (
	PhaseUnsubscribed ReconcilerPhase = "unsubscribed"
	PhaseSubscribing  ReconcilerPhase = "subscribing"
	PhaseSynthesizing ReconcilerPhase = "synthesizing"
	PhaseSynced       ReconcilerPhase = "synced"
	PhaseFallback     ReconcilerPhase = "fallback"
)

// PhaseHook observes accepted transitions.
type PhaseHook func(from, to ReconcilerPhase)

// phaseMachine validates reconciler phase changes against a transition table.
// Any phase may go back to unsubscribed.
type phaseMachine struct {
	mu          sync.Mutex
	current     ReconcilerPhase
	transitions map[ReconcilerPhase]map[ReconcilerPhase]struct{}
	hooks       []PhaseHook
}

func newPhaseMachine(hooks ...PhaseHook) *phaseMachine {
	return &phaseMachine{
		current: PhaseUnsubscribed,
		transitions: map[ReconcilerPhase]map[ReconcilerPhase]struct{}{
			PhaseUnsubscribed: {
				PhaseSubscribing: {},
			},
			PhaseSubscribing: {
				PhaseSynced:       {},
				PhaseSynthesizing: {},
				PhaseFallback:     {},
			},
			PhaseSynthesizing: {
				PhaseSynced:      {},
				PhaseFallback:    {},
				PhaseSubscribing: {},
			},
			PhaseSynced: {
				PhaseFallback:     {},
				PhaseSynthesizing: {},
				PhaseSubscribing:  {},
			},
			PhaseFallback: {
				PhaseSubscribing: {},
				PhaseSynced:      {},
			},
		},
		hooks: hooks,
	}
}

func (m *phaseMachine) Current() ReconcilerPhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *phaseMachine) canTransition(from, to ReconcilerPhase) bool {
	if to == PhaseUnsubscribed {
		return true
	}
	allowed, ok := m.transitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Transition moves to target. Staying in the same phase is a no-op.
func (m *phaseMachine) Transition(target ReconcilerPhase) error {
	m.mu.Lock()
	from := m.current
	if from == target {
		m.mu.Unlock()
		return nil
	}
	if !m.canTransition(from, target) {
		m.mu.Unlock()
		return ErrInvalidTransition.Clone().WithMetadata(map[string]any{
			"from": from,
			"to":   target,
		})
	}
	m.current = target
	hooks := m.hooks
	m.mu.Unlock()

	for _, hook := range hooks {
		if hook != nil {
			hook(from, target)
		}
	}
	return nil
}
