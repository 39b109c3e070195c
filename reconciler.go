package auth

import (
	"context"
	"sync"
	"time"
)

// InactiveHandler runs when the live profile turns out to be inactive.
type InactiveHandler func(ctx context.Context, token IdentityToken)

// ProfileReconciler keeps a live UserProfile for the current identity.
// Each identity change cancels the previous document subscription before a
// new one starts, and callbacks from an older identity are dropped.
type ProfileReconciler struct {
	store        ProfileStore
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
	machine      *phaseMachine
	onProfile    func(*UserProfile)
	onInactive   InactiveHandler

	mu          sync.Mutex
	generation  uint64
	identity    *IdentityToken
	sub         Subscription
	profile     *UserProfile
	synthesized bool
	blocked     bool

	// publishMu orders publications against identity changes.
	publishMu sync.Mutex
}

// ReconcilerOption customizes the ProfileReconciler.
type ReconcilerOption func(*ProfileReconciler)

// WithReconcilerLogger sets the logger.
func WithReconcilerLogger(logger Logger) ReconcilerOption {
	return func(r *ProfileReconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReconcilerActivitySink sets the activity sink.
func WithReconcilerActivitySink(sink ActivitySink) ReconcilerOption {
	return func(r *ProfileReconciler) {
		r.activitySink = normalizeActivitySink(sink)
	}
}

// WithReconcilerClock injects a clock.
func WithReconcilerClock(now func() time.Time) ReconcilerOption {
	return func(r *ProfileReconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// WithProfileListener is called with every published profile, and with nil
// when the identity goes away.
func WithProfileListener(fn func(*UserProfile)) ReconcilerOption {
	return func(r *ProfileReconciler) {
		r.onProfile = fn
	}
}

// WithInactiveHandler is called once per identity when its profile is inactive.
func WithInactiveHandler(fn InactiveHandler) ReconcilerOption {
	return func(r *ProfileReconciler) {
		r.onInactive = fn
	}
}

// WithPhaseHook observes phase transitions.
func WithPhaseHook(hook PhaseHook) ReconcilerOption {
	return func(r *ProfileReconciler) {
		if hook != nil {
			r.machine.hooks = append(r.machine.hooks, hook)
		}
	}
}

// NewProfileReconciler returns a reconciler over the profile store.
func NewProfileReconciler(store ProfileStore, opts ...ReconcilerOption) *ProfileReconciler {
	r := &ProfileReconciler{
		store:        store,
		logger:       DefaultLogger("auth.reconciler"),
		activitySink: noopActivitySink{},
		now:          time.Now,
		machine:      newPhaseMachine(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Phase returns the current phase.
func (r *ProfileReconciler) Phase() ReconcilerPhase {
	return r.machine.Current()
}

// Profile returns a copy of the last published profile.
func (r *ProfileReconciler) Profile() *UserProfile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile.Clone()
}

// SetIdentity switches the reconciler to a new identity, or clears it with nil.
func (r *ProfileReconciler) SetIdentity(ctx context.Context, token *IdentityToken) {
	r.mu.Lock()
	if token != nil && r.identity != nil && r.sub != nil && r.identity.UID == token.UID {
		t := *token
		r.identity = &t
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	r.publishMu.Lock()
	r.mu.Lock()
	r.generation++
	gen := r.generation
	old := r.sub
	r.sub = nil
	r.profile = nil
	r.synthesized = false
	r.blocked = false
	if token != nil {
		t := *token
		r.identity = &t
	} else {
		r.identity = nil
	}
	r.mu.Unlock()
	r.publishMu.Unlock()

	if old != nil {
		old.Cancel()
	}

	if token == nil {
		r.transition(PhaseUnsubscribed)
		if r.onProfile != nil {
			r.onProfile(nil)
		}
		return
	}

	r.transition(PhaseSubscribing)
	uid := token.UID
	sub, err := r.store.Watch(ctx, uid, func(doc Document, err error) {
		r.handle(ctx, gen, doc, err)
	})
	if err != nil {
		r.handle(ctx, gen, Document{}, err)
		return
	}

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		sub.Cancel()
		return
	}
	r.sub = sub
	r.mu.Unlock()
}

// Stop cancels the current subscription.
func (r *ProfileReconciler) Stop() {
	r.SetIdentity(context.Background(), nil)
}

func (r *ProfileReconciler) current(gen uint64) (IdentityToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation || r.identity == nil {
		return IdentityToken{}, false
	}
	return *r.identity, true
}

func (r *ProfileReconciler) handle(ctx context.Context, gen uint64, doc Document, err error) {
	token, ok := r.current(gen)
	if !ok {
		r.logger.Debug("dropping stale profile update", "generation", gen)
		return
	}

	switch {
	case err != nil:
		r.fallback(ctx, gen, token, err)
	case !doc.Exists:
		r.synthesize(ctx, gen, token)
	case !doc.Active():
		r.inactive(ctx, gen, token)
	default:
		r.sync(ctx, gen, token, doc)
	}
}

func (r *ProfileReconciler) fallback(ctx context.Context, gen uint64, token IdentityToken, err error) {
	r.logger.Warn("profile subscription failed, using identity fallback", "uid", token.UID, "error", err)
	profile := ProfileFromToken(token)
	if r.publish(gen, profile, PhaseFallback) {
		recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
			EventType: ActivityEventProfileFallback,
			UserID:    token.UID,
			Email:     token.Email,
			Metadata:  map[string]any{"error": err.Error()},
		})
	}
}

func (r *ProfileReconciler) synthesize(ctx context.Context, gen uint64, token IdentityToken) {
	r.mu.Lock()
	if gen != r.generation || r.synthesized {
		r.mu.Unlock()
		return
	}
	r.synthesized = true
	r.mu.Unlock()

	r.transition(PhaseSynthesizing)
	now := r.now().UTC()
	data := SynthesizedDocument(token, now)
	if err := r.store.Set(ctx, token.UID, data); err != nil {
		r.fallback(ctx, gen, token, err)
		return
	}

	profile := ProfileFromDocument(Document{ID: token.UID, Data: data, Exists: true})
	profile.Source = SourceSynthesized
	if r.publish(gen, profile, PhaseSynced) {
		recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
			EventType: ActivityEventProfileSynthesized,
			UserID:    token.UID,
			Email:     token.Email,
			Metadata:  map[string]any{"role": string(profile.Role)},
		})
	}
}

func (r *ProfileReconciler) inactive(ctx context.Context, gen uint64, token IdentityToken) {
	r.mu.Lock()
	if gen != r.generation || r.blocked {
		r.mu.Unlock()
		return
	}
	r.blocked = true
	r.profile = nil
	r.mu.Unlock()

	r.logger.Info("profile is inactive, ending session", "uid", token.UID)
	recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
		EventType: ActivityEventAccountInactive,
		UserID:    token.UID,
		Email:     token.Email,
	})
	if r.onInactive != nil {
		r.onInactive(ctx, token)
	}
}

func (r *ProfileReconciler) sync(ctx context.Context, gen uint64, token IdentityToken, doc Document) {
	profile := ProfileFromDocument(doc)
	if profile.UID != token.UID {
		// Self heal: only the uid field is written, everything else is kept.
		if err := r.store.Merge(ctx, doc.ID, map[string]any{FieldUID: token.UID}); err != nil {
			r.logger.Warn("uid self heal failed", "doc", doc.ID, "error", err)
		} else {
			recordActivity(ctx, r.activitySink, r.logger, ActivityEvent{
				EventType: ActivityEventProfileSelfHealed,
				UserID:    token.UID,
				Email:     token.Email,
				Metadata:  map[string]any{"doc_id": doc.ID, "stored_uid": profile.UID},
			})
		}
		profile.UID = token.UID
	}
	r.publish(gen, profile, PhaseSynced)
}

// publish hands the profile to the listener unless the identity changed.
func (r *ProfileReconciler) publish(gen uint64, profile *UserProfile, phase ReconcilerPhase) bool {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	r.mu.Lock()
	if gen != r.generation || r.blocked {
		r.mu.Unlock()
		return false
	}
	r.profile = profile.Clone()
	r.mu.Unlock()

	r.transition(phase)
	if r.onProfile != nil {
		r.onProfile(profile)
	}
	return true
}

func (r *ProfileReconciler) transition(target ReconcilerPhase) {
	if err := r.machine.Transition(target); err != nil {
		r.logger.Warn("rejected reconciler transition", "to", target, "error", err)
	}
}
