package auth

import (
	"context"
	"maps"
	"time"

	"github.com/goliatone/hashid/pkg/hashid"
)

// MigrationOutcome describes what Reconcile found and did.
type MigrationOutcome string

const (
	MigrationExisting MigrationOutcome = "existing"
	MigrationMigrated MigrationOutcome = "migrated"
	MigrationAbsent   MigrationOutcome = "absent"
	MigrationSkipped  MigrationOutcome = "skipped"
)

// MigrationResult reports the outcome of a reconcile run.
type MigrationResult struct {
	Outcome MigrationOutcome
	// LegacyIDs are the legacy documents that were found.
	LegacyIDs []string
	// Deleted are the legacy documents removed in this run.
	Deleted []string
}

// Migrator moves legacy email keyed profile documents to uid keyed ones and
// gates sign in on the active flag.
type Migrator struct {
	store        ProfileStore
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time
}

// MigratorOption customizes the Migrator.
type MigratorOption func(*Migrator)

// WithMigratorLogger sets the logger.
func WithMigratorLogger(logger Logger) MigratorOption {
	return func(m *Migrator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMigratorActivitySink sets the activity sink.
func WithMigratorActivitySink(sink ActivitySink) MigratorOption {
	return func(m *Migrator) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithMigratorClock injects a clock.
func WithMigratorClock(now func() time.Time) MigratorOption {
	return func(m *Migrator) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMigrator returns a Migrator over the given store.
func NewMigrator(store ProfileStore, opts ...MigratorOption) *Migrator {
	m := &Migrator{
		store:        store,
		logger:       DefaultLogger("auth.migrator"),
		activitySink: noopActivitySink{},
		now:          time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// LegacyDocumentIDs returns the ids a legacy profile for email may have been
// stored under.
func LegacyDocumentIDs(email string) []string {
	email = NormalizeEmail(email)
	if email == "" {
		return nil
	}
	ids := []string{email}
	if id, err := hashid.NewUUID(email); err == nil {
		ids = append(ids, id.String())
	}
	return ids
}

// Reconcile runs the migration rule for a freshly signed in identity.
// It returns ErrAccountDisabled when the stored or legacy profile is
// inactive and a store error when the active flag could not be read or the
// migrated document could not be written. In both cases the caller must
// sign the provider out. Running it twice is safe.
func (m *Migrator) Reconcile(ctx context.Context, token IdentityToken) (MigrationResult, error) {
	if m.store == nil || token.UID == "" {
		return MigrationResult{Outcome: MigrationSkipped}, nil
	}

	current, err := m.store.Get(ctx, token.UID)
	if err != nil && !IsProfileNotFound(err) {
		m.logger.Warn("profile lookup failed", "uid", token.UID, "error", err)
		return MigrationResult{Outcome: MigrationSkipped},
			StoreError(ErrStoreTransient, err, map[string]any{"uid": token.UID, "step": "lookup"})
	}

	if current.Exists {
		if !current.Active() {
			m.inactive(ctx, token, current.ID)
			return MigrationResult{Outcome: MigrationExisting}, NewCodeError(CodeAccountDisabled, nil)
		}
		res := MigrationResult{Outcome: MigrationExisting}
		legacy, err := m.legacyDocuments(ctx, token)
		if err != nil {
			// Cleanup waits for the next sign in.
			m.logger.Warn("legacy profile lookup failed", "uid", token.UID, "error", err)
			return res, nil
		}
		res.LegacyIDs = ids(legacy)
		res.Deleted = m.cleanup(ctx, token, legacy)
		return res, nil
	}

	legacy, err := m.legacyDocuments(ctx, token)
	if err != nil {
		return MigrationResult{Outcome: MigrationSkipped},
			StoreError(ErrStoreTransient, err, map[string]any{"uid": token.UID, "step": "legacy_lookup"})
	}
	if len(legacy) == 0 {
		return MigrationResult{Outcome: MigrationAbsent}, nil
	}

	res := MigrationResult{Outcome: MigrationMigrated, LegacyIDs: ids(legacy)}
	for _, doc := range legacy {
		if !doc.Active() {
			m.inactive(ctx, token, doc.ID)
			res.Outcome = MigrationAbsent
			return res, NewCodeError(CodeAccountDisabled, nil)
		}
	}

	data := m.migratedDocument(token, legacy)
	if err := m.store.Set(ctx, token.UID, data); err != nil {
		return res, StoreError(ErrStoreTransient, err, map[string]any{"uid": token.UID, "step": "migrate_write"})
	}

	// Deletes only start after the uid document is written.
	res.Deleted = m.cleanup(ctx, token, legacy)

	recordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
		EventType: ActivityEventProfileMigrated,
		UserID:    token.UID,
		Email:     token.Email,
		Metadata: map[string]any{
			"legacy_ids": res.LegacyIDs,
			"deleted":    res.Deleted,
		},
	})
	return res, nil
}

// legacyDocuments returns every document that may hold the profile for the
// token's email. Any read failure other than not found is returned, since a
// missed inactive document would let the account in.
func (m *Migrator) legacyDocuments(ctx context.Context, token IdentityToken) ([]Document, error) {
	email := NormalizeEmail(token.Email)
	if email == "" {
		return nil, nil
	}

	seen := map[string]struct{}{token.UID: {}}
	var out []Document
	add := func(doc Document) {
		if !doc.Exists || doc.ID == "" {
			return
		}
		if _, ok := seen[doc.ID]; ok {
			return
		}
		seen[doc.ID] = struct{}{}
		out = append(out, doc)
	}

	queries := []string{email}
	if token.Email != "" && token.Email != email {
		queries = append(queries, token.Email)
	}
	for _, q := range queries {
		docs, err := m.store.FindByEmail(ctx, q)
		if err != nil {
			return nil, err
		}
		for _, doc := range docs {
			add(doc)
		}
	}

	for _, id := range LegacyDocumentIDs(email) {
		doc, err := m.store.Get(ctx, id)
		if err != nil {
			if IsProfileNotFound(err) {
				continue
			}
			return nil, err
		}
		add(doc)
	}
	return out, nil
}

// migratedDocument carries every legacy field over and refreshes the
// identity fields. Earlier documents win on conflicts.
func (m *Migrator) migratedDocument(token IdentityToken, legacy []Document) map[string]any {
	data := map[string]any{}
	for i := len(legacy) - 1; i >= 0; i-- {
		maps.Copy(data, legacy[i].Data)
	}
	data[FieldUID] = token.UID
	if token.Email != "" {
		data[FieldEmail] = token.Email
	}
	if token.DisplayName != "" {
		data[FieldDisplayName] = token.DisplayName
	}
	if token.PhotoURL != "" {
		data[FieldPhotoURL] = token.PhotoURL
	}
	now := m.now().UTC()
	if _, ok := data[FieldCreatedAt]; !ok {
		data[FieldCreatedAt] = now
	}
	data[FieldLastLogin] = now
	return data
}

// cleanup deletes legacy documents one at a time. Failures leave a stale
// duplicate behind and are only logged.
func (m *Migrator) cleanup(ctx context.Context, token IdentityToken, legacy []Document) []string {
	var deleted []string
	for _, doc := range legacy {
		if doc.ID == token.UID {
			continue
		}
		if err := m.store.Delete(ctx, doc.ID); err != nil {
			m.logger.Warn("legacy profile delete failed", "id", doc.ID, "uid", token.UID, "error", err)
			continue
		}
		deleted = append(deleted, doc.ID)
	}
	return deleted
}

func (m *Migrator) inactive(ctx context.Context, token IdentityToken, docID string) {
	m.logger.Info("inactive account blocked", "uid", token.UID, "doc", docID)
	recordActivity(ctx, m.activitySink, m.logger, ActivityEvent{
		EventType: ActivityEventAccountInactive,
		UserID:    token.UID,
		Email:     token.Email,
		Metadata:  map[string]any{"doc_id": docID},
	})
}

func ids(docs []Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}
