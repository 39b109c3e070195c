package auth

import (
	"maps"
	"strings"
	"time"
)

// Profile document field names.
const (
	FieldUID         = "uid"
	FieldEmail       = "email"
	FieldDisplayName = "displayName"
	FieldPhotoURL    = "photoURL"
	FieldRole        = "role"
	FieldActive      = "active"
	FieldCreatedAt   = "createdAt"
	FieldLastLogin   = "lastLogin"
)

var modelledFields = map[string]struct{}{
	FieldUID:         {},
	FieldEmail:       {},
	FieldDisplayName: {},
	FieldPhotoURL:    {},
	FieldRole:        {},
	FieldActive:      {},
	FieldCreatedAt:   {},
	FieldLastLogin:   {},
}

// IdentityToken is the minimal claim the identity provider makes about the
// current user. Treat it as a value; it is never mutated.
type IdentityToken struct {
	UID         string         `json:"uid"`
	Email       string         `json:"email"`
	DisplayName string         `json:"displayName"`
	PhotoURL    string         `json:"photoURL,omitempty"`
	ProviderID  string         `json:"providerId,omitempty"`
	Claims      map[string]any `json:"claims,omitempty"`
}

// ClaimedRole returns the role carried in provider custom claims, or RoleUnknown.
func (t IdentityToken) ClaimedRole() Role {
	if t.Claims == nil {
		return RoleUnknown
	}
	raw, _ := t.Claims[FieldRole].(string)
	return ParseRole(raw)
}

// ProfileSource tells where a published profile came from.
type ProfileSource string

const (
	SourceStored      ProfileSource = "stored"
	SourceSynthesized ProfileSource = "synthesized"
	SourceFallback    ProfileSource = "fallback"
)

// UserProfile is the authoritative, role and status bearing user record.
type UserProfile struct {
	UID         string         `json:"uid" firestore:"uid"`
	DocID       string         `json:"docId" firestore:"-"`
	Email       string         `json:"email" firestore:"email"`
	DisplayName string         `json:"displayName" firestore:"displayName"`
	PhotoURL    string         `json:"photoURL,omitempty" firestore:"photoURL,omitempty"`
	Role        Role           `json:"role" firestore:"role"`
	Active      bool           `json:"active" firestore:"active"`
	CreatedAt   *time.Time     `json:"createdAt,omitempty" firestore:"createdAt,omitempty"`
	LastLogin   *time.Time     `json:"lastLogin,omitempty" firestore:"lastLogin,omitempty"`
	Legacy      map[string]any `json:"legacy,omitempty" firestore:"-"`
	Source      ProfileSource  `json:"source" firestore:"-"`
}

// Clone returns a deep enough copy for publishing to readers.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	out := *p
	if p.Legacy != nil {
		out.Legacy = maps.Clone(p.Legacy)
	}
	if p.CreatedAt != nil {
		t := *p.CreatedAt
		out.CreatedAt = &t
	}
	if p.LastLogin != nil {
		t := *p.LastLogin
		out.LastLogin = &t
	}
	return &out
}

// Document is a raw profile document as held by the ProfileStore.
type Document struct {
	ID     string
	Data   map[string]any
	Exists bool
}

// String returns a field as string, empty when missing.
func (d Document) String(field string) string {
	if d.Data == nil {
		return ""
	}
	s, _ := d.Data[field].(string)
	return s
}

// Active reads the active flag. Documents without the flag are active.
func (d Document) Active() bool {
	if d.Data == nil {
		return true
	}
	v, ok := d.Data[FieldActive]
	if !ok || v == nil {
		return true
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return !strings.EqualFold(b, "false")
	case int64:
		return b != 0
	case float64:
		return b != 0
	}
	return true
}

// ProfileFromDocument maps a stored document to a UserProfile. Unknown fields
// are kept in Legacy.
func ProfileFromDocument(doc Document) *UserProfile {
	p := &UserProfile{
		UID:         doc.String(FieldUID),
		DocID:       doc.ID,
		Email:       doc.String(FieldEmail),
		DisplayName: doc.String(FieldDisplayName),
		PhotoURL:    doc.String(FieldPhotoURL),
		Role:        ParseRole(doc.String(FieldRole)),
		Active:      doc.Active(),
		CreatedAt:   toTime(doc.Data[FieldCreatedAt]),
		LastLogin:   toTime(doc.Data[FieldLastLogin]),
		Source:      SourceStored,
	}
	for k, v := range doc.Data {
		if _, ok := modelledFields[k]; ok {
			continue
		}
		if p.Legacy == nil {
			p.Legacy = map[string]any{}
		}
		p.Legacy[k] = v
	}
	return p
}

// ProfileFromToken builds the fallback profile used when the profile store
// cannot be read.
func ProfileFromToken(token IdentityToken) *UserProfile {
	return &UserProfile{
		UID:         token.UID,
		DocID:       token.UID,
		Email:       token.Email,
		DisplayName: token.DisplayName,
		PhotoURL:    token.PhotoURL,
		Role:        token.ClaimedRole(),
		Active:      true,
		Source:      SourceFallback,
	}
}

// SynthesizedDocument is the minimal document written for a first sign-in
// without any stored profile. The active flag is left to administrators; an
// unset flag reads as active.
func SynthesizedDocument(token IdentityToken, now time.Time) map[string]any {
	data := map[string]any{
		FieldUID:         token.UID,
		FieldEmail:       token.Email,
		FieldDisplayName: token.DisplayName,
		FieldRole:        string(token.ClaimedRole()),
		FieldCreatedAt:   now,
		FieldLastLogin:   now,
	}
	if token.PhotoURL != "" {
		data[FieldPhotoURL] = token.PhotoURL
	}
	return data
}

// NormalizeEmail lower cases and trims an email for comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func toTime(v any) *time.Time {
	switch t := v.(type) {
	case time.Time:
		if t.IsZero() {
			return nil
		}
		return &t
	case *time.Time:
		if t == nil || t.IsZero() {
			return nil
		}
		c := *t
		return &c
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return nil
		}
		return &parsed
	}
	return nil
}
