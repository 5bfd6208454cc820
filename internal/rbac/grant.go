package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentra.org/internal/audit"
	"sentra.org/internal/ids"
)

// Provenance records where a grant came from. It is one of three shapes:
// direct, inherited from a role, or inherited from another user.
type Provenance struct {
	kind     string
	sourceID string
}

const (
	provenanceDirect        = "direct"
	provenanceInheritedRole = "inherited_role"
	provenanceInheritedUser = "inherited_user"
)

// Direct marks a grant made explicitly to the holder.
func Direct() Provenance {
	return Provenance{kind: provenanceDirect}
}

// InheritedFromRole marks a grant materialized from a role's grant.
func InheritedFromRole(roleID string) Provenance {
	return Provenance{kind: provenanceInheritedRole, sourceID: roleID}
}

// InheritedFromUser marks a grant copied from another user.
func InheritedFromUser(userID string) Provenance {
	return Provenance{kind: provenanceInheritedUser, sourceID: userID}
}

// Kind returns the provenance discriminator: "direct", "inherited_role" or
// "inherited_user". The zero value reads as direct.
func (p Provenance) Kind() string {
	if p.kind == "" {
		return provenanceDirect
	}
	return p.kind
}

// Inherited reports whether the grant was not made directly.
func (p Provenance) Inherited() bool {
	return p.Kind() != provenanceDirect
}

// ProvenanceFrom reconstructs a Provenance from its stored representation.
// Unknown kinds read as direct.
func ProvenanceFrom(kind, sourceID string) Provenance {
	switch kind {
	case provenanceInheritedRole, provenanceInheritedUser:
		return Provenance{kind: kind, sourceID: sourceID}
	default:
		return Direct()
	}
}

// Source returns the originating role or user ID, empty for direct grants.
func (p Provenance) Source() string { return p.sourceID }

// SourceRole returns the originating role ID, if any.
func (p Provenance) SourceRole() (string, bool) {
	if p.kind == provenanceInheritedRole {
		return p.sourceID, true
	}
	return "", false
}

// SourceUser returns the originating user ID, if any.
func (p Provenance) SourceUser() (string, bool) {
	if p.kind == provenanceInheritedUser {
		return p.sourceID, true
	}
	return "", false
}

// RolePermission grants a permission to a role. A nil ExpiresAt means the
// grant does not expire.
type RolePermission struct {
	ID           string
	RoleID       string
	PermissionID string
	GrantedBy    string
	GrantedAt    time.Time
	GrantReason  string
	ExpiresAt    *time.Time
	Active       bool
	Origin       Provenance
	Version      int64
}

// IsExpired reports whether the grant's expiry, if set, has passed.
func (g *RolePermission) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// IsValid reports whether the grant contributes to resolution at the given
// instant.
func (g *RolePermission) IsValid(now time.Time) bool {
	return g.Active && !g.IsExpired(now)
}

// UserPermission grants or denies a permission to a subject directly. A
// denial is an inactive grant with Denied set; it wins over every role grant.
type UserPermission struct {
	ID           string
	SubjectID    string
	PermissionID string
	GrantedBy    string
	GrantedAt    time.Time
	GrantReason  string
	ExpiresAt    *time.Time
	Active       bool
	Denied       bool
	DenyReason   string
	Origin       Provenance
	Version      int64
}

// IsExpired reports whether the grant's expiry, if set, has passed.
func (g *UserPermission) IsExpired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// IsValid reports whether the grant positively contributes at the instant.
// Denied or expired grants never do.
func (g *UserPermission) IsValid(now time.Time) bool {
	return g.Active && !g.Denied && !g.IsExpired(now)
}

// DeniesAt reports whether the record blocks the permission at the instant.
// An expired denial no longer blocks.
func (g *UserPermission) DeniesAt(now time.Time) bool {
	return g.Denied && !g.IsExpired(now)
}

// Grants provides the grant and denial operations over a Store.
type Grants struct {
	store Store
	sink  audit.Sink
	now   func() time.Time
}

// GrantsOption configures a Grants service.
type GrantsOption func(*Grants)

// WithGrantsClock overrides the time source.
func WithGrantsClock(fn func() time.Time) GrantsOption {
	return func(g *Grants) {
		if fn != nil {
			g.now = fn
		}
	}
}

// WithGrantsAudit sets the sink receiving grant lifecycle events.
func WithGrantsAudit(sink audit.Sink) GrantsOption {
	return func(g *Grants) {
		if sink != nil {
			g.sink = sink
		}
	}
}

// NewGrants constructs a Grants service over the given store.
func NewGrants(store Store, opts ...GrantsOption) *Grants {
	g := &Grants{store: store, sink: audit.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Grants) validateExpiry(grantedAt time.Time, expiresAt *time.Time) error {
	if expiresAt != nil && !expiresAt.After(grantedAt) {
		return fmt.Errorf("%w: expiry must be after grant time", ErrInvalidInput)
	}
	return nil
}

// EnsurePermission registers the permission key if it is not already in the
// catalog and returns it.
func (g *Grants) EnsurePermission(ctx context.Context, resource, action, description string) (*Permission, error) {
	resource = strings.TrimSpace(resource)
	action = strings.TrimSpace(action)
	if resource == "" || action == "" {
		return nil, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	key := resource + ":" + action
	if p, err := g.store.FindPermissionByKey(ctx, key); err == nil {
		return p, nil
	}
	p := &Permission{
		ID:          ids.New(),
		Resource:    resource,
		Action:      action,
		Description: description,
		CreatedAt:   g.now().UTC(),
	}
	if err := g.store.InsertPermission(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// GrantToRole grants a permission to a role. Re-granting an existing valid
// grant is rejected.
func (g *Grants) GrantToRole(ctx context.Context, roleID, permissionID, grantedBy, reason string, expiresAt *time.Time, origin Provenance) (*RolePermission, error) {
	if roleID == "" || permissionID == "" {
		return nil, fmt.Errorf("%w: role and permission ids are required", ErrInvalidInput)
	}
	now := g.now().UTC()
	if err := g.validateExpiry(now, expiresAt); err != nil {
		return nil, err
	}
	if existing, err := g.store.FindRoleGrant(ctx, roleID, permissionID); err == nil {
		if existing.IsValid(now) {
			return nil, fmt.Errorf("%w: permission already granted to role", ErrInvalidState)
		}
		// Lapsed or revoked grant: refresh the row in place.
		existing.GrantedBy = grantedBy
		existing.GrantedAt = now
		existing.GrantReason = reason
		existing.ExpiresAt = expiresAt
		existing.Active = true
		existing.Origin = origin
		if err := g.store.UpdateRoleGrant(ctx, existing); err != nil {
			return nil, err
		}
		return existing, nil
	}
	grant := &RolePermission{
		ID:           ids.New(),
		RoleID:       roleID,
		PermissionID: permissionID,
		GrantedBy:    grantedBy,
		GrantedAt:    now,
		GrantReason:  reason,
		ExpiresAt:    expiresAt,
		Active:       true,
		Origin:       origin,
	}
	if err := g.store.InsertRoleGrant(ctx, grant); err != nil {
		return nil, err
	}
	g.sink.Record(ctx, "grant.role", map[string]any{
		"role_id":       roleID,
		"permission_id": permissionID,
		"granted_by":    grantedBy,
	})
	return grant, nil
}

// GrantToUser grants a permission directly to a subject.
func (g *Grants) GrantToUser(ctx context.Context, subjectID, permissionID, grantedBy, reason string, expiresAt *time.Time, origin Provenance) (*UserPermission, error) {
	if subjectID == "" || permissionID == "" {
		return nil, fmt.Errorf("%w: subject and permission ids are required", ErrInvalidInput)
	}
	now := g.now().UTC()
	if err := g.validateExpiry(now, expiresAt); err != nil {
		return nil, err
	}
	if existing, err := g.store.FindUserGrant(ctx, subjectID, permissionID); err == nil {
		if existing.IsValid(now) {
			return nil, fmt.Errorf("%w: permission already granted to subject", ErrInvalidState)
		}
		if existing.DeniesAt(now) {
			return nil, fmt.Errorf("%w: permission is denied; clear the denial first", ErrInvalidState)
		}
		existing.GrantedBy = grantedBy
		existing.GrantedAt = now
		existing.GrantReason = reason
		existing.ExpiresAt = expiresAt
		existing.Active = true
		existing.Origin = origin
		if err := g.store.UpdateUserGrant(ctx, existing); err != nil {
			return nil, err
		}
		g.sink.Record(ctx, "grant.user", map[string]any{
			"subject_id":    subjectID,
			"permission_id": permissionID,
			"granted_by":    grantedBy,
		})
		return existing, nil
	}
	grant := &UserPermission{
		ID:           ids.New(),
		SubjectID:    subjectID,
		PermissionID: permissionID,
		GrantedBy:    grantedBy,
		GrantedAt:    now,
		GrantReason:  reason,
		ExpiresAt:    expiresAt,
		Active:       true,
		Origin:       origin,
	}
	if err := g.store.InsertUserGrant(ctx, grant); err != nil {
		return nil, err
	}
	g.sink.Record(ctx, "grant.user", map[string]any{
		"subject_id":    subjectID,
		"permission_id": permissionID,
		"granted_by":    grantedBy,
	})
	return grant, nil
}

// DenyToUser records an explicit denial of the permission for the subject.
// If the subject holds a grant it is turned into the denial; otherwise a
// standalone denial record is created. Denying an already-denied permission
// is rejected.
func (g *Grants) DenyToUser(ctx context.Context, subjectID, permissionID, deniedBy, reason string) (*UserPermission, error) {
	if subjectID == "" || permissionID == "" {
		return nil, fmt.Errorf("%w: subject and permission ids are required", ErrInvalidInput)
	}
	now := g.now().UTC()
	existing, err := g.store.FindUserGrant(ctx, subjectID, permissionID)
	switch {
	case err == nil:
		if existing.Denied {
			return nil, fmt.Errorf("%w: permission already denied", ErrInvalidState)
		}
		existing.Active = false
		existing.Denied = true
		existing.DenyReason = reason
		if err := g.store.UpdateUserGrant(ctx, existing); err != nil {
			return nil, err
		}
		g.recordDenial(ctx, subjectID, permissionID, deniedBy, reason)
		return existing, nil
	case errors.Is(err, ErrNotFound):
		denial := &UserPermission{
			ID:           ids.New(),
			SubjectID:    subjectID,
			PermissionID: permissionID,
			GrantedBy:    deniedBy,
			GrantedAt:    now,
			Active:       false,
			Denied:       true,
			DenyReason:   reason,
			Origin:       Direct(),
		}
		if err := g.store.InsertUserGrant(ctx, denial); err != nil {
			return nil, err
		}
		g.recordDenial(ctx, subjectID, permissionID, deniedBy, reason)
		return denial, nil
	default:
		return nil, err
	}
}

func (g *Grants) recordDenial(ctx context.Context, subjectID, permissionID, deniedBy, reason string) {
	g.sink.Record(ctx, "grant.denied", map[string]any{
		"subject_id":    subjectID,
		"permission_id": permissionID,
		"denied_by":     deniedBy,
		"reason":        reason,
	})
}

// ClearDenial lifts a denial, restoring the grant to active if it existed
// before the denial.
func (g *Grants) ClearDenial(ctx context.Context, subjectID, permissionID string) error {
	grant, err := g.store.FindUserGrant(ctx, subjectID, permissionID)
	if err != nil {
		return err
	}
	if !grant.Denied {
		return fmt.Errorf("%w: permission is not denied", ErrInvalidState)
	}
	grant.Denied = false
	grant.DenyReason = ""
	grant.Active = true
	return g.store.UpdateUserGrant(ctx, grant)
}

// ExtendRoleGrant pushes a role grant's expiry to a later instant.
func (g *Grants) ExtendRoleGrant(ctx context.Context, roleID, permissionID string, until time.Time) error {
	grant, err := g.store.FindRoleGrant(ctx, roleID, permissionID)
	if err != nil {
		return err
	}
	now := g.now().UTC()
	if !until.After(now) {
		return fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	u := until.UTC()
	grant.ExpiresAt = &u
	return g.store.UpdateRoleGrant(ctx, grant)
}

// ExtendUserGrant pushes a user grant's expiry to a later instant.
func (g *Grants) ExtendUserGrant(ctx context.Context, subjectID, permissionID string, until time.Time) error {
	grant, err := g.store.FindUserGrant(ctx, subjectID, permissionID)
	if err != nil {
		return err
	}
	now := g.now().UTC()
	if !until.After(now) {
		return fmt.Errorf("%w: expiry must be in the future", ErrInvalidInput)
	}
	u := until.UTC()
	grant.ExpiresAt = &u
	return g.store.UpdateUserGrant(ctx, grant)
}

// MakeRoleGrantPermanent removes the expiry from a role grant.
func (g *Grants) MakeRoleGrantPermanent(ctx context.Context, roleID, permissionID string) error {
	grant, err := g.store.FindRoleGrant(ctx, roleID, permissionID)
	if err != nil {
		return err
	}
	grant.ExpiresAt = nil
	return g.store.UpdateRoleGrant(ctx, grant)
}

// MakeUserGrantPermanent removes the expiry from a user grant.
func (g *Grants) MakeUserGrantPermanent(ctx context.Context, subjectID, permissionID string) error {
	grant, err := g.store.FindUserGrant(ctx, subjectID, permissionID)
	if err != nil {
		return err
	}
	grant.ExpiresAt = nil
	return g.store.UpdateUserGrant(ctx, grant)
}

// RevokeFromRole deactivates a role grant.
func (g *Grants) RevokeFromRole(ctx context.Context, roleID, permissionID string) error {
	grant, err := g.store.FindRoleGrant(ctx, roleID, permissionID)
	if err != nil {
		return err
	}
	if !grant.Active {
		return fmt.Errorf("%w: grant is not active", ErrInvalidState)
	}
	grant.Active = false
	return g.store.UpdateRoleGrant(ctx, grant)
}

// RevokeFromUser deactivates a user grant without recording a denial.
func (g *Grants) RevokeFromUser(ctx context.Context, subjectID, permissionID string) error {
	grant, err := g.store.FindUserGrant(ctx, subjectID, permissionID)
	if err != nil {
		return err
	}
	if !grant.Active {
		return fmt.Errorf("%w: grant is not active", ErrInvalidState)
	}
	grant.Active = false
	return g.store.UpdateUserGrant(ctx, grant)
}

// ActivateRoleGrant restores an inactive role grant.
func (g *Grants) ActivateRoleGrant(ctx context.Context, roleID, permissionID string) error {
	grant, err := g.store.FindRoleGrant(ctx, roleID, permissionID)
	if err != nil {
		return err
	}
	if grant.Active {
		return fmt.Errorf("%w: grant already active", ErrInvalidState)
	}
	grant.Active = true
	return g.store.UpdateRoleGrant(ctx, grant)
}

// ActivateUserGrant restores an inactive user grant. A denied grant must have
// its denial cleared instead.
func (g *Grants) ActivateUserGrant(ctx context.Context, subjectID, permissionID string) error {
	grant, err := g.store.FindUserGrant(ctx, subjectID, permissionID)
	if err != nil {
		return err
	}
	if grant.Denied {
		return fmt.Errorf("%w: permission is denied; clear the denial first", ErrInvalidState)
	}
	if grant.Active {
		return fmt.Errorf("%w: grant already active", ErrInvalidState)
	}
	grant.Active = true
	return g.store.UpdateUserGrant(ctx, grant)
}

// PropagateToRole copies every valid grant of srcRoleID onto dstRoleID with
// inherited provenance. Grants dstRoleID already validly holds are skipped.
func (g *Grants) PropagateToRole(ctx context.Context, srcRoleID, dstRoleID, grantedBy string) (int, error) {
	src, err := g.store.ListRoleGrants(ctx, srcRoleID)
	if err != nil {
		return 0, err
	}
	now := g.now().UTC()
	copied := 0
	for _, grant := range src {
		if !grant.IsValid(now) {
			continue
		}
		if existing, err := g.store.FindRoleGrant(ctx, dstRoleID, grant.PermissionID); err == nil && existing.IsValid(now) {
			continue
		}
		if _, err := g.GrantToRole(ctx, dstRoleID, grant.PermissionID, grantedBy, grant.GrantReason, grant.ExpiresAt, InheritedFromRole(srcRoleID)); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}

// InheritUserGrants copies every valid direct grant of srcSubjectID onto
// dstSubjectID with inherited provenance. Denials are never copied.
func (g *Grants) InheritUserGrants(ctx context.Context, srcSubjectID, dstSubjectID, grantedBy string) (int, error) {
	src, err := g.store.ListUserGrants(ctx, srcSubjectID)
	if err != nil {
		return 0, err
	}
	now := g.now().UTC()
	copied := 0
	for _, grant := range src {
		if !grant.IsValid(now) {
			continue
		}
		if existing, err := g.store.FindUserGrant(ctx, dstSubjectID, grant.PermissionID); err == nil && existing.IsValid(now) {
			continue
		}
		if _, err := g.GrantToUser(ctx, dstSubjectID, grant.PermissionID, grantedBy, grant.GrantReason, grant.ExpiresAt, InheritedFromUser(srcSubjectID)); err != nil {
			return copied, err
		}
		copied++
	}
	return copied, nil
}
