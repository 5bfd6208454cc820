package rbac

import (
	"context"
	"errors"
	"sort"
	"time"
)

// Resolver answers effective-permission questions with deny-override
// semantics: an unexpired denial on the subject defeats every grant from any
// source; otherwise any valid direct grant or valid grant on an active
// assigned role suffices.
type Resolver struct {
	store Store
	now   func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source.
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AssignRole gives the subject a role.
func (r *Resolver) AssignRole(ctx context.Context, subjectID, roleID, assignedBy string) error {
	role, err := r.store.Find(ctx, roleID)
	if err != nil {
		return err
	}
	if role.Status == RoleStatusDeleted {
		return ErrInvalidState
	}
	return r.store.InsertAssignment(ctx, &Assignment{
		SubjectID:  subjectID,
		RoleID:     roleID,
		AssignedBy: assignedBy,
		AssignedAt: r.now().UTC(),
	})
}

// UnassignRole removes a role from the subject.
func (r *Resolver) UnassignRole(ctx context.Context, subjectID, roleID string) error {
	return r.store.DeleteAssignment(ctx, subjectID, roleID)
}

// HasEffectivePermission reports whether the subject may perform the
// permission identified by its resource:action key right now. An unknown
// permission resolves to false without error.
func (r *Resolver) HasEffectivePermission(ctx context.Context, subjectID, key string) (bool, error) {
	perm, err := r.store.FindPermissionByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	now := r.now().UTC()

	// Denials are checked first and are absolute.
	userGrant, err := r.store.FindUserGrant(ctx, subjectID, perm.ID)
	switch {
	case err == nil:
		if userGrant.DeniesAt(now) {
			return false, nil
		}
		if userGrant.IsValid(now) {
			return true, nil
		}
	case !errors.Is(err, ErrNotFound):
		return false, err
	}

	assignments, err := r.store.ListAssignments(ctx, subjectID)
	if err != nil {
		return false, err
	}
	for _, a := range assignments {
		role, err := r.store.Find(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return false, err
		}
		if role.Status != RoleStatusActive {
			continue
		}
		grant, err := r.store.FindRoleGrant(ctx, role.ID, perm.ID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return false, err
		}
		if grant.IsValid(now) {
			return true, nil
		}
	}
	return false, nil
}

// EffectivePermissions returns the sorted resource:action keys the subject
// currently holds, after deny-override.
func (r *Resolver) EffectivePermissions(ctx context.Context, subjectID string) ([]string, error) {
	now := r.now().UTC()
	denied := make(map[string]bool)
	granted := make(map[string]bool)

	userGrants, err := r.store.ListUserGrants(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for _, g := range userGrants {
		if g.DeniesAt(now) {
			denied[g.PermissionID] = true
		} else if g.IsValid(now) {
			granted[g.PermissionID] = true
		}
	}

	assignments, err := r.store.ListAssignments(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	for _, a := range assignments {
		role, err := r.store.Find(ctx, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		if role.Status != RoleStatusActive {
			continue
		}
		grants, err := r.store.ListRoleGrants(ctx, role.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range grants {
			if g.IsValid(now) {
				granted[g.PermissionID] = true
			}
		}
	}

	keys := make([]string, 0, len(granted))
	for id := range granted {
		if denied[id] {
			continue
		}
		perm, err := r.store.FindPermission(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		keys = append(keys, perm.Key())
	}
	sort.Strings(keys)
	return keys, nil
}
