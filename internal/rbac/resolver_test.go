package rbac

import (
	"context"
	"testing"
	"time"
)

type rbacFixture struct {
	store     Store
	hierarchy *Hierarchy
	grants    *Grants
	resolver  *Resolver
	advance   func(time.Duration)
}

func newRbacFixture(t *testing.T) *rbacFixture {
	t.Helper()
	store := NewInMemory()
	clock, advance := grantTestClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return &rbacFixture{
		store:     store,
		hierarchy: NewHierarchy(store, WithHierarchyClock(clock)),
		grants:    NewGrants(store, WithGrantsClock(clock)),
		resolver:  NewResolver(store, WithResolverClock(clock)),
		advance:   advance,
	}
}

func TestUnknownPermissionResolvesFalse(t *testing.T) {
	f := newRbacFixture(t)
	ok, err := f.resolver.HasEffectivePermission(context.Background(), "u1", "no:such")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("unknown permission resolved true")
	}
}

func TestDenyOverridesRoleGrant(t *testing.T) {
	f := newRbacFixture(t)
	ctx := context.Background()

	perm, err := f.grants.EnsurePermission(ctx, "articles", "publish", "")
	if err != nil {
		t.Fatal(err)
	}
	role, err := f.hierarchy.CreateCustomRole(ctx, "editor", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.grants.GrantToRole(ctx, role.ID, perm.ID, "admin", "", nil, Direct()); err != nil {
		t.Fatal(err)
	}
	if err := f.resolver.AssignRole(ctx, "u1", role.ID, "admin"); err != nil {
		t.Fatal(err)
	}

	ok, err := f.resolver.HasEffectivePermission(ctx, "u1", "articles:publish")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("role grant not effective")
	}

	// An explicit denial defeats the role grant even though the role still
	// holds the permission.
	if _, err := f.grants.DenyToUser(ctx, "u1", perm.ID, "secops", "policy violation"); err != nil {
		t.Fatal(err)
	}
	ok, err = f.resolver.HasEffectivePermission(ctx, "u1", "articles:publish")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("denial did not override role grant")
	}

	// Other subjects with the same role are unaffected.
	if err := f.resolver.AssignRole(ctx, "u2", role.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	ok, err = f.resolver.HasEffectivePermission(ctx, "u2", "articles:publish")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("denial leaked to another subject")
	}

	// Clearing the denial restores the role-derived permission.
	if err := f.grants.ClearDenial(ctx, "u1", perm.ID); err != nil {
		t.Fatal(err)
	}
	ok, err = f.resolver.HasEffectivePermission(ctx, "u1", "articles:publish")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("permission not restored after clearing denial")
	}
}

func TestInactiveRoleContributesNothing(t *testing.T) {
	f := newRbacFixture(t)
	ctx := context.Background()

	perm, _ := f.grants.EnsurePermission(ctx, "sessions", "manage", "")
	role, _ := f.hierarchy.CreateCustomRole(ctx, "ops", "", 10)
	if _, err := f.grants.GrantToRole(ctx, role.ID, perm.ID, "admin", "", nil, Direct()); err != nil {
		t.Fatal(err)
	}
	if err := f.resolver.AssignRole(ctx, "u1", role.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	if err := f.hierarchy.Deactivate(ctx, role.ID); err != nil {
		t.Fatal(err)
	}

	ok, err := f.resolver.HasEffectivePermission(ctx, "u1", "sessions:manage")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("inactive role still granted permissions")
	}
}

func TestExpiredGrantStopsResolving(t *testing.T) {
	f := newRbacFixture(t)
	ctx := context.Background()

	perm, _ := f.grants.EnsurePermission(ctx, "articles", "edit", "")
	until := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	if _, err := f.grants.GrantToUser(ctx, "u1", perm.ID, "admin", "", &until, Direct()); err != nil {
		t.Fatal(err)
	}

	ok, _ := f.resolver.HasEffectivePermission(ctx, "u1", "articles:edit")
	if !ok {
		t.Fatal("grant not effective before expiry")
	}
	f.advance(48 * time.Hour)
	ok, _ = f.resolver.HasEffectivePermission(ctx, "u1", "articles:edit")
	if ok {
		t.Fatal("expired grant still effective")
	}
}

func TestEffectivePermissionsSortedAndDeduplicated(t *testing.T) {
	f := newRbacFixture(t)
	ctx := context.Background()

	edit, _ := f.grants.EnsurePermission(ctx, "articles", "edit", "")
	pub, _ := f.grants.EnsurePermission(ctx, "articles", "publish", "")
	manage, _ := f.grants.EnsurePermission(ctx, "sessions", "manage", "")

	role, _ := f.hierarchy.CreateCustomRole(ctx, "editor", "", 10)
	if _, err := f.grants.GrantToRole(ctx, role.ID, edit.ID, "admin", "", nil, Direct()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.grants.GrantToRole(ctx, role.ID, pub.ID, "admin", "", nil, Direct()); err != nil {
		t.Fatal(err)
	}
	if err := f.resolver.AssignRole(ctx, "u1", role.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	// Direct grant overlapping the role grant must not duplicate.
	if _, err := f.grants.GrantToUser(ctx, "u1", edit.ID, "admin", "", nil, Direct()); err != nil {
		t.Fatal(err)
	}
	if _, err := f.grants.GrantToUser(ctx, "u1", manage.ID, "admin", "", nil, Direct()); err != nil {
		t.Fatal(err)
	}
	// Deny publish: it must drop out of the effective set.
	if _, err := f.grants.DenyToUser(ctx, "u1", pub.ID, "secops", "hold"); err != nil {
		t.Fatal(err)
	}

	keys, err := f.resolver.EffectivePermissions(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"articles:edit", "sessions:manage"}
	if len(keys) != len(want) {
		t.Fatalf("effective permissions %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("effective permissions %v, want %v", keys, want)
		}
	}
}

func TestUnassignRole(t *testing.T) {
	f := newRbacFixture(t)
	ctx := context.Background()

	perm, _ := f.grants.EnsurePermission(ctx, "tokens", "revoke", "")
	role, _ := f.hierarchy.CreateCustomRole(ctx, "secops", "", 50)
	if _, err := f.grants.GrantToRole(ctx, role.ID, perm.ID, "admin", "", nil, Direct()); err != nil {
		t.Fatal(err)
	}
	if err := f.resolver.AssignRole(ctx, "u1", role.ID, "admin"); err != nil {
		t.Fatal(err)
	}
	if err := f.resolver.UnassignRole(ctx, "u1", role.ID); err != nil {
		t.Fatal(err)
	}
	ok, err := f.resolver.HasEffectivePermission(ctx, "u1", "tokens:revoke")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("permission survives unassignment")
	}
}
