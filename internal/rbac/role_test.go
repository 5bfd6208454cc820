package rbac

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestHierarchy(t *testing.T) (*Hierarchy, Store) {
	t.Helper()
	store := NewInMemory()
	clock := func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return NewHierarchy(store, WithHierarchyClock(clock)), store
}

func TestCreateRoleValidation(t *testing.T) {
	h, _ := newTestHierarchy(t)
	ctx := context.Background()

	if _, err := h.CreateCustomRole(ctx, "  ", "", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("blank name: got %v", err)
	}
	role, err := h.CreateCustomRole(ctx, "editor", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if role.Status != RoleStatusActive || role.Type != RoleTypeCustom {
		t.Fatalf("unexpected role: %+v", role)
	}
	if role.DisplayName != "editor" {
		t.Fatalf("display name not defaulted: %q", role.DisplayName)
	}
	if _, err := h.CreateCustomRole(ctx, "editor", "", 0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("duplicate name: got %v", err)
	}
}

func TestBuiltinRoleProtections(t *testing.T) {
	h, _ := newTestHierarchy(t)
	ctx := context.Background()

	sys, err := h.CreateSystemRole(ctx, "admin", "Administrator", 100)
	if err != nil {
		t.Fatal(err)
	}
	def, err := h.CreateDefaultRole(ctx, "member", "Member", 1)
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{sys.ID, def.ID} {
		if err := h.Rename(ctx, id, "other", ""); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("rename builtin: got %v", err)
		}
		if err := h.Deactivate(ctx, id); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("deactivate builtin: got %v", err)
		}
		if err := h.Delete(ctx, id); !errors.Is(err, ErrInvalidState) {
			t.Fatalf("delete builtin: got %v", err)
		}
	}
}

func TestDeleteGuards(t *testing.T) {
	h, _ := newTestHierarchy(t)
	ctx := context.Background()

	parent, _ := h.CreateCustomRole(ctx, "parent", "", 0)
	child, _ := h.CreateCustomRole(ctx, "child", "", 0)
	if err := h.SetParent(ctx, child.ID, parent.ID); err != nil {
		t.Fatal(err)
	}

	if err := h.Delete(ctx, parent.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("delete role with children: got %v", err)
	}
	if err := h.Delete(ctx, child.ID); err != nil {
		t.Fatalf("delete leaf: %v", err)
	}
	if err := h.Delete(ctx, parent.ID); err != nil {
		t.Fatalf("delete parent after child removed: %v", err)
	}
	got, err := h.Find(ctx, parent.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != RoleStatusDeleted {
		t.Fatalf("expected soft delete, got %s", got.Status)
	}
}

func TestCycleRejectionLeavesHierarchyUnchanged(t *testing.T) {
	h, _ := newTestHierarchy(t)
	ctx := context.Background()

	a, _ := h.CreateCustomRole(ctx, "a", "", 0)
	b, _ := h.CreateCustomRole(ctx, "b", "", 0)
	c, _ := h.CreateCustomRole(ctx, "c", "", 0)
	if err := h.SetParent(ctx, b.ID, a.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.SetParent(ctx, c.ID, b.ID); err != nil {
		t.Fatal(err)
	}

	// a <- b <- c; attaching c (or b) above a would close the loop.
	if err := h.SetParent(ctx, a.ID, c.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cycle via grandchild: got %v", err)
	}
	if err := h.SetParent(ctx, a.ID, b.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("cycle via child: got %v", err)
	}
	if err := h.SetParent(ctx, a.ID, a.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("self parent: got %v", err)
	}

	got, err := h.Find(ctx, a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ParentID != "" {
		t.Fatalf("hierarchy mutated by rejected reparent: parent=%q", got.ParentID)
	}
}

func TestTreeQueries(t *testing.T) {
	h, _ := newTestHierarchy(t)
	ctx := context.Background()

	root, _ := h.CreateCustomRole(ctx, "root", "", 0)
	mid, _ := h.CreateCustomRole(ctx, "mid", "", 0)
	leaf1, _ := h.CreateCustomRole(ctx, "leaf1", "", 0)
	leaf2, _ := h.CreateCustomRole(ctx, "leaf2", "", 0)
	if err := h.AddChild(ctx, root.ID, mid.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.AddChild(ctx, mid.ID, leaf1.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.AddChild(ctx, mid.ID, leaf2.ID); err != nil {
		t.Fatal(err)
	}

	depth, err := h.Depth(ctx, leaf1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 2 {
		t.Fatalf("depth %d, want 2", depth)
	}

	anc, err := h.Ancestors(ctx, leaf1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(anc) != 2 || anc[0].ID != mid.ID || anc[1].ID != root.ID {
		t.Fatalf("unexpected ancestors: %+v", anc)
	}

	desc, err := h.Descendants(ctx, root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(desc) != 3 {
		t.Fatalf("descendant count %d, want 3", len(desc))
	}

	sib, err := h.Siblings(ctx, leaf1.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(sib) != 1 || sib[0].ID != leaf2.ID {
		t.Fatalf("unexpected siblings: %+v", sib)
	}

	if err := h.RemoveChild(ctx, mid.ID, leaf2.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.RemoveChild(ctx, mid.ID, leaf2.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("remove detached child: got %v", err)
	}
}

func TestActivateDeactivateCycle(t *testing.T) {
	h, _ := newTestHierarchy(t)
	ctx := context.Background()

	role, _ := h.CreateCustomRole(ctx, "ops", "", 0)
	if err := h.Activate(ctx, role.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("activate active role: got %v", err)
	}
	if err := h.Deactivate(ctx, role.ID); err != nil {
		t.Fatal(err)
	}
	if err := h.Deactivate(ctx, role.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("deactivate twice: got %v", err)
	}
	if err := h.Activate(ctx, role.ID); err != nil {
		t.Fatal(err)
	}
	got, _ := h.Find(ctx, role.ID)
	if got.Status != RoleStatusActive {
		t.Fatalf("status %s, want active", got.Status)
	}
}
