package rbac

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentra.org/internal/ids"
)

// RoleStatus is the soft lifecycle state of a role. Deleted roles are kept.
type RoleStatus string

const (
	RoleStatusActive   RoleStatus = "active"
	RoleStatusInactive RoleStatus = "inactive"
	RoleStatusDeleted  RoleStatus = "deleted"
)

// RoleType fixes a role's classification at creation and never changes.
type RoleType string

const (
	RoleTypeCustom  RoleType = "custom"
	RoleTypeSystem  RoleType = "system"
	RoleTypeDefault RoleType = "default"
)

// Role is a node in the hierarchy. Children are a derived query over
// ParentID, so the tree carries no owning references.
type Role struct {
	ID          string
	Name        string
	DisplayName string
	Description string
	Status      RoleStatus
	Type        RoleType
	Priority    int
	ParentID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Version     int64
}

// BuiltIn reports whether the role is exempt from rename/deactivate/delete.
func (r *Role) BuiltIn() bool {
	return r.Type == RoleTypeSystem || r.Type == RoleTypeDefault
}

// Hierarchy provides role lifecycle and tree operations over a RoleStore.
// The acyclicity invariant is enforced exclusively in SetParent; every read
// query relies on it and walks the tree with plain recursion.
type Hierarchy struct {
	store RoleStore
	now   func() time.Time
}

// HierarchyOption configures a Hierarchy.
type HierarchyOption func(*Hierarchy)

// WithHierarchyClock overrides the time source.
func WithHierarchyClock(fn func() time.Time) HierarchyOption {
	return func(h *Hierarchy) {
		if fn != nil {
			h.now = fn
		}
	}
}

// NewHierarchy constructs a Hierarchy over the given store.
func NewHierarchy(store RoleStore, opts ...HierarchyOption) *Hierarchy {
	h := &Hierarchy{store: store, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hierarchy) create(ctx context.Context, name, displayName string, typ RoleType, priority int) (*Role, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	if displayName == "" {
		displayName = name
	}
	now := h.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		DisplayName: displayName,
		Status:      RoleStatusActive,
		Type:        typ,
		Priority:    priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.store.Insert(ctx, role); err != nil {
		return nil, err
	}
	return role, nil
}

// CreateCustomRole creates an administrator-defined role.
func (h *Hierarchy) CreateCustomRole(ctx context.Context, name, displayName string, priority int) (*Role, error) {
	return h.create(ctx, name, displayName, RoleTypeCustom, priority)
}

// CreateSystemRole creates a built-in role owned by the platform.
func (h *Hierarchy) CreateSystemRole(ctx context.Context, name, displayName string, priority int) (*Role, error) {
	return h.create(ctx, name, displayName, RoleTypeSystem, priority)
}

// CreateDefaultRole creates the built-in role granted to new subjects.
func (h *Hierarchy) CreateDefaultRole(ctx context.Context, name, displayName string, priority int) (*Role, error) {
	return h.create(ctx, name, displayName, RoleTypeDefault, priority)
}

// Find loads a role by ID.
func (h *Hierarchy) Find(ctx context.Context, id string) (*Role, error) {
	return h.store.Find(ctx, id)
}

// Rename changes the role's name and display name. Built-in roles refuse.
func (h *Hierarchy) Rename(ctx context.Context, id, name, displayName string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	role, err := h.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if role.BuiltIn() {
		return fmt.Errorf("%w: built-in roles cannot be renamed", ErrInvalidState)
	}
	if role.Status == RoleStatusDeleted {
		return fmt.Errorf("%w: role is deleted", ErrInvalidState)
	}
	role.Name = name
	if displayName != "" {
		role.DisplayName = displayName
	}
	role.UpdatedAt = h.now().UTC()
	return h.store.Update(ctx, role)
}

// SetPriority updates the role priority.
func (h *Hierarchy) SetPriority(ctx context.Context, id string, priority int) error {
	role, err := h.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if role.Status == RoleStatusDeleted {
		return fmt.Errorf("%w: role is deleted", ErrInvalidState)
	}
	role.Priority = priority
	role.UpdatedAt = h.now().UTC()
	return h.store.Update(ctx, role)
}

// Deactivate suspends a role. Built-in roles refuse.
func (h *Hierarchy) Deactivate(ctx context.Context, id string) error {
	role, err := h.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if role.BuiltIn() {
		return fmt.Errorf("%w: built-in roles cannot be deactivated", ErrInvalidState)
	}
	if role.Status != RoleStatusActive {
		return fmt.Errorf("%w: role is not active", ErrInvalidState)
	}
	role.Status = RoleStatusInactive
	role.UpdatedAt = h.now().UTC()
	return h.store.Update(ctx, role)
}

// Activate restores an inactive role.
func (h *Hierarchy) Activate(ctx context.Context, id string) error {
	role, err := h.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if role.Status != RoleStatusInactive {
		return fmt.Errorf("%w: role is not inactive", ErrInvalidState)
	}
	role.Status = RoleStatusActive
	role.UpdatedAt = h.now().UTC()
	return h.store.Update(ctx, role)
}

// Delete soft-deletes a role. Built-in roles and roles with children refuse;
// the row is retained for audit and historical grants.
func (h *Hierarchy) Delete(ctx context.Context, id string) error {
	role, err := h.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if role.BuiltIn() {
		return fmt.Errorf("%w: built-in roles cannot be deleted", ErrInvalidState)
	}
	if role.Status == RoleStatusDeleted {
		return fmt.Errorf("%w: role already deleted", ErrInvalidState)
	}
	children, err := h.store.ListByParent(ctx, id)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return fmt.Errorf("%w: role has children", ErrInvalidState)
	}
	role.Status = RoleStatusDeleted
	role.UpdatedAt = h.now().UTC()
	return h.store.Update(ctx, role)
}

// SetParent reparents a role. This is the single mutation point that enforces
// acyclicity: assigning the role itself or any of its descendants as the
// parent is rejected and the hierarchy is left unchanged. An empty parentID
// clears the parent.
func (h *Hierarchy) SetParent(ctx context.Context, id, parentID string) error {
	role, err := h.store.Find(ctx, id)
	if err != nil {
		return err
	}
	if parentID == "" {
		role.ParentID = ""
		role.UpdatedAt = h.now().UTC()
		return h.store.Update(ctx, role)
	}
	if _, err := h.store.Find(ctx, parentID); err != nil {
		return err
	}
	cyclic, err := h.WouldCreateCircularReference(ctx, id, parentID)
	if err != nil {
		return err
	}
	if cyclic {
		return fmt.Errorf("%w: circular role hierarchy", ErrInvalidState)
	}
	role.ParentID = parentID
	role.UpdatedAt = h.now().UTC()
	return h.store.Update(ctx, role)
}

// WouldCreateCircularReference reports whether assigning parentID as the
// parent of id would create a cycle: parentID equals id or is a descendant of
// id. The walk goes upward from the prospective parent; it terminates because
// the stored tree is acyclic.
func (h *Hierarchy) WouldCreateCircularReference(ctx context.Context, id, parentID string) (bool, error) {
	cur := parentID
	for cur != "" {
		if cur == id {
			return true, nil
		}
		node, err := h.store.Find(ctx, cur)
		if err != nil {
			return false, err
		}
		cur = node.ParentID
	}
	return false, nil
}

// AddChild makes childID a child of parentID.
func (h *Hierarchy) AddChild(ctx context.Context, parentID, childID string) error {
	return h.SetParent(ctx, childID, parentID)
}

// RemoveChild detaches childID from parentID. It fails if the child is not
// currently attached to that parent.
func (h *Hierarchy) RemoveChild(ctx context.Context, parentID, childID string) error {
	child, err := h.store.Find(ctx, childID)
	if err != nil {
		return err
	}
	if child.ParentID != parentID {
		return fmt.Errorf("%w: role %s is not a child of %s", ErrInvalidState, childID, parentID)
	}
	child.ParentID = ""
	child.UpdatedAt = h.now().UTC()
	return h.store.Update(ctx, child)
}

// Depth returns the number of ancestors above the role (a root has depth 0).
func (h *Hierarchy) Depth(ctx context.Context, id string) (int, error) {
	role, err := h.store.Find(ctx, id)
	if err != nil {
		return 0, err
	}
	depth := 0
	for role.ParentID != "" {
		role, err = h.store.Find(ctx, role.ParentID)
		if err != nil {
			return 0, err
		}
		depth++
	}
	return depth, nil
}

// Ancestors returns the chain of parents from the immediate parent to the root.
func (h *Hierarchy) Ancestors(ctx context.Context, id string) ([]*Role, error) {
	role, err := h.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	var out []*Role
	for role.ParentID != "" {
		role, err = h.store.Find(ctx, role.ParentID)
		if err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, nil
}

// Descendants returns every role below the given one, depth-first.
func (h *Hierarchy) Descendants(ctx context.Context, id string) ([]*Role, error) {
	if _, err := h.store.Find(ctx, id); err != nil {
		return nil, err
	}
	var out []*Role
	var walk func(parentID string) error
	walk = func(parentID string) error {
		children, err := h.store.ListByParent(ctx, parentID)
		if err != nil {
			return err
		}
		for _, c := range children {
			out = append(out, c)
			if err := walk(c.ID); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(id); err != nil {
		return nil, err
	}
	return out, nil
}

// Siblings returns the other roles sharing the role's parent (or the other
// roots for a parentless role).
func (h *Hierarchy) Siblings(ctx context.Context, id string) ([]*Role, error) {
	role, err := h.store.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	peers, err := h.store.ListByParent(ctx, role.ParentID)
	if err != nil {
		return nil, err
	}
	out := make([]*Role, 0, len(peers))
	for _, p := range peers {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out, nil
}
