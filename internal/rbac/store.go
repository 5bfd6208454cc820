package rbac

import (
	"context"
	"fmt"
	"sync"
)

// RoleStore persists roles. Update is conditional on Version.
type RoleStore interface {
	Insert(ctx context.Context, r *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	Update(ctx context.Context, r *Role) error
	ListByParent(ctx context.Context, parentID string) ([]*Role, error)
	ListAll(ctx context.Context) ([]*Role, error)
}

// PermissionStore persists the permission catalog.
type PermissionStore interface {
	InsertPermission(ctx context.Context, p *Permission) error
	FindPermission(ctx context.Context, id string) (*Permission, error)
	FindPermissionByKey(ctx context.Context, key string) (*Permission, error)
	ListPermissions(ctx context.Context) ([]*Permission, error)
}

// GrantStore persists role and user grants. Updates are conditional on
// Version, mirroring the token ledger's concurrency discipline.
type GrantStore interface {
	InsertRoleGrant(ctx context.Context, g *RolePermission) error
	FindRoleGrant(ctx context.Context, roleID, permissionID string) (*RolePermission, error)
	UpdateRoleGrant(ctx context.Context, g *RolePermission) error
	ListRoleGrants(ctx context.Context, roleID string) ([]*RolePermission, error)

	InsertUserGrant(ctx context.Context, g *UserPermission) error
	FindUserGrant(ctx context.Context, subjectID, permissionID string) (*UserPermission, error)
	UpdateUserGrant(ctx context.Context, g *UserPermission) error
	ListUserGrants(ctx context.Context, subjectID string) ([]*UserPermission, error)
}

// AssignmentStore persists subject-to-role assignments.
type AssignmentStore interface {
	InsertAssignment(ctx context.Context, a *Assignment) error
	DeleteAssignment(ctx context.Context, subjectID, roleID string) error
	ListAssignments(ctx context.Context, subjectID string) ([]*Assignment, error)
}

// Store is the combined persistence surface the resolver and services need.
type Store interface {
	RoleStore
	PermissionStore
	GrantStore
	AssignmentStore
}

// InMemory implements Store with mutex-guarded maps. Every read returns a
// copy; writes are conditional on Version.
type InMemory struct {
	mu          sync.RWMutex
	roles       map[string]*Role
	perms       map[string]*Permission
	permsByKey  map[string]string
	roleGrants  map[string]*RolePermission // roleID + "\x00" + permissionID
	userGrants  map[string]*UserPermission // subjectID + "\x00" + permissionID
	assignments map[string][]*Assignment   // subjectID
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty rbac store.
func NewInMemory() *InMemory {
	return &InMemory{
		roles:       make(map[string]*Role),
		perms:       make(map[string]*Permission),
		permsByKey:  make(map[string]string),
		roleGrants:  make(map[string]*RolePermission),
		userGrants:  make(map[string]*UserPermission),
		assignments: make(map[string][]*Assignment),
	}
}

func grantKey(a, b string) string { return a + "\x00" + b }

func (s *InMemory) Insert(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; ok {
		return ErrInvalidState
	}
	for _, existing := range s.roles {
		if existing.Name == r.Name && existing.Status != RoleStatusDeleted {
			return fmt.Errorf("%w: role name %q already taken", ErrInvalidState, r.Name)
		}
	}
	cp := *r
	cp.Version = 1
	s.roles[cp.ID] = &cp
	r.Version = cp.Version
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *InMemory) FindByName(ctx context.Context, name string) (*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.roles {
		if r.Name == name && r.Status != RoleStatusDeleted {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) Update(ctx context.Context, r *Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.roles[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != r.Version {
		return ErrInvalidState
	}
	cp := *r
	cp.Version++
	s.roles[cp.ID] = &cp
	r.Version = cp.Version
	return nil
}

func (s *InMemory) ListByParent(ctx context.Context, parentID string) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Role
	for _, r := range s.roles {
		if r.ParentID == parentID && r.Status != RoleStatusDeleted {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemory) ListAll(ctx context.Context) ([]*Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Role, 0, len(s.roles))
	for _, r := range s.roles {
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemory) InsertPermission(ctx context.Context, p *Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[p.ID]; ok {
		return ErrInvalidState
	}
	if _, ok := s.permsByKey[p.Key()]; ok {
		return fmt.Errorf("%w: permission %q already registered", ErrInvalidState, p.Key())
	}
	cp := *p
	s.perms[cp.ID] = &cp
	s.permsByKey[cp.Key()] = cp.ID
	return nil
}

func (s *InMemory) FindPermission(ctx context.Context, id string) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *InMemory) FindPermissionByKey(ctx context.Context, key string) (*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.permsByKey[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s.perms[id]
	return &cp, nil
}

func (s *InMemory) ListPermissions(ctx context.Context) ([]*Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Permission, 0, len(s.perms))
	for _, p := range s.perms {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemory) InsertRoleGrant(ctx context.Context, g *RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey(g.RoleID, g.PermissionID)
	if _, ok := s.roleGrants[key]; ok {
		return ErrInvalidState
	}
	cp := *g
	cp.Version = 1
	s.roleGrants[key] = &cp
	g.Version = cp.Version
	return nil
}

func (s *InMemory) FindRoleGrant(ctx context.Context, roleID, permissionID string) (*RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.roleGrants[grantKey(roleID, permissionID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *InMemory) UpdateRoleGrant(ctx context.Context, g *RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey(g.RoleID, g.PermissionID)
	cur, ok := s.roleGrants[key]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != g.Version {
		return ErrInvalidState
	}
	cp := *g
	cp.Version++
	s.roleGrants[key] = &cp
	g.Version = cp.Version
	return nil
}

func (s *InMemory) ListRoleGrants(ctx context.Context, roleID string) ([]*RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RolePermission
	for _, g := range s.roleGrants {
		if g.RoleID == roleID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemory) InsertUserGrant(ctx context.Context, g *UserPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey(g.SubjectID, g.PermissionID)
	if _, ok := s.userGrants[key]; ok {
		return ErrInvalidState
	}
	cp := *g
	cp.Version = 1
	s.userGrants[key] = &cp
	g.Version = cp.Version
	return nil
}

func (s *InMemory) FindUserGrant(ctx context.Context, subjectID, permissionID string) (*UserPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.userGrants[grantKey(subjectID, permissionID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *InMemory) UpdateUserGrant(ctx context.Context, g *UserPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := grantKey(g.SubjectID, g.PermissionID)
	cur, ok := s.userGrants[key]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != g.Version {
		return ErrInvalidState
	}
	cp := *g
	cp.Version++
	s.userGrants[key] = &cp
	g.Version = cp.Version
	return nil
}

func (s *InMemory) ListUserGrants(ctx context.Context, subjectID string) ([]*UserPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*UserPermission
	for _, g := range s.userGrants {
		if g.SubjectID == subjectID {
			cp := *g
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemory) InsertAssignment(ctx context.Context, a *Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.assignments[a.SubjectID] {
		if existing.RoleID == a.RoleID {
			return fmt.Errorf("%w: role already assigned", ErrInvalidState)
		}
	}
	cp := *a
	s.assignments[a.SubjectID] = append(s.assignments[a.SubjectID], &cp)
	return nil
}

func (s *InMemory) DeleteAssignment(ctx context.Context, subjectID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.assignments[subjectID]
	for i, a := range list {
		if a.RoleID == roleID {
			s.assignments[subjectID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (s *InMemory) ListAssignments(ctx context.Context, subjectID string) ([]*Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.assignments[subjectID]
	out := make([]*Assignment, 0, len(list))
	for _, a := range list {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}
