package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sentra.org/internal/rbac"
)

// RBACStore adapts the shared connection to the rbac combined Store.
type RBACStore struct {
	*Store
}

var _ rbac.Store = (*RBACStore)(nil)

// RBAC returns the rbac-store view of the connection.
func (s *Store) RBAC() *RBACStore { return &RBACStore{Store: s} }

const roleColumns = `id, name, display_name, description, status, role_type,
	priority, parent_id, created_at, updated_at, version`

func (s *RBACStore) Insert(ctx context.Context, r *rbac.Role) error {
	var taken bool
	if err := s.db.QueryRowContext(ctx, `
		select exists(select 1 from roles where name=$1 and status <> 'deleted')
	`, r.Name).Scan(&taken); err != nil {
		return err
	}
	if taken {
		return fmt.Errorf("%w: role name %q already taken", rbac.ErrInvalidState, r.Name)
	}
	_, err := s.db.ExecContext(ctx, `
		insert into roles (`+roleColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1)
	`, r.ID, r.Name, r.DisplayName, r.Description, r.Status, r.Type,
		r.Priority, r.ParentID, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: duplicate role", rbac.ErrInvalidState)
		}
		return err
	}
	r.Version = 1
	return nil
}

func scanRole(row interface{ Scan(...any) error }) (*rbac.Role, error) {
	var r rbac.Role
	err := row.Scan(&r.ID, &r.Name, &r.DisplayName, &r.Description, &r.Status, &r.Type,
		&r.Priority, &r.ParentID, &r.CreatedAt, &r.UpdatedAt, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *RBACStore) Find(ctx context.Context, id string) (*rbac.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx, `
		select `+roleColumns+` from roles where id=$1
	`, id))
}

func (s *RBACStore) FindByName(ctx context.Context, name string) (*rbac.Role, error) {
	return scanRole(s.db.QueryRowContext(ctx, `
		select `+roleColumns+` from roles where name=$1 and status <> 'deleted'
	`, name))
}

func (s *RBACStore) Update(ctx context.Context, r *rbac.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update roles set
			name=$3, display_name=$4, description=$5, status=$6,
			priority=$7, parent_id=$8, updated_at=$9,
			version=version+1
		where id=$1 and version=$2
	`, r.ID, r.Version, r.Name, r.DisplayName, r.Description, r.Status,
		r.Priority, r.ParentID, r.UpdatedAt)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx,
			`select exists(select 1 from roles where id=$1)`, r.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return rbac.ErrNotFound
		}
		return fmt.Errorf("%w: version conflict", rbac.ErrInvalidState)
	}
	r.Version++
	return nil
}

func (s *RBACStore) ListByParent(ctx context.Context, parentID string) ([]*rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+roleColumns+` from roles where parent_id=$1 and status <> 'deleted' order by priority desc, name
	`, parentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

func (s *RBACStore) ListAll(ctx context.Context) ([]*rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `select `+roleColumns+` from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRoles(rows)
}

func collectRoles(rows *sql.Rows) ([]*rbac.Role, error) {
	var out []*rbac.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *RBACStore) InsertPermission(ctx context.Context, p *rbac.Permission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into permissions (id, resource, action, description, created_at)
		values ($1,$2,$3,$4,$5)
	`, p.ID, p.Resource, p.Action, p.Description, p.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: permission %q already registered", rbac.ErrInvalidState, p.Key())
	}
	return err
}

func scanPermission(row interface{ Scan(...any) error }) (*rbac.Permission, error) {
	var p rbac.Permission
	err := row.Scan(&p.ID, &p.Resource, &p.Action, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *RBACStore) FindPermission(ctx context.Context, id string) (*rbac.Permission, error) {
	return scanPermission(s.db.QueryRowContext(ctx, `
		select id, resource, action, description, created_at from permissions where id=$1
	`, id))
}

func (s *RBACStore) FindPermissionByKey(ctx context.Context, key string) (*rbac.Permission, error) {
	return scanPermission(s.db.QueryRowContext(ctx, `
		select id, resource, action, description, created_at
		from permissions where resource || ':' || action = $1
	`, key))
}

func (s *RBACStore) ListPermissions(ctx context.Context) ([]*rbac.Permission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, resource, action, description, created_at from permissions order by resource, action
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rbac.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const roleGrantColumns = `id, role_id, permission_id, granted_by, granted_at, grant_reason,
	expires_at, active, origin_kind, origin_source, version`

func (s *RBACStore) InsertRoleGrant(ctx context.Context, g *rbac.RolePermission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_permissions (`+roleGrantColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,1)
	`, g.ID, g.RoleID, g.PermissionID, g.GrantedBy, g.GrantedAt, g.GrantReason,
		nullTime(g.ExpiresAt), g.Active, g.Origin.Kind(), g.Origin.Source())
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: duplicate role grant", rbac.ErrInvalidState)
		}
		return err
	}
	g.Version = 1
	return nil
}

func scanRoleGrant(row interface{ Scan(...any) error }) (*rbac.RolePermission, error) {
	var (
		g                        rbac.RolePermission
		expiresAt                sql.NullTime
		originKind, originSource string
	)
	err := row.Scan(&g.ID, &g.RoleID, &g.PermissionID, &g.GrantedBy, &g.GrantedAt, &g.GrantReason,
		&expiresAt, &g.Active, &originKind, &originSource, &g.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.ExpiresAt = timePtr(expiresAt)
	g.Origin = rbac.ProvenanceFrom(originKind, originSource)
	return &g, nil
}

func (s *RBACStore) FindRoleGrant(ctx context.Context, roleID, permissionID string) (*rbac.RolePermission, error) {
	return scanRoleGrant(s.db.QueryRowContext(ctx, `
		select `+roleGrantColumns+` from role_permissions where role_id=$1 and permission_id=$2
	`, roleID, permissionID))
}

func (s *RBACStore) UpdateRoleGrant(ctx context.Context, g *rbac.RolePermission) error {
	res, err := s.db.ExecContext(ctx, `
		update role_permissions set
			granted_by=$4, granted_at=$5, grant_reason=$6,
			expires_at=$7, active=$8, origin_kind=$9, origin_source=$10,
			version=version+1
		where role_id=$1 and permission_id=$2 and version=$3
	`, g.RoleID, g.PermissionID, g.Version, g.GrantedBy, g.GrantedAt, g.GrantReason,
		nullTime(g.ExpiresAt), g.Active, g.Origin.Kind(), g.Origin.Source())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			select exists(select 1 from role_permissions where role_id=$1 and permission_id=$2)
		`, g.RoleID, g.PermissionID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return rbac.ErrNotFound
		}
		return fmt.Errorf("%w: version conflict", rbac.ErrInvalidState)
	}
	g.Version++
	return nil
}

func (s *RBACStore) ListRoleGrants(ctx context.Context, roleID string) ([]*rbac.RolePermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+roleGrantColumns+` from role_permissions where role_id=$1
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rbac.RolePermission
	for rows.Next() {
		g, err := scanRoleGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

const userGrantColumns = `id, subject_id, permission_id, granted_by, granted_at, grant_reason,
	expires_at, active, denied, deny_reason, origin_kind, origin_source, version`

func (s *RBACStore) InsertUserGrant(ctx context.Context, g *rbac.UserPermission) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_permissions (`+userGrantColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,1)
	`, g.ID, g.SubjectID, g.PermissionID, g.GrantedBy, g.GrantedAt, g.GrantReason,
		nullTime(g.ExpiresAt), g.Active, g.Denied, g.DenyReason, g.Origin.Kind(), g.Origin.Source())
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: duplicate user grant", rbac.ErrInvalidState)
		}
		return err
	}
	g.Version = 1
	return nil
}

func scanUserGrant(row interface{ Scan(...any) error }) (*rbac.UserPermission, error) {
	var (
		g                        rbac.UserPermission
		expiresAt                sql.NullTime
		originKind, originSource string
	)
	err := row.Scan(&g.ID, &g.SubjectID, &g.PermissionID, &g.GrantedBy, &g.GrantedAt, &g.GrantReason,
		&expiresAt, &g.Active, &g.Denied, &g.DenyReason, &originKind, &originSource, &g.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	g.ExpiresAt = timePtr(expiresAt)
	g.Origin = rbac.ProvenanceFrom(originKind, originSource)
	return &g, nil
}

func (s *RBACStore) FindUserGrant(ctx context.Context, subjectID, permissionID string) (*rbac.UserPermission, error) {
	return scanUserGrant(s.db.QueryRowContext(ctx, `
		select `+userGrantColumns+` from user_permissions where subject_id=$1 and permission_id=$2
	`, subjectID, permissionID))
}

func (s *RBACStore) UpdateUserGrant(ctx context.Context, g *rbac.UserPermission) error {
	res, err := s.db.ExecContext(ctx, `
		update user_permissions set
			granted_by=$4, granted_at=$5, grant_reason=$6,
			expires_at=$7, active=$8, denied=$9, deny_reason=$10,
			origin_kind=$11, origin_source=$12,
			version=version+1
		where subject_id=$1 and permission_id=$2 and version=$3
	`, g.SubjectID, g.PermissionID, g.Version, g.GrantedBy, g.GrantedAt, g.GrantReason,
		nullTime(g.ExpiresAt), g.Active, g.Denied, g.DenyReason,
		g.Origin.Kind(), g.Origin.Source())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `
			select exists(select 1 from user_permissions where subject_id=$1 and permission_id=$2)
		`, g.SubjectID, g.PermissionID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return rbac.ErrNotFound
		}
		return fmt.Errorf("%w: version conflict", rbac.ErrInvalidState)
	}
	g.Version++
	return nil
}

func (s *RBACStore) ListUserGrants(ctx context.Context, subjectID string) ([]*rbac.UserPermission, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+userGrantColumns+` from user_permissions where subject_id=$1
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rbac.UserPermission
	for rows.Next() {
		g, err := scanUserGrant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *RBACStore) InsertAssignment(ctx context.Context, a *rbac.Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_assignments (subject_id, role_id, assigned_by, assigned_at)
		values ($1,$2,$3,$4)
	`, a.SubjectID, a.RoleID, a.AssignedBy, a.AssignedAt)
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: role already assigned", rbac.ErrInvalidState)
		case pgErrForeignKeyViolation:
			return rbac.ErrNotFound
		}
	}
	return err
}

func (s *RBACStore) DeleteAssignment(ctx context.Context, subjectID, roleID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from role_assignments where subject_id=$1 and role_id=$2
	`, subjectID, roleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *RBACStore) ListAssignments(ctx context.Context, subjectID string) ([]*rbac.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		select subject_id, role_id, assigned_by, assigned_at
		from role_assignments where subject_id=$1 order by assigned_at
	`, subjectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rbac.Assignment
	for rows.Next() {
		var a rbac.Assignment
		if err := rows.Scan(&a.SubjectID, &a.RoleID, &a.AssignedBy, &a.AssignedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
