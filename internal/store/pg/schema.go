package pg

import "context"

// schema is applied at startup; every statement is idempotent.
var schema = []string{
	`create table if not exists refresh_tokens (
		id             text primary key,
		subject_id     text not null,
		session_id     text not null default '',
		token_hash     text not null unique,
		issued_at      timestamptz not null,
		expires_at     timestamptz not null,
		status         text not null,
		revoked_at     timestamptz,
		revoked_by     text not null default '',
		revoke_reason  text not null default '',
		rotated_at     timestamptz,
		rotated_by     text not null default '',
		replaces_id    text not null default '',
		replaced_by_id text not null default '',
		rotation_count int not null default 0,
		use_count      int not null default 0,
		last_used_at   timestamptz,
		device_id      text not null default '',
		device_name    text not null default '',
		ip_address     text not null default '',
		user_agent     text not null default '',
		version        bigint not null default 1
	)`,
	`create index if not exists refresh_tokens_subject_idx on refresh_tokens(subject_id)`,

	`create table if not exists user_sessions (
		id               text primary key,
		subject_id       text not null,
		session_token    text not null unique,
		ip_address       text not null default '',
		user_agent       text not null default '',
		device_id        text not null default '',
		loc_country      text not null default '',
		loc_city         text not null default '',
		loc_lat          double precision not null default 0,
		loc_lon          double precision not null default 0,
		started_at       timestamptz not null,
		last_activity_at timestamptz not null,
		expires_at       timestamptz not null,
		ended_at         timestamptz,
		active           boolean not null default true,
		trusted          boolean not null default false,
		trusted_by       text not null default '',
		trusted_at       timestamptz,
		remembered       boolean not null default false,
		blocked          boolean not null default false,
		block_reason     text not null default '',
		login_attempts   int not null default 0,
		version          bigint not null default 1
	)`,
	`create index if not exists user_sessions_subject_idx on user_sessions(subject_id)`,

	`create table if not exists permissions (
		id          text primary key,
		resource    text not null,
		action      text not null,
		description text not null default '',
		created_at  timestamptz not null,
		unique (resource, action)
	)`,

	`create table if not exists roles (
		id           text primary key,
		name         text not null,
		display_name text not null,
		description  text not null default '',
		status       text not null,
		role_type    text not null,
		priority     int not null default 0,
		parent_id    text not null default '',
		created_at   timestamptz not null,
		updated_at   timestamptz not null,
		version      bigint not null default 1
	)`,
	`create index if not exists roles_parent_idx on roles(parent_id)`,

	`create table if not exists role_permissions (
		id             text not null,
		role_id        text not null,
		permission_id  text not null references permissions(id),
		granted_by     text not null default '',
		granted_at     timestamptz not null,
		grant_reason   text not null default '',
		expires_at     timestamptz,
		active         boolean not null default true,
		origin_kind    text not null default 'direct',
		origin_source  text not null default '',
		version        bigint not null default 1,
		primary key (role_id, permission_id)
	)`,

	`create table if not exists user_permissions (
		id             text not null,
		subject_id     text not null,
		permission_id  text not null references permissions(id),
		granted_by     text not null default '',
		granted_at     timestamptz not null,
		grant_reason   text not null default '',
		expires_at     timestamptz,
		active         boolean not null default true,
		denied         boolean not null default false,
		deny_reason    text not null default '',
		origin_kind    text not null default 'direct',
		origin_source  text not null default '',
		version        bigint not null default 1,
		primary key (subject_id, permission_id)
	)`,

	`create table if not exists role_assignments (
		subject_id  text not null,
		role_id     text not null references roles(id),
		assigned_by text not null default '',
		assigned_at timestamptz not null,
		primary key (subject_id, role_id)
	)`,
}

// EnsureSchema creates missing tables and indexes.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
