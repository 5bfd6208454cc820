package ids

import "github.com/oklog/ulid/v2"

// New returns a lexicographically sortable identifier used as the primary key
// for every aggregate (tokens, roles, grants, sessions).
func New() string {
	return ulid.Make().String()
}
