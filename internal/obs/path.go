package obs

import "strings"

// CanonicalPath normalizes a request path into a low-cardinality metrics label:
// the query string is dropped and aggregate IDs are replaced with ":id".
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "/"
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	// /v1/sessions/<id>[/...] and /v1/tokens/<id>[/...] carry ULIDs.
	if len(parts) >= 3 && parts[0] == "v1" {
		switch parts[1] {
		case "sessions", "tokens", "roles":
			parts[2] = ":id"
			return "/" + strings.Join(parts, "/")
		}
	}
	return p
}
