package dispatch

import (
	"fmt"
	"net/http"
	"strings"
)

// allowedMethods is the fixed verb set routes may register under.
var allowedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodDelete:  true,
	http.MethodPatch:   true,
	http.MethodOptions: true,
}

// segment is one compiled piece of a route pattern: either a literal
// that must match exactly, or a named parameter that captures the
// incoming segment value.
type segment struct {
	literal string
	param   string
}

type route struct {
	method   string
	pattern  string
	segments []segment
	handler  Handler
}

// Table is an ordered route table. Registrations are scanned in
// insertion order and the first method+pattern match wins; there is no
// specificity ranking between overlapping patterns. Matching is O(n)
// in the number of registrations, which is acceptable for the small
// static tables this layer is built for.
type Table struct {
	routes []route
}

// NewTable creates an empty route table.
func NewTable() *Table {
	return &Table{}
}

// Add appends a registration. Patterns are compiled once here; a
// segment starting with ':' captures the corresponding path segment
// under the given name.
func (t *Table) Add(method, pattern string, handler Handler) error {
	if !allowedMethods[method] {
		return fmt.Errorf("unsupported method %q", method)
	}
	if handler == nil {
		return fmt.Errorf("nil handler for %s %s", method, pattern)
	}
	segments, err := compilePattern(pattern)
	if err != nil {
		return fmt.Errorf("pattern %q: %w", pattern, err)
	}
	t.routes = append(t.routes, route{
		method:   method,
		pattern:  pattern,
		segments: segments,
		handler:  handler,
	})
	return nil
}

// Match scans registrations in order and returns the first handler
// whose method and pattern match the raw request path, along with the
// extracted parameters. Parameter values are not percent-decoded.
func (t *Table) Match(method, path string) (Handler, Params, bool) {
	parts := splitPath(path)
	for i := range t.routes {
		r := &t.routes[i]
		if r.method != method {
			continue
		}
		params, ok := matchSegments(r.segments, parts)
		if !ok {
			continue
		}
		return r.handler, params, true
	}
	return nil, nil, false
}

// Len returns the number of registrations.
func (t *Table) Len() int {
	return len(t.routes)
}

func compilePattern(pattern string) ([]segment, error) {
	if pattern == "" || pattern[0] != '/' {
		return nil, fmt.Errorf("must start with '/'")
	}
	parts := splitPath(pattern)
	segments := make([]segment, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, part := range parts {
		if strings.HasPrefix(part, ":") {
			name := part[1:]
			if name == "" {
				return nil, fmt.Errorf("empty parameter name")
			}
			if seen[name] {
				return nil, fmt.Errorf("duplicate parameter %q", name)
			}
			seen[name] = true
			segments = append(segments, segment{param: name})
			continue
		}
		segments = append(segments, segment{literal: part})
	}
	return segments, nil
}

// splitPath tokenizes a path into segments, ignoring leading and
// trailing slashes so "/users" and "/users/" match the same pattern.
func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func matchSegments(segments []segment, parts []string) (Params, bool) {
	if len(segments) != len(parts) {
		return nil, false
	}
	var params Params
	for i, seg := range segments {
		if seg.param != "" {
			if params == nil {
				params = make(Params, 2)
			}
			params[seg.param] = parts[i]
			continue
		}
		if seg.literal != parts[i] {
			return nil, false
		}
	}
	if params == nil {
		params = Params{}
	}
	return params, true
}
