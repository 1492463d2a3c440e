// Package ident validates SQL identifiers before they are interpolated
// into statement text. PostgreSQL has no parameter binding for DDL
// identifiers, so role and database names end up inside the statement
// itself; this allow-list is the gate that keeps arbitrary input out.
package ident

import (
	"fmt"
	"regexp"
)

// maxLen is the PostgreSQL identifier limit (NAMEDATALEN - 1). Longer
// names are silently truncated by the server, which would make the
// published credentials point at a different name than the one created.
const maxLen = 63

var pattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate reports whether name is safe to use as a role or database
// identifier: non-empty, within the server's length limit, and matching
// the unquoted-identifier allow-list (letters, digits, underscore, not
// starting with a digit).
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("identifier is empty")
	}
	if len(name) > maxLen {
		return fmt.Errorf("identifier %q exceeds %d characters", name, maxLen)
	}
	if !pattern.MatchString(name) {
		return fmt.Errorf("identifier %q contains characters outside [A-Za-z0-9_]", name)
	}
	return nil
}
