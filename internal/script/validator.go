// Package script hosts the embedded scripting facility of spec.md §4.6
// over a sandboxed Lua VM (github.com/yuin/gopher-lua), named per spec.md
// §9's design note directing "an embedded scripting runtime of the
// implementer's choice" since no pack repo embeds a scripting language.
package script

import (
	"fmt"
	"regexp"
)

// denylist enumerates the constructs spec.md §4.6 calls out: names that
// would let a script reach outside its sandbox (filesystem, process
// control, the raw Lua loader, metatable manipulation) or that the spec
// names directly (import, class, exception handling, raise) even though
// Lua's own syntax has no such keywords — the denylist rejects the
// closest Lua equivalents a script could use to the same effect.
var denylist = []string{
	"require", "dofile", "loadfile", "load", "loadstring",
	"os", "io", "package", "debug",
	"rawget", "rawset", "rawequal", "rawlen",
	"setmetatable", "getmetatable",
	"collectgarbage", "_G", "_ENV",
}

var identifierRe = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*`)

// ValidationError names the first disallowed identifier a script used.
type ValidationError struct {
	Name string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("script: disallowed identifier %q", e.Name)
}

// Validate scans source for any denylisted identifier. It is a static
// lexical check, not a parse: spec.md §4.6 asks for validation that is
// "advisory on the server... and mandatory on the client" when a
// server-pushed script arrives, and a cheap pre-load scan is enough to
// satisfy that without embedding a second Lua parser.
func Validate(source string) error {
	denied := make(map[string]struct{}, len(denylist))
	for _, name := range denylist {
		denied[name] = struct{}{}
	}
	for _, match := range identifierRe.FindAllString(source, -1) {
		if _, bad := denied[match]; bad {
			return &ValidationError{Name: match}
		}
	}
	return nil
}
