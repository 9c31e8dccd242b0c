// Package sail normalizes SAIL code for comparison: escape decoding,
// uuid-to-name reference rewriting, system-rule renaming, and whitespace
// collapsing. Formatting is deterministic and idempotent.
package sail

import (
	"regexp"
	"strings"

	"go.uber.org/zap"

	"appmerge/internal/types"
)

// UUIDPattern matches Appian object references embedded in free-form text:
// the `_a-` prefixed form with an optional `_<digits>` suffix, and the bare
// hex uuid form. Shared with the dependency analyzer so both agree on what
// counts as a reference.
var UUIDPattern = regexp.MustCompile(
	`_a-[0-9a-fA-F][0-9a-fA-F-]*[0-9a-fA-F](?:_[0-9]+)?` +
		`|[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

var (
	hashRefPattern = regexp.MustCompile(`#"([^"]+)"`)
	bangRefPattern = regexp.MustCompile(`\b(rule|cons)!(` + UUIDPattern.String() + `)`)
	sysRulePattern = regexp.MustCompile(`^SYSTEM_SYSRULES_([A-Za-z0-9]+)_v[0-9]+$`)
	internalFnPat  = regexp.MustCompile(`\ba!([A-Za-z][A-Za-z0-9_]*)`)
	spaceRunPat    = regexp.MustCompile(`[ \t]+`)
)

// Formatter rewrites scripted code strings using the session-wide object
// lookup populated from all three packages.
type Formatter struct {
	lookup  types.Lookup
	mapping map[string]string
	logger  *zap.Logger
}

// NewFormatter creates a Formatter over the merged session lookup. A nil
// mapping uses the compiled-in system-rule table.
func NewFormatter(lookup types.Lookup, mapping map[string]string, logger *zap.Logger) *Formatter {
	if mapping == nil {
		mapping = SystemRuleMapping()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Formatter{lookup: lookup, mapping: mapping, logger: logger}
}

// Format applies the full normalization pipeline. format(format(x)) == format(x).
func (f *Formatter) Format(code string) string {
	if code == "" {
		return ""
	}
	out := decodeEscapes(code)
	out = f.rewriteReferences(out)
	out = f.rewriteSystemRules(out)
	out = collapseWhitespace(out)
	return out
}

// FormatSession rewrites the scripted code of every object in the lookup in
// place. Run after all three packages are parsed so references from any
// package can resolve to names introduced by another.
func (f *Formatter) FormatSession() {
	formatted := 0
	for _, obj := range f.lookup {
		if !obj.Type.Scripted() || obj.Code == "" {
			continue
		}
		obj.Code = f.Format(obj.Code)
		formatted++
	}
	f.logger.Debug("Session SAIL formatted", zap.Int("objects", formatted))
}

// decodeEscapes converts literal escape sequences into their characters.
// Code that already contains real newlines has been decoded before; skip it
// so the pass stays idempotent. A backslash pair is consumed as one unit
// but written back verbatim, otherwise `\\n` would decode to `\`+`n` and a
// second pass would turn that into a real newline.
func decodeEscapes(s string) string {
	if strings.ContainsRune(s, '\n') {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		switch s[i+1] {
		case 'n':
			b.WriteByte('\n')
			i++
		case 't':
			b.WriteByte('\t')
			i++
		case '"':
			b.WriteByte('"')
			i++
		case '\\':
			b.WriteString(`\\`)
			i++
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// rewriteReferences replaces uuid-keyed references that resolve through the
// session lookup with their rule!/cons! display-name form. Unresolved uuids
// are left untouched.
func (f *Formatter) rewriteReferences(s string) string {
	out := hashRefPattern.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[2 : len(m)-1]
		if sysRulePattern.MatchString(inner) {
			// Handled by the system-rule pass.
			return m
		}
		if repl, ok := f.nameFor(inner); ok {
			return repl
		}
		return m
	})

	out = bangRefPattern.ReplaceAllStringFunc(out, func(m string) string {
		bang := strings.IndexByte(m, '!')
		uuid := m[bang+1:]
		if obj, ok := f.lookup[uuid]; ok && obj.Name != "" {
			return m[:bang+1] + obj.Name
		}
		return m
	})

	return out
}

// nameFor resolves a uuid to its prefixed display-name reference.
func (f *Formatter) nameFor(uuid string) (string, bool) {
	obj, ok := f.lookup[uuid]
	if !ok || obj.Name == "" {
		return "", false
	}
	if obj.Type == types.TypeConstant {
		return "cons!" + obj.Name, true
	}
	return "rule!" + obj.Name, true
}

// rewriteSystemRules converts internal system-rule identifiers to their
// public a!name form. Unmapped internal names pass through.
func (f *Formatter) rewriteSystemRules(s string) string {
	out := hashRefPattern.ReplaceAllStringFunc(s, func(m string) string {
		inner := m[2 : len(m)-1]
		sub := sysRulePattern.FindStringSubmatch(inner)
		if sub == nil {
			return m
		}
		if public, ok := f.mapping[sub[1]]; ok {
			return "a!" + public
		}
		return m
	})

	out = internalFnPat.ReplaceAllStringFunc(out, func(m string) string {
		name := m[2:]
		if public, ok := f.mapping[name]; ok && public != name {
			return "a!" + public
		}
		return m
	})

	return out
}

// collapseWhitespace squeezes runs of spaces and tabs and drops empty lines
// while preserving line breaks between statements.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(spaceRunPat.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
