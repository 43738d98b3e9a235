package knowledge

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/meshwork-ai/a2a-go/a2a"
)

// QueryLanguageGraphQL is the query language this store executes.
const QueryLanguageGraphQL = "graphql"

// Filter is a compiled statement constraint set. A nil constraint matches
// everything for that position.
type Filter struct {
	Subject   *string
	Predicate *string
	Object    any
	Graph     *string
}

var argRe = regexp.MustCompile(`(\w+)\s*:\s*("(?:[^"\\]|\\.)*"|\$\w+|[^,)\s]+)`)

// CompileFilter extracts statement constraints from a GraphQL-style query
// by reading the field arguments of its first selection. Supported
// arguments are subject, predicate, object, and graph; values may be
// string literals, numbers, booleans, or $variables. A query with no
// argument list matches every statement.
func CompileFilter(query string, variables map[string]any) (*Filter, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	args, err := firstArgumentList(query)
	if err != nil {
		return nil, err
	}
	filter := &Filter{}
	if args == "" {
		return filter, nil
	}

	for _, m := range argRe.FindAllStringSubmatch(args, -1) {
		name, raw := m[1], m[2]
		value, err := resolveArgument(raw, variables)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", name, err)
		}
		switch name {
		case "subject":
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("subject argument must be a string")
			}
			filter.Subject = &s
		case "predicate":
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("predicate argument must be a string")
			}
			filter.Predicate = &s
		case "object":
			filter.Object = value
		case "graph":
			s, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("graph argument must be a string")
			}
			filter.Graph = &s
		}
	}
	return filter, nil
}

// firstArgumentList returns the contents of the first balanced parenthesis
// group that follows a field name, or "" if the query has none. Skips an
// operation-level variable definition list such as `query ($s: String)`.
func firstArgumentList(query string) (string, error) {
	search := query
	for {
		open := strings.Index(search, "(")
		if open < 0 {
			return "", nil
		}
		end := matchingParen(search, open)
		if end < 0 {
			return "", fmt.Errorf("unbalanced parentheses in query")
		}
		inner := search[open+1 : end]
		if !isVariableDefinitionList(inner) {
			return inner, nil
		}
		search = search[end+1:]
	}
}

func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// isVariableDefinitionList reports whether the argument list declares
// variables (`$name: Type`) rather than binding field arguments.
func isVariableDefinitionList(inner string) bool {
	trimmed := strings.TrimSpace(inner)
	return strings.HasPrefix(trimmed, "$")
}

func resolveArgument(raw string, variables map[string]any) (any, error) {
	if strings.HasPrefix(raw, "$") {
		name := raw[1:]
		value, ok := variables[name]
		if !ok {
			return nil, fmt.Errorf("undefined variable $%s", name)
		}
		return value, nil
	}
	if strings.HasPrefix(raw, `"`) {
		return strconv.Unquote(raw)
	}
	if raw == "true" || raw == "false" {
		return raw == "true", nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil {
		return n, nil
	}
	// Bare enum-style tokens pass through as strings.
	return raw, nil
}

// Matches reports whether the statement satisfies every constraint.
func (f *Filter) Matches(s a2a.KGStatement) bool {
	if f.Subject != nil && s.Subject.ID != *f.Subject {
		return false
	}
	if f.Predicate != nil && s.Predicate.ID != *f.Predicate {
		return false
	}
	if f.Object != nil && !matchesObject(s.Object, f.Object) {
		return false
	}
	if f.Graph != nil {
		if s.Graph == nil || *s.Graph != *f.Graph {
			return false
		}
	}
	return true
}

func matchesObject(obj a2a.KGObject, want any) bool {
	if obj.ID != nil {
		s, ok := want.(string)
		return ok && *obj.ID == s
	}
	if reflect.DeepEqual(obj.Value, want) {
		return true
	}
	// JSON decoding turns numbers into float64; compare loosely across
	// numeric and string forms.
	return fmt.Sprint(obj.Value) == fmt.Sprint(want)
}
