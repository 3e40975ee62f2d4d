package ldap

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode"
)

// ObjectClassDef is a parsed RFC 4512 object class description.
type ObjectClassDef struct {
	OID   string
	Names []string
	Sup   []string
	Must  []string
	May   []string
}

// Subschema holds the object classes published by the directory.
type Subschema struct {
	classes map[string]*ObjectClassDef
}

// ReadSubschema loads object class definitions from the subschema
// subentry advertised in the root DSE.
func ReadSubschema(ctx context.Context, c Client) (*Subschema, error) {
	root, err := GetAttributes(ctx, c, "", "subschemaSubentry")
	if err != nil && !IsNotFoundError(err) {
		return nil, fmt.Errorf("failed to read root DSE: %w", err)
	}
	subentry := root.Get("subschemaSubentry")
	if subentry == "" {
		subentry = "cn=Subschema"
	}

	attrs, err := GetAttributes(ctx, c, subentry, "objectClasses")
	if err != nil {
		return nil, fmt.Errorf("failed to read subschema %s: %w", subentry, err)
	}
	return ParseSubschema(attrs.Values("objectClasses"))
}

// ParseSubschema builds a Subschema from objectClasses values.
func ParseSubschema(definitions []string) (*Subschema, error) {
	s := &Subschema{classes: make(map[string]*ObjectClassDef)}
	for _, def := range definitions {
		oc, err := ParseObjectClass(def)
		if err != nil {
			return nil, err
		}
		s.classes[strings.ToLower(oc.OID)] = oc
		for _, name := range oc.Names {
			s.classes[strings.ToLower(name)] = oc
		}
	}
	return s, nil
}

// Lookup returns the definition of a class by name or OID.
func (s *Subschema) Lookup(name string) (*ObjectClassDef, bool) {
	oc, ok := s.classes[strings.ToLower(name)]
	return oc, ok
}

// ObjectClassAttributes returns the sorted MUST and MAY attributes of the
// given classes, including those inherited through SUP.
func (s *Subschema) ObjectClassAttributes(classes ...string) ([]string, error) {
	seen := make(map[string]string)
	visited := make(map[*ObjectClassDef]bool)

	var walk func(name string) error
	walk = func(name string) error {
		oc, ok := s.Lookup(name)
		if !ok {
			return fmt.Errorf("unknown object class %q", name)
		}
		if visited[oc] {
			return nil
		}
		visited[oc] = true

		for _, attr := range slices.Concat(oc.Must, oc.May) {
			seen[strings.ToLower(attr)] = attr
		}
		for _, sup := range oc.Sup {
			if err := walk(sup); err != nil {
				return err
			}
		}
		return nil
	}

	for _, name := range classes {
		if err := walk(name); err != nil {
			return nil, err
		}
	}

	out := make([]string, 0, len(seen))
	for _, attr := range seen {
		out = append(out, attr)
	}
	slices.SortFunc(out, func(a, b string) int {
		return strings.Compare(strings.ToLower(a), strings.ToLower(b))
	})
	return out, nil
}

// ParseObjectClass parses one objectClasses value, for example
//
//	( 2.5.6.6 NAME 'person' SUP top STRUCTURAL MUST ( sn $ cn ) MAY userPassword )
func ParseObjectClass(def string) (*ObjectClassDef, error) {
	tokens := tokenizeSchema(def)
	if len(tokens) < 3 || tokens[0] != "(" || tokens[len(tokens)-1] != ")" {
		return nil, fmt.Errorf("malformed object class definition: %q", def)
	}
	tokens = tokens[1 : len(tokens)-1]

	oc := &ObjectClassDef{OID: tokens[0]}
	for i := 1; i < len(tokens); i++ {
		var list *[]string
		switch strings.ToUpper(tokens[i]) {
		case "NAME":
			list = &oc.Names
		case "SUP":
			list = &oc.Sup
		case "MUST":
			list = &oc.Must
		case "MAY":
			list = &oc.May
		case "DESC":
			i++ // skip the quoted description
			continue
		default:
			continue
		}

		values, next, err := schemaList(tokens, i+1)
		if err != nil {
			return nil, fmt.Errorf("object class %s: %w", oc.OID, err)
		}
		*list = values
		i = next - 1
	}
	return oc, nil
}

// schemaList reads a single value or a parenthesised list starting at i
// and returns the index after it.
func schemaList(tokens []string, i int) ([]string, int, error) {
	if i >= len(tokens) {
		return nil, i, fmt.Errorf("missing value")
	}
	if tokens[i] != "(" {
		return []string{tokens[i]}, i + 1, nil
	}

	var values []string
	for i++; i < len(tokens); i++ {
		switch tokens[i] {
		case ")":
			return values, i + 1, nil
		case "$":
		default:
			values = append(values, tokens[i])
		}
	}
	return nil, i, fmt.Errorf("unterminated list")
}

// tokenizeSchema splits a schema description into parentheses, dollar
// separators, quoted strings (unquoted) and bare words.
func tokenizeSchema(s string) []string {
	var tokens []string
	for i := 0; i < len(s); {
		c := s[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '(' || c == ')' || c == '$':
			tokens = append(tokens, string(c))
			i++
		case c == '\'':
			end := strings.IndexByte(s[i+1:], '\'')
			if end < 0 {
				tokens = append(tokens, s[i+1:])
				return tokens
			}
			tokens = append(tokens, s[i+1:i+1+end])
			i += end + 2
		default:
			j := i
			for j < len(s) && !unicode.IsSpace(rune(s[j])) && !strings.ContainsRune("()$'", rune(s[j])) {
				j++
			}
			tokens = append(tokens, s[i:j])
			i = j
		}
	}
	return tokens
}
