package lua

import (
	"bufio"
	"io"
	"os"

	"github.com/yuin/gopher-lua/ast"
	"github.com/yuin/gopher-lua/parse"
)

// Metadata is what a unit declares about itself in its source, read
// without running any of its code.
type Metadata struct {
	Name         string
	Version      string
	Description  string
	Author       string
	Kind         string
	Main         string
	Dependencies []string
	Capabilities []string

	// Declared is false when no metadata table was found.
	Declared bool
}

// ProbeFile parses the unit at path and extracts its metadata.
func ProbeFile(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, err
	}
	defer f.Close()
	return Probe(bufio.NewReader(f), path)
}

// Probe parses a unit and extracts its metadata.
//
// The metadata table is the table the chunk returns. A chunk that returns
// a name is resolved to the table constructor assigned to that name at
// the top level. When the chunk returns nothing, a single top-level table
// constructor with a string name field is used instead.
func Probe(r io.Reader, name string) (Metadata, error) {
	chunk, err := parse.Parse(r, name)
	if err != nil {
		return Metadata{}, &SyntaxError{Path: name, Err: err}
	}

	tables := make(map[string]*ast.TableExpr)
	var order []string
	var returned ast.Expr

	for _, stmt := range chunk {
		switch s := stmt.(type) {
		case *ast.LocalAssignStmt:
			for i, n := range s.Names {
				if i < len(s.Exprs) {
					if t, ok := s.Exprs[i].(*ast.TableExpr); ok {
						tables[n] = t
						order = append(order, n)
					}
				}
			}
		case *ast.AssignStmt:
			for i, lhs := range s.Lhs {
				id, ok := lhs.(*ast.IdentExpr)
				if !ok || i >= len(s.Rhs) {
					continue
				}
				if t, ok := s.Rhs[i].(*ast.TableExpr); ok {
					tables[id.Value] = t
					order = append(order, id.Value)
				}
			}
		case *ast.ReturnStmt:
			if len(s.Exprs) > 0 {
				returned = s.Exprs[0]
			}
		}
	}

	var table *ast.TableExpr
	switch e := returned.(type) {
	case *ast.TableExpr:
		table = e
	case *ast.IdentExpr:
		table = tables[e.Value]
	case nil:
		var named []*ast.TableExpr
		seen := make(map[*ast.TableExpr]bool)
		for _, n := range order {
			t := tables[n]
			if seen[t] {
				continue
			}
			seen[t] = true
			if _, ok := stringField(t, "name"); ok {
				named = append(named, t)
			}
		}
		if len(named) == 1 {
			table = named[0]
		}
	}

	if table == nil {
		return Metadata{}, nil
	}
	return metadataFromTable(table), nil
}

func metadataFromTable(t *ast.TableExpr) Metadata {
	md := Metadata{Declared: true}
	md.Name, _ = stringField(t, "name")
	md.Version, _ = stringField(t, "version")
	md.Description, _ = stringField(t, "description")
	md.Author, _ = stringField(t, "author")
	md.Main, _ = stringField(t, "main")
	if kind, ok := stringField(t, "kind"); ok {
		md.Kind = kind
	} else {
		md.Kind, _ = stringField(t, "plugin_type")
	}
	md.Dependencies = stringListField(t, "dependencies")
	md.Capabilities = stringListField(t, "capabilities")
	return md
}

func field(t *ast.TableExpr, key string) ast.Expr {
	for _, f := range t.Fields {
		if k, ok := f.Key.(*ast.StringExpr); ok && k.Value == key {
			return f.Value
		}
	}
	return nil
}

func stringField(t *ast.TableExpr, key string) (string, bool) {
	if s, ok := field(t, key).(*ast.StringExpr); ok {
		return s.Value, true
	}
	return "", false
}

func stringListField(t *ast.TableExpr, key string) []string {
	list, ok := field(t, key).(*ast.TableExpr)
	if !ok {
		return nil
	}
	var out []string
	for _, f := range list.Fields {
		if f.Key != nil {
			continue
		}
		if s, ok := f.Value.(*ast.StringExpr); ok {
			out = append(out, s.Value)
		}
	}
	return out
}
