//go:build cgo

package syntax

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// ExtractModule collects import/require targets and named/default exports.
// Specifiers are deduplicated and kept in source order.
func ExtractModule(root *sitter.Node, source []byte) Module {
	var m Module
	seenImport := map[string]bool{}
	seenExport := map[string]bool{}

	addImport := func(spec string) {
		if spec == "" || seenImport[spec] {
			return
		}
		seenImport[spec] = true
		m.Imports = append(m.Imports, spec)
	}
	addExport := func(name string) {
		if name == "" || seenExport[name] {
			return
		}
		seenExport[name] = true
		m.Exports = append(m.Exports, name)
	}

	Walk(root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "import_statement", "import_require_clause":
			addImport(stringLiteral(n.ChildByFieldName("source"), source))
		case "export_statement":
			addImport(stringLiteral(n.ChildByFieldName("source"), source))
			for _, name := range exportedNames(n, source) {
				addExport(name)
			}
		case "call_expression":
			if spec, ok := requireTarget(n, source); ok {
				addImport(spec)
			}
		}
		return true
	})

	if m.Imports == nil {
		m.Imports = []string{}
	}
	if m.Exports == nil {
		m.Exports = []string{}
	}
	return m
}

// requireTarget matches require("x") and dynamic import("x").
func requireTarget(call *sitter.Node, source []byte) (string, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	if fn.Type() != "import" && !(fn.Type() == "identifier" && fn.Content(source) == "require") {
		return "", false
	}
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return "", false
	}
	first := args.NamedChild(0)
	if first.Type() != "string" {
		return "", false
	}
	return stringLiteral(first, source), true
}

func exportedNames(n *sitter.Node, source []byte) []string {
	var names []string
	for i := 0; i < int(n.ChildCount()); i++ {
		child := n.Child(i)
		switch child.Type() {
		case "default":
			names = append(names, "default")
		case "export_clause":
			for j := 0; j < int(child.NamedChildCount()); j++ {
				spec := child.NamedChild(j)
				if spec.Type() != "export_specifier" {
					continue
				}
				name := spec.ChildByFieldName("alias")
				if name == nil {
					name = spec.ChildByFieldName("name")
				}
				if name != nil {
					names = append(names, name.Content(source))
				}
			}
		case "*":
			if n.ChildByFieldName("source") != nil {
				names = append(names, "*")
			}
		}
	}
	if decl := n.ChildByFieldName("declaration"); decl != nil {
		names = append(names, declarationNames(decl, source)...)
	}
	if value := n.ChildByFieldName("value"); value != nil {
		if name := value.ChildByFieldName("name"); name != nil {
			names = append(names, name.Content(source))
		}
	}
	return names
}

func declarationNames(decl *sitter.Node, source []byte) []string {
	switch decl.Type() {
	case "lexical_declaration", "variable_declaration":
		var out []string
		for i := 0; i < int(decl.NamedChildCount()); i++ {
			d := decl.NamedChild(i)
			if d.Type() != "variable_declarator" {
				continue
			}
			if name := d.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				out = append(out, name.Content(source))
			}
		}
		return out
	default:
		if name := decl.ChildByFieldName("name"); name != nil {
			return []string{name.Content(source)}
		}
	}
	return nil
}

func stringLiteral(n *sitter.Node, source []byte) string {
	if n == nil {
		return ""
	}
	return strings.Trim(n.Content(source), "\"'`")
}
