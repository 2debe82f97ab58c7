package identity

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func packageFiles(t *testing.T) []string {
	t.Helper()
	_, currentFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("failed to resolve current test file path")
	}
	files, err := filepath.Glob(filepath.Join(filepath.Dir(currentFile), "*.go"))
	if err != nil {
		t.Fatalf("glob files: %v", err)
	}
	out := files[:0]
	for _, f := range files {
		if !strings.HasSuffix(f, "_test.go") {
			out = append(out, f)
		}
	}
	return out
}

// No exported function or method may hand out the raw private key.
func TestArchitecture_NoPrivateKeyExports(t *testing.T) {
	fset := token.NewFileSet()
	var violations []string
	for _, file := range packageFiles(t) {
		node, err := parser.ParseFile(fset, file, nil, 0)
		if err != nil {
			t.Fatalf("parse file %s: %v", file, err)
		}
		for _, decl := range node.Decls {
			fn, ok := decl.(*ast.FuncDecl)
			if !ok || !fn.Name.IsExported() || fn.Type.Results == nil {
				continue
			}
			for _, res := range fn.Type.Results.List {
				star, ok := res.Type.(*ast.StarExpr)
				if !ok {
					continue
				}
				sel, ok := star.X.(*ast.SelectorExpr)
				if !ok || sel.Sel.Name != "PrivateKey" {
					continue
				}
				pos := fset.Position(fn.Name.Pos())
				violations = append(violations, fmt.Sprintf("%s:%d %s returns a private key", filepath.Base(file), pos.Line, fn.Name.Name))
			}
		}
	}
	if len(violations) > 0 {
		t.Fatalf("private key material must stay inside internal/identity:\n- %s", strings.Join(violations, "\n- "))
	}
}

func TestArchitecture_IdentityDoesNotImportConsumers(t *testing.T) {
	forbidden := []string{
		"recall254/go-core/internal/signing",
		"recall254/go-core/internal/verify",
		"recall254/go-core/internal/backup",
		"recall254/go-core/internal/app",
	}
	fset := token.NewFileSet()
	var violations []string
	for _, file := range packageFiles(t) {
		parsed, err := parser.ParseFile(fset, file, nil, parser.ImportsOnly)
		if err != nil {
			t.Fatalf("parse file %s: %v", file, err)
		}
		for _, imp := range parsed.Imports {
			importPath := strings.Trim(imp.Path.Value, `"`)
			for _, f := range forbidden {
				if importPath == f {
					pos := fset.Position(imp.Path.Pos())
					violations = append(violations, fmt.Sprintf("%s:%d imports %q", filepath.Base(file), pos.Line, importPath))
				}
			}
		}
	}
	if len(violations) > 0 {
		t.Fatalf("internal/identity must not depend on its consumers:\n- %s", strings.Join(violations, "\n- "))
	}
}
