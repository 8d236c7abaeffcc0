package domain

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestDomainImportsNothingAbove ensures the domain package stays at the
// bottom of the dependency graph: it must not import the storage, service,
// or web layers.
func TestDomainImportsNothingAbove(t *testing.T) {
	domainPath := "github.com/example/stitchflow/internal/domain"
	forbidden := []string{
		"github.com/example/stitchflow/internal/storage",
		"github.com/example/stitchflow/internal/service",
		"github.com/example/stitchflow/internal/web",
		"github.com/example/stitchflow/internal/template",
	}

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, domainPath)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		for importPath := range pkg.Imports {
			for _, prefix := range forbidden {
				if importPath == prefix || strings.HasPrefix(importPath, prefix+"/") {
					violations = append(violations, pkg.PkgPath+" imports "+importPath)
				}
			}
		}
	}

	sort.Strings(violations)
	for _, v := range violations {
		t.Errorf("forbidden import: %s", v)
	}
}
