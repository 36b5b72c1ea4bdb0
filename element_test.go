package ligature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescribeModulesRendersBindingsAndScopes(t *testing.T) {
	var m ModuleFunc = func(b *Binder) {
		b.RegisterScope("request", NewContextualScope(requestKey))
		b.BindKey(KeyFor[*Widget]()).ToInstance(&Widget{Color: "blue"})
		b.BindKey(KeyFor[*Engine]()).ToProvider(func() *Engine { return &Engine{Name: "v8"} }).In("request")
	}

	descs := DescribeModules(m)

	var sawScope, sawInstance, sawProvider bool
	for _, d := range descs {
		switch d.Kind {
		case "scope":
			if d.Detail == "request" {
				sawScope = true
			}
		case "binding":
			if d.Key == KeyFor[*Widget]() {
				assert.Equal(t, "instance", d.Detail)
				sawInstance = true
			}
			if d.Key == KeyFor[*Engine]() {
				assert.Equal(t, ScopeAnnotation("request"), d.Scope)
				sawProvider = true
			}
		}
	}
	assert.True(t, sawScope, "expected a scope element for \"request\"")
	assert.True(t, sawInstance, "expected a binding element for *Widget")
	assert.True(t, sawProvider, "expected a binding element for *Engine")
}

func TestDescribeModulesDoesNotRequireAValidInjector(t *testing.T) {
	var broken ModuleFunc = func(b *Binder) {
		b.AddError("intentionally broken: %s", "for describe-only use")
	}

	descs := DescribeModules(broken)

	require.Len(t, descs, 1)
	assert.Equal(t, "error", descs[0].Kind)
	assert.Contains(t, descs[0].Detail, "intentionally broken")

	_, err := NewInjector([]Module{broken})
	assert.Error(t, err)
}

func TestDescribeModulesRecursesIntoPrivateModules(t *testing.T) {
	var outer ModuleFunc = func(b *Binder) {
		b.InstallPrivate(PrivateModuleFunc(func(pb *PrivateBinder) {
			pb.BindKey(KeyFor[*privateInternal]()).ToInstance(&privateInternal{Value: "hidden"})
			pb.Expose(KeyFor[*privateInternal]())
		}))
	}

	descs := DescribeModules(outer)

	var sawPrivateModule, sawInnerBinding, sawExpose bool
	for _, d := range descs {
		switch d.Kind {
		case "privateModule":
			sawPrivateModule = true
		case "binding":
			if d.Key == KeyFor[*privateInternal]() {
				sawInnerBinding = true
			}
		case "expose":
			if d.Key == KeyFor[*privateInternal]() {
				sawExpose = true
			}
		}
	}
	assert.True(t, sawPrivateModule, "expected a privateModule element")
	assert.True(t, sawInnerBinding, "expected the private module's own binding to be described")
	assert.True(t, sawExpose, "expected an expose element for the exposed key")
}
