package ligature

import (
	"context"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Engine struct {
	Name string
}

type Car struct {
	Engine *Engine `inject:""`
}

func TestSimpleConstructorInjectionViaFieldFallback(t *testing.T) {
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*Engine]()).ToInstance(&Engine{Name: "v8"})
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	v, err := injector.GetInstance(context.Background(), KeyFor[Car]())
	require.NoError(t, err)
	car := v.(*Car)
	require.NotNil(t, car.Engine)
	assert.Equal(t, "v8", car.Engine.Name)
}

type Pinger interface{ Ping() string }
type Ponger interface{ Pong() string }

type pingerImpl struct {
	Pal Ponger `inject:""`
}

func (p *pingerImpl) Ping() string { return "ping:" + p.Pal.Pong() }

type pongerImpl struct {
	Pal Pinger `inject:""`
}

func (p *pongerImpl) Pong() string { return "pong" }

type pingerProxy struct{ ProxyBase }

func (p *pingerProxy) Ping() string { return p.Slot().Get().(Pinger).Ping() }

func TestCircularDependencyResolvesThroughProxy(t *testing.T) {
	pingerType := reflect.TypeOf((*Pinger)(nil)).Elem()
	pongerType := reflect.TypeOf((*Ponger)(nil)).Elem()

	var m ModuleFunc = func(b *Binder) {
		b.RegisterCircularProxyFactory(pingerType, func(slot *ProxySlot) any {
			return &pingerProxy{ProxyBase{slot: slot}}
		})
		b.Bind(pingerType).To(reflect.TypeOf(pingerImpl{}))
		b.Bind(pongerType).To(reflect.TypeOf(pongerImpl{}))
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	v, err := injector.GetInstance(context.Background(), KeyOf(pingerType))
	require.NoError(t, err)
	assert.Equal(t, "ping:pong", v.(Pinger).Ping())
}

func TestCircularDependencyFailsWithoutProxyFactory(t *testing.T) {
	pingerType := reflect.TypeOf((*Pinger)(nil)).Elem()
	pongerType := reflect.TypeOf((*Ponger)(nil)).Elem()

	var m ModuleFunc = func(b *Binder) {
		b.Bind(pingerType).To(reflect.TypeOf(pingerImpl{}))
		b.Bind(pongerType).To(reflect.TypeOf(pongerImpl{}))
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	_, err = injector.GetInstance(context.Background(), KeyOf(pingerType))
	assert.Error(t, err)
}

type ColorQualifier struct{ Name string }

type Widget struct {
	Color string
}

func TestQualifiedBindingsAreIndependent(t *testing.T) {
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*Widget]().WithAnnotation(QualifierFrom(ColorQualifier{Name: "red"}))).ToInstance(&Widget{Color: "red"})
		b.BindKey(KeyFor[*Widget]().WithAnnotation(QualifierFrom(ColorQualifier{Name: "blue"}))).ToInstance(&Widget{Color: "blue"})
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	red, err := injector.GetInstance(context.Background(), KeyFor[*Widget]().WithAnnotation(QualifierFrom(ColorQualifier{Name: "red"})))
	require.NoError(t, err)
	assert.Equal(t, "red", red.(*Widget).Color)

	blue, err := injector.GetInstance(context.Background(), KeyFor[*Widget]().WithAnnotation(QualifierFrom(ColorQualifier{Name: "blue"})))
	require.NoError(t, err)
	assert.Equal(t, "blue", blue.(*Widget).Color)
}

func TestLenientPolicyFallsBackToAnnotationTypeBinding(t *testing.T) {
	colorType := reflect.TypeOf(ColorQualifier{})
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*Widget]().WithAnnotation(AnnotationType(colorType))).ToInstance(&Widget{Color: "default"})
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	v, err := injector.GetInstance(context.Background(), KeyFor[*Widget]().WithAnnotation(QualifierFrom(ColorQualifier{})))
	require.NoError(t, err)
	assert.Equal(t, "default", v.(*Widget).Color)
}

func TestStrictPolicyRejectsAnnotationTypeFallback(t *testing.T) {
	colorType := reflect.TypeOf(ColorQualifier{})
	var m ModuleFunc = func(b *Binder) {
		b.RequireExactBindingAnnotations()
		b.BindKey(KeyFor[*Widget]().WithAnnotation(AnnotationType(colorType))).ToInstance(&Widget{Color: "default"})
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	_, err = injector.GetInstance(context.Background(), KeyFor[*Widget]().WithAnnotation(QualifierFrom(ColorQualifier{})))
	assert.Error(t, err)
}

func TestOverrideReplacesBaseBinding(t *testing.T) {
	base := ModuleFunc(func(b *Binder) {
		b.BindKey(KeyFor[*Widget]()).ToInstance(&Widget{Color: "base"})
	})
	overlay := ModuleFunc(func(b *Binder) {
		b.BindKey(KeyFor[*Widget]()).ToInstance(&Widget{Color: "overlay"})
	})

	injector, err := NewInjector([]Module{Override(base).With(overlay)})
	require.NoError(t, err)

	v, err := injector.GetInstance(context.Background(), KeyFor[*Widget]())
	require.NoError(t, err)
	assert.Equal(t, "overlay", v.(*Widget).Color)
}

type RequiredDep struct{}

type NeedsDep struct {
	Dep *RequiredDep `inject:""`
}

func TestMissingNonNullableDependencyFails(t *testing.T) {
	injector, err := NewInjector(nil)
	require.NoError(t, err)

	_, err = injector.GetInstance(context.Background(), KeyFor[*RequiredDep]())
	assert.Error(t, err)

	_, err = injector.GetInstance(context.Background(), KeyFor[NeedsDep]())
	assert.Error(t, err)
}

type OptionalDep struct {
	Dep *RequiredDep `inject:"optional"`
}

func TestOptionalFieldToleratesMissingBinding(t *testing.T) {
	injector, err := NewInjector(nil)
	require.NoError(t, err)

	v, err := injector.GetInstance(context.Background(), KeyFor[OptionalDep]())
	require.NoError(t, err)
	assert.Nil(t, v.(*OptionalDep).Dep)
}

func TestChildInjectorSeesParentBindingsButNotViceVersa(t *testing.T) {
	parentModule := ModuleFunc(func(b *Binder) {
		b.BindKey(KeyFor[*Engine]()).ToInstance(&Engine{Name: "parent-engine"})
	})
	parent, err := NewInjector([]Module{parentModule})
	require.NoError(t, err)

	childModule := ModuleFunc(func(b *Binder) {
		b.BindKey(KeyFor[*Widget]()).ToInstance(&Widget{Color: "child-only"})
	})
	child, err := parent.CreateChildInjector(childModule)
	require.NoError(t, err)

	v, err := child.GetInstance(context.Background(), KeyFor[*Engine]())
	require.NoError(t, err)
	assert.Equal(t, "parent-engine", v.(*Engine).Name)

	_, err = parent.GetInstance(context.Background(), KeyFor[*Widget]())
	assert.Error(t, err)
}

func TestChildCannotRebindParentsExplicitKey(t *testing.T) {
	parentModule := ModuleFunc(func(b *Binder) {
		b.BindKey(KeyFor[*Engine]()).ToInstance(&Engine{Name: "parent-engine"})
	})
	parent, err := NewInjector([]Module{parentModule})
	require.NoError(t, err)

	childModule := ModuleFunc(func(b *Binder) {
		b.BindKey(KeyFor[*Engine]()).ToInstance(&Engine{Name: "child-engine"})
	})
	_, err = parent.CreateChildInjector(childModule)
	assert.Error(t, err)
}

func TestProductionStagePromotesSingletonToEager(t *testing.T) {
	built := 0
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*Engine]()).ToProvider(func() *Engine {
			built++
			return &Engine{Name: "eager"}
		}).In(Singleton)
	}

	_, err := NewInjector([]Module{m}, WithStage(Production))
	require.NoError(t, err)
	assert.Equal(t, 1, built, "Production should have provisioned the Singleton eagerly at build time")
}

func TestDevelopmentStageLeavesSingletonLazy(t *testing.T) {
	built := 0
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*Engine]()).ToProvider(func() *Engine {
			built++
			return &Engine{Name: "lazy"}
		}).In(Singleton)
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)
	assert.Equal(t, 0, built)

	_, err = injector.GetInstance(context.Background(), KeyFor[*Engine]())
	require.NoError(t, err)
	assert.Equal(t, 1, built)
}

type privateInternal struct{ Value string }

func TestPrivateModuleOnlyExposesDeclaredKeys(t *testing.T) {
	var outer ModuleFunc = func(b *Binder) {
		b.InstallPrivate(PrivateModuleFunc(func(pb *PrivateBinder) {
			pb.BindKey(KeyFor[*privateInternal]()).ToInstance(&privateInternal{Value: "hidden"})
			pb.BindKey(KeyFor[*Widget]()).ToInstance(&Widget{Color: "exposed"})
			pb.Expose(KeyFor[*Widget]())
		}))
	}

	injector, err := NewInjector([]Module{outer})
	require.NoError(t, err)

	v, err := injector.GetInstance(context.Background(), KeyFor[*Widget]())
	require.NoError(t, err)
	assert.Equal(t, "exposed", v.(*Widget).Color)

	_, err = injector.GetInstance(context.Background(), KeyFor[*privateInternal]())
	assert.Error(t, err)
}

func TestBindConstantWithConversion(t *testing.T) {
	var m ModuleFunc = func(b *Binder) {
		b.BindConstant().AnnotatedWith(Named("maxRetries")).To("5")
	}
	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	v, err := injector.GetInstance(context.Background(), KeyFor[int]().WithAnnotation(Named("maxRetries")))
	require.NoError(t, err)
	assert.Equal(t, 5, v.(int))
}

func TestDuplicateTargetOnBindingBuilderIsAConfigurationError(t *testing.T) {
	var m ModuleFunc = func(b *Binder) {
		bb := b.BindKey(KeyFor[*Widget]())
		bb.ToInstance(&Widget{Color: "first"})
		bb.ToInstance(&Widget{Color: "second"})
	}

	_, err := NewInjector([]Module{m})
	assert.Error(t, err)
}

func TestInterceptorBindingWithoutBytecodeGenFailsBuild(t *testing.T) {
	var m ModuleFunc = func(b *Binder) {
		b.BindInterceptor(func(Key) bool { return true }, 0, func() MethodInterceptor {
			return MethodInterceptorFunc(func(inv *MethodInvocation) ([]any, error) { return inv.Proceed() })
		})
	}

	_, err := NewInjector([]Module{m})
	assert.Error(t, err)
}

type jitLinkedHintType struct{}

func (jitLinkedHintType) DefaultBoundTo() Key { return KeyFor[*Widget]() }

func TestJITSynthesisConsultsDefaultLinkedHint(t *testing.T) {
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*Widget]()).ToInstance(&Widget{Color: "from-linked-hint"})
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	v, err := injector.GetInstance(context.Background(), KeyFor[jitLinkedHintType]())
	require.NoError(t, err)
	assert.Equal(t, "from-linked-hint", v.(*Widget).Color)
}

type jitProvidedHintType struct{}

func (jitProvidedHintType) DefaultProvidedBy() Key { return KeyFor[*Widget]().ProviderKey() }

func TestJITSynthesisConsultsDefaultProvidedHint(t *testing.T) {
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*Widget]().ProviderKey()).ToInstance(func() (*Widget, error) {
			return &Widget{Color: "from-provided-hint"}, nil
		})
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	v, err := injector.GetInstance(context.Background(), KeyFor[jitProvidedHintType]())
	require.NoError(t, err)
	assert.Equal(t, "from-provided-hint", v.(*Widget).Color)
}

func TestMissingScopeReferenceIsAConfigurationError(t *testing.T) {
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*Widget]()).ToProvider(func() *Widget { return &Widget{Color: "x"} }).In("never-registered")
	}

	_, err := NewInjector([]Module{m})
	assert.Error(t, err)
}

func TestDuplicateRegisterScopeIsAConfigurationError(t *testing.T) {
	var m ModuleFunc = func(b *Binder) {
		b.RegisterScope("dup", NewContextualScope(requestKey))
		b.RegisterScope("dup", NewContextualScope(requestKey))
	}

	_, err := NewInjector([]Module{m})
	assert.Error(t, err)
}

func TestOverrideCannotReplaceAnAlreadyUsedScope(t *testing.T) {
	shared := newSingletonScope()
	base := ModuleFunc(func(b *Binder) {
		b.RegisterScope("shared", shared)
		b.BindKey(KeyFor[*Widget]()).ToProvider(func() *Widget { return &Widget{Color: "base"} }).In("shared")
	})

	baseOnly, err := NewInjector([]Module{base})
	require.NoError(t, err)
	_, err = baseOnly.GetInstance(context.Background(), KeyFor[*Widget]())
	require.NoError(t, err)

	overlay := ModuleFunc(func(b *Binder) {
		b.RegisterScope("shared", newSingletonScope())
		b.BindKey(KeyFor[*Widget]()).ToProvider(func() *Widget { return &Widget{Color: "overlay"} }).In("shared")
	})

	_, err = NewInjector([]Module{Override(base).With(overlay)})
	assert.Error(t, err)
}

func TestToolStageNeverProvisions(t *testing.T) {
	built := 0
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*Widget]()).ToProvider(func() *Widget {
			built++
			return &Widget{Color: "eager"}
		}).In(EagerSingleton)
	}

	_, err := NewInjector([]Module{m}, WithStage(Tool))
	require.NoError(t, err)
	assert.Equal(t, 0, built)
}

func TestShutdownDoesNotResetInheritedSingletonScope(t *testing.T) {
	built := 0
	var m ModuleFunc = func(b *Binder) {
		b.BindKey(KeyFor[*Widget]()).ToProvider(func() *Widget {
			built++
			return &Widget{Color: "root"}
		}).In(Singleton)
	}

	root, err := NewInjector([]Module{m})
	require.NoError(t, err)

	first, err := root.GetInstance(context.Background(), KeyFor[*Widget]())
	require.NoError(t, err)

	child, err := root.CreateChildInjector()
	require.NoError(t, err)
	child.Shutdown()

	second, err := root.GetInstance(context.Background(), KeyFor[*Widget]())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, built)
}

func TestCircularDependencyDisabledReportsDistinctMessage(t *testing.T) {
	pingerType := reflect.TypeOf((*Pinger)(nil)).Elem()
	pongerType := reflect.TypeOf((*Ponger)(nil)).Elem()

	var m ModuleFunc = func(b *Binder) {
		b.Bind(pingerType).To(reflect.TypeOf(pingerImpl{}))
		b.Bind(pongerType).To(reflect.TypeOf(pongerImpl{}))
	}

	injector, err := NewInjector([]Module{m}, WithCircularProxiesDisabled())
	require.NoError(t, err)

	_, err = injector.GetInstance(context.Background(), KeyOf(pingerType))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependencies are disabled")
}

type ConcreteA struct {
	B *ConcreteB `inject:""`
}

type ConcreteB struct {
	A *ConcreteA `inject:""`
}

func TestConcreteCycleReportsNotAnInterface(t *testing.T) {
	aPtrType := reflect.TypeOf((*ConcreteA)(nil))
	bPtrType := reflect.TypeOf((*ConcreteB)(nil))

	var m ModuleFunc = func(b *Binder) {
		b.Bind(aPtrType).To(reflect.TypeOf(ConcreteA{}))
		b.Bind(bPtrType).To(reflect.TypeOf(ConcreteB{}))
	}

	injector, err := NewInjector([]Module{m})
	require.NoError(t, err)

	_, err = injector.GetInstance(context.Background(), KeyOf(aPtrType))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not an interface")
}
