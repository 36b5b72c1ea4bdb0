package ligature

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
)

// Problem is a single configuration-time defect: a missing binding, a
// duplicate binding, a bad qualifier, a recursive load, and so on. It
// always names the Key involved when one is relevant, the Source(s) where
// the conflicting declarations live, and a human-readable Message.
type Problem struct {
	Key     Key
	Message string
	Sources []Source
	Cause   error
}

func (p Problem) dedupKey() string {
	var b strings.Builder
	if p.Key.Type().Valid() {
		b.WriteString(p.Key.String())
		b.WriteByte('|')
	}
	b.WriteString(p.Message)
	if p.Cause != nil {
		b.WriteByte('|')
		b.WriteString(p.Cause.Error())
	}
	for _, s := range p.Sources {
		b.WriteByte('|')
		b.WriteString(s.String())
	}
	return b.String()
}

func (p Problem) Error() string {
	var b strings.Builder
	if p.Key.Type().Valid() {
		fmt.Fprintf(&b, "%s: ", p.Key)
	}
	b.WriteString(p.Message)
	for _, s := range p.Sources {
		fmt.Fprintf(&b, "\n  bound at %s", s)
	}
	if p.Cause != nil {
		fmt.Fprintf(&b, "\n  caused by: %s", p.Cause)
	}
	return b.String()
}

func (p Problem) Unwrap() error { return p.Cause }

// ConfigurationError accumulates every independent problem discovered
// during injector build or during getBinding/getInstance structural
// validation (§7). Problems with the same dedupKey() (same cause, same
// message, same key, same sources) collapse into one.
type ConfigurationError struct {
	Problems []Problem
}

func (e *ConfigurationError) Error() string {
	if len(e.Problems) == 0 {
		return "configuration error"
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("configuration error: %s", e.Problems[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d configuration errors:", len(e.Problems))
	for i, p := range e.Problems {
		fmt.Fprintf(&b, "\n[%d] %s", i+1, p)
	}
	return b.String()
}

// Unwrap exposes each Problem to errors.Is/errors.As through Go's
// multi-error Unwrap() []error form. Merging two ConfigurationErrors copies
// their problems into one flat list, so nesting depth does not grow (see
// combineConfigurationErrors).
func (e *ConfigurationError) Unwrap() []error {
	errs := make([]error, len(e.Problems))
	for i, p := range e.Problems {
		errs[i] = p
	}
	return errs
}

// addProblem appends p, deduplicating against problems already recorded.
func (e *ConfigurationError) addProblem(p Problem) {
	key := p.dedupKey()
	for _, existing := range e.Problems {
		if existing.dedupKey() == key {
			return
		}
	}
	e.Problems = append(e.Problems, p)
}

// HasErrors reports whether any problem was recorded.
func (e *ConfigurationError) HasErrors() bool {
	return e != nil && len(e.Problems) > 0
}

// OrNil returns e if it carries problems, or nil, so accumulator sites can
// `return acc.OrNil()` without an extra `if len(...) == 0` check.
func (e *ConfigurationError) OrNil() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// combineConfigurationErrors merges any number of *ConfigurationError (or
// plain errors) into one, deduplicating problems. Used when composing
// parent/child builds and override chains, where each side may have
// accumulated its own independent set of problems.
func combineConfigurationErrors(errs ...error) error {
	merged := &ConfigurationError{}
	for _, err := range errs {
		if err == nil {
			continue
		}
		var ce *ConfigurationError
		if asConfigurationError(err, &ce) {
			for _, p := range ce.Problems {
				merged.addProblem(p)
			}
			continue
		}
		merged.addProblem(Problem{Message: err.Error(), Cause: err})
	}
	return merged.OrNil()
}

func asConfigurationError(err error, target **ConfigurationError) bool {
	for _, leaf := range multierr.Errors(err) {
		if ce, ok := leaf.(*ConfigurationError); ok {
			*target = ce
			return true
		}
	}
	if ce, ok := err.(*ConfigurationError); ok {
		*target = ce
		return true
	}
	return false
}

// DependencyStep is one hop in the chain that led to a provision failure:
// the key being resolved and where it was bound.
type DependencyStep struct {
	Key    Key
	Source Source
}

// ProvisionError is raised when user code at provision time fails:
// constructor threw, a provider returned nil for a non-nullable dependency,
// or an interceptor threw (§7). It carries the full dependency chain that
// led to the failing key, outermost first.
type ProvisionError struct {
	Key     Key
	Message string
	Cause   error
	Chain   []DependencyStep
	wrapped bool
}

func (e *ProvisionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "provision failed for %s: %s", e.Key, e.Message)
	for _, step := range e.Chain {
		fmt.Fprintf(&b, "\n  while resolving %s (%s)", step.Key, step.Source)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, "\n  caused by: %s", e.Cause)
	}
	return b.String()
}

func (e *ProvisionError) Unwrap() error { return e.Cause }

// withStep prepends a dependency-chain hop as the error propagates up
// through nested getInstance calls.
func (e *ProvisionError) withStep(step DependencyStep) *ProvisionError {
	chain := make([]DependencyStep, 0, len(e.Chain)+1)
	chain = append(chain, step)
	chain = append(chain, e.Chain...)
	return &ProvisionError{Key: e.Key, Message: e.Message, Cause: e.Cause, Chain: chain, wrapped: e.wrapped}
}

// wrapProvisionError wraps cause for key at most once (§7: "never twice"):
// a *ProvisionError is returned as a copy marked wrapped, with its key,
// message and chain unchanged (outer chain steps are added by resolve via
// withStep), and an already-marked one is returned as is; any other error
// becomes the Cause of a new, marked ProvisionError for key.
func wrapProvisionError(key Key, cause error) *ProvisionError {
	if pe, ok := cause.(*ProvisionError); ok {
		if pe.wrapped {
			return pe
		}
		wrapped := *pe
		wrapped.wrapped = true
		return &wrapped
	}
	return &ProvisionError{Key: key, Message: "provider returned an error", Cause: cause, wrapped: true}
}
