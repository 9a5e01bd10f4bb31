// Package safepoint classifies functions and call sites by whether they can
// transfer control into the collector. Classification is a pure function of
// the declaration and the policy; results are memoized per declaration.
package safepoint

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/rootvet/rootvet/internal/annot"
	"github.com/rootvet/rootvet/internal/config"
	"github.com/rootvet/rootvet/internal/decl"
)

// Classifier answers safepoint queries against one policy.
type Classifier struct {
	policy *config.SafepointPolicy
	annots *annot.Resolver

	notSafepoint *lru.Cache[*decl.Func, bool]
}

// NewClassifier returns a Classifier over the given policy, memoizing up to
// cacheSize declarations.
func NewClassifier(policy *config.SafepointPolicy, annots *annot.Resolver, cacheSize int) (*Classifier, error) {
	cache, err := lru.New[*decl.Func, bool](cacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "safepoint: classification cache")
	}
	return &Classifier{policy: policy, annots: annots, notSafepoint: cache}, nil
}

// NotSafepointDecl reports whether fn is declared to never reach the
// collector, either through an explicit annotation or by living in a trusted
// file.
func (c *Classifier) NotSafepointDecl(fn *decl.Func) bool {
	if fn == nil {
		return false
	}
	if v, ok := c.notSafepoint.Get(fn); ok {
		return v
	}
	v := c.annots.Func(fn).Has(annot.NotSafepoint) || c.policy.TrustedFile(fn.File)
	c.notSafepoint.Add(fn, v)
	return v
}

// FuncIsSafepoint reports whether the body of fn is allowed to reach the
// collector. Frame entry and exit rules key off this.
func (c *Classifier) FuncIsSafepoint(fn *decl.Func) bool {
	return !c.NotSafepointDecl(fn)
}

// CallIsSafepoint reports whether a call site may reach the collector.
//
// fn is the resolved callee declaration, nil for indirect calls.
// hasCalleeExpr reports whether the site had a callee expression at all, and
// typedefAnnots carries the annotations on the callee expression's typedef
// type for declaration-less sites. Unresolvable sites default to safepoints.
func (c *Classifier) CallIsSafepoint(fn *decl.Func, hasCalleeExpr bool, typedefAnnots []string) bool {
	if fn != nil && fn.SystemHeader {
		return false
	}
	if fn != nil && c.policy.ExcludedNamespace(fn.Namespace) {
		return false
	}
	if fn == nil {
		if !hasCalleeExpr {
			return true
		}
		if len(typedefAnnots) > 0 {
			return !annot.Parse(typedefAnnots).Has(annot.NotSafepoint)
		}
		return true
	}
	if fn.Builtin || fn.Trivial {
		return false
	}
	if c.policy.DeniedName(fn.Name) {
		return false
	}
	return !c.NotSafepointDecl(fn)
}
