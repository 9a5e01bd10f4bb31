// Package config holds the checker's configuration: the vocabulary of
// GC-tracked types, the safepoint classification policy, the boxing caches,
// and the names bound to the rooting intrinsics. Defaults reproduce the Julia
// runtime conventions; a YAML file can override any subset of them.
package config

import (
	"os"
	"path"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/rootvet/rootvet/internal/decl"
)

// Config is the root configuration object. The zero value is not usable; start
// from Default and override.
type Config struct {
	Types      TypePolicy      `yaml:"types"`
	Safepoints SafepointPolicy `yaml:"safepoints"`
	Boxing     BoxingPolicy    `yaml:"boxing"`
	Intrinsics IntrinsicPolicy `yaml:"intrinsics"`
	Caches     CachePolicy     `yaml:"caches"`
}

// === Type policy ===

// TypePolicy classifies type spellings. All matching is suffix-based on the
// base spelling (pointer stars stripped): typedef aliases and struct tags both
// resolve to the same suffix in practice.
type TypePolicy struct {
	// TrackedSuffixes name the types whose values the collector may move or
	// reclaim. Matching is case-insensitive.
	TrackedSuffixes []string `yaml:"tracked_suffixes"`

	// GloballyRootedSuffixes name types whose values are permanently rooted
	// wherever they appear. Matching is case-sensitive.
	GloballyRootedSuffixes []string `yaml:"globally_rooted_suffixes"`

	// ContainerSuffixes and CollectionSuffixes describe the one sanctioned
	// escape hatch for deriving an untracked value from a tracked one: a
	// collection embedded in a container keeps the derivation tracked.
	ContainerSuffixes  []string `yaml:"container_suffixes"`
	CollectionSuffixes []string `yaml:"collection_suffixes"`
}

func suffixMatch(t decl.TypeName, suffixes []string, fold bool) bool {
	base := t.Base()
	if base == "" {
		return false
	}
	if fold {
		base = strings.ToLower(base)
	}
	for _, s := range suffixes {
		if fold {
			s = strings.ToLower(s)
		}
		if strings.HasSuffix(base, s) {
			return true
		}
	}
	return false
}

// Tracked reports whether values of t are managed by the collector.
func (p *TypePolicy) Tracked(t decl.TypeName) bool {
	return suffixMatch(t, p.TrackedSuffixes, true)
}

// GloballyRooted reports whether values of t are permanently rooted by type.
func (p *TypePolicy) GloballyRooted(t decl.TypeName) bool {
	return suffixMatch(t, p.GloballyRootedSuffixes, false)
}

// Container reports whether t may embed tracked collections.
func (p *TypePolicy) Container(t decl.TypeName) bool {
	return suffixMatch(t, p.ContainerSuffixes, false)
}

// Collection reports whether t is a tracked-when-embedded collection.
func (p *TypePolicy) Collection(t decl.TypeName) bool {
	return suffixMatch(t, p.CollectionSuffixes, false)
}

// === Safepoint policy ===

// SafepointPolicy drives call-site classification: which callees can transfer
// control into the collector.
type SafepointPolicy struct {
	// ExcludedNamespaces are namespaces whose members never safepoint.
	ExcludedNamespaces []string `yaml:"excluded_namespaces"`

	// DeniedPrefixes are callee name prefixes treated as not-safepoints,
	// except for names listed in Reentrant.
	DeniedPrefixes []string `yaml:"denied_prefixes"`

	// Reentrant lists names that match a denied prefix but may still re-enter
	// the runtime.
	Reentrant []string `yaml:"reentrant"`

	// TrustedFilePrefixes are file basename prefixes whose declarations are
	// treated as annotated not-safepoint.
	TrustedFilePrefixes []string `yaml:"trusted_file_prefixes"`

	// LockNames and UnlockNames are the mutex entry points that close and
	// reopen safepoint regions.
	LockNames   []string `yaml:"lock_names"`
	UnlockNames []string `yaml:"unlock_names"`
}

// ExcludedNamespace reports whether ns never safepoints.
func (p *SafepointPolicy) ExcludedNamespace(ns string) bool {
	return ns != "" && contains(p.ExcludedNamespaces, ns)
}

// DeniedName reports whether name matches a denied prefix and is not listed as
// reentrant.
func (p *SafepointPolicy) DeniedName(name string) bool {
	if contains(p.Reentrant, name) {
		return false
	}
	for _, pre := range p.DeniedPrefixes {
		if strings.HasPrefix(name, pre) {
			return true
		}
	}
	return false
}

// TrustedFile reports whether declarations in file are trusted not to
// safepoint.
func (p *SafepointPolicy) TrustedFile(file string) bool {
	base := path.Base(file)
	for _, pre := range p.TrustedFilePrefixes {
		if strings.HasPrefix(base, pre) {
			return true
		}
	}
	return false
}

// Lock reports whether name acquires a runtime mutex.
func (p *SafepointPolicy) Lock(name string) bool { return contains(p.LockNames, name) }

// Unlock reports whether name releases a runtime mutex.
func (p *SafepointPolicy) Unlock(name string) bool { return contains(p.UnlockNames, name) }

// === Boxing policy ===

// BoxingPolicy describes the runtime's interned box caches: calls to matching
// functions with a compile-time constant in the cached range return
// permanently rooted values.
type BoxingPolicy struct {
	// Prefixes match box constructors; UnsignedPrefixes mark the subset whose
	// cache covers the unsigned range.
	Prefixes         []string `yaml:"prefixes"`
	UnsignedPrefixes []string `yaml:"unsigned_prefixes"`

	// Cached ranges, inclusive on both ends.
	SignedMin   int64 `yaml:"signed_min"`
	SignedMax   int64 `yaml:"signed_max"`
	UnsignedMin int64 `yaml:"unsigned_min"`
	UnsignedMax int64 `yaml:"unsigned_max"`
}

// Match reports whether name is a box constructor, and whether its cache is
// the unsigned one.
func (p *BoxingPolicy) Match(name string) (unsigned, ok bool) {
	for _, pre := range p.UnsignedPrefixes {
		if strings.HasPrefix(name, pre) {
			return true, true
		}
	}
	for _, pre := range p.Prefixes {
		if strings.HasPrefix(name, pre) {
			return false, true
		}
	}
	return false, false
}

// Interned reports whether a constant argument v to a box constructor lands in
// the cached range.
func (p *BoxingPolicy) Interned(unsigned bool, v int64) bool {
	if unsigned {
		return v >= p.UnsignedMin && v <= p.UnsignedMax
	}
	return v >= p.SignedMin && v <= p.SignedMax
}

// === Intrinsic bindings ===

// IntrinsicPolicy binds checker behavior to callee names. Each list holds the
// accepted spellings for one intrinsic.
type IntrinsicPolicy struct {
	// PushNames root individual slots; the count of slots is the call's arity.
	PushNames []string `yaml:"push_names"`

	// PushArgsNames root a contiguous argument array.
	PushArgsNames []string `yaml:"push_args_names"`

	// PushListNames root the items buffer of an arraylist; ListItemsField is
	// the field holding that buffer.
	PushListNames  []string `yaml:"push_list_names"`
	ListItemsField string   `yaml:"list_items_field"`

	PopNames      []string `yaml:"pop_names"`
	PromiseNames  []string `yaml:"promise_names"`
	PreserveNames []string `yaml:"preserve_names"`
	GCEnableNames []string `yaml:"gc_enable_names"`
}

// Push reports whether name pushes individual root slots.
func (p *IntrinsicPolicy) Push(name string) bool { return contains(p.PushNames, name) }

// PushArgs reports whether name pushes a root array.
func (p *IntrinsicPolicy) PushArgs(name string) bool { return contains(p.PushArgsNames, name) }

// PushList reports whether name pushes an arraylist's items buffer.
func (p *IntrinsicPolicy) PushList(name string) bool { return contains(p.PushListNames, name) }

// Pop reports whether name pops the innermost root frame.
func (p *IntrinsicPolicy) Pop(name string) bool { return contains(p.PopNames, name) }

// Promise reports whether name asserts permanent rootedness of its argument.
func (p *IntrinsicPolicy) Promise(name string) bool { return contains(p.PromiseNames, name) }

// Preserve reports whether name transfers its argument to a preserved arena.
func (p *IntrinsicPolicy) Preserve(name string) bool { return contains(p.PreserveNames, name) }

// GCEnable reports whether name toggles collection.
func (p *IntrinsicPolicy) GCEnable(name string) bool { return contains(p.GCEnableNames, name) }

// === Caches ===

// CachePolicy sizes the memo tables for annotation and safepoint resolution.
type CachePolicy struct {
	Annotations     int `yaml:"annotations"`
	Classifications int `yaml:"classifications"`
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Default returns the configuration matching the Julia runtime conventions.
func Default() *Config {
	return &Config{
		Types: TypePolicy{
			TrackedSuffixes: []string{
				"jl_value_t",
				"jl_svec_t",
				"jl_sym_t",
				"jl_expr_t",
				"jl_code_info_t",
				"jl_array_t",
				"jl_genericmemory_t",
				"jl_method_t",
				"jl_method_instance_t",
				"jl_debuginfo_t",
				"jl_tupletype_t",
				"jl_datatype_t",
				"jl_typemap_entry_t",
				"jl_typemap_level_t",
				"jl_typename_t",
				"jl_module_t",
				"jl_gc_tracked_buffer_t",
				"jl_binding_t",
				"jl_binding_partition_t",
				"jl_ordereddict_t",
				"jl_tvar_t",
				"jl_typemap_t",
				"jl_unionall_t",
				"jl_methtable_t",
				"jl_methcache_t",
				"jl_cgval_t",
				"jl_codectx_t",
				"jl_ast_context_t",
				"jl_code_instance_t",
				"jl_excstack_t",
				"jl_task_t",
				"jl_uniontype_t",
				"jl_method_match_t",
				"jl_vararg_t",
				"jl_opaque_closure_t",
				"jl_globalref_t",
				"jl_abi_override_t",
				// Interior-pointer aggregates allowed as roots.
				"jl_ircode_state",
				"typemap_intersection_env",
				"interpreter_state",
				"jl_typeenv_t",
				"jl_stenv_t",
				"jl_varbinding_t",
				"set_world",
			},
			GloballyRootedSuffixes: []string{"jl_sym_t"},
			ContainerSuffixes:      []string{"jl_module_t"},
			CollectionSuffixes:     []string{"arraylist_t"},
		},
		Safepoints: SafepointPolicy{
			ExcludedNamespaces:  []string{"llvm", "std"},
			DeniedPrefixes:      []string{"uv_", "unw_", "_U"},
			Reentrant:           []string{"uv_run"},
			TrustedFilePrefixes: []string{"llvm-"},
			LockNames: []string{
				"uv_mutex_lock",
				"uv_mutex_trylock",
				"pthread_mutex_lock",
				"pthread_mutex_trylock",
				"__gthread_mutex_lock",
				"__gthread_mutex_trylock",
				"__gthread_recursive_mutex_lock",
				"__gthread_recursive_mutex_trylock",
				"pthread_spin_lock",
				"pthread_spin_trylock",
				"uv_rwlock_rdlock",
				"uv_rwlock_tryrdlock",
				"uv_rwlock_wrlock",
				"uv_rwlock_trywrlock",
			},
			UnlockNames: []string{
				"uv_mutex_unlock",
				"pthread_mutex_unlock",
				"__gthread_mutex_unlock",
				"__gthread_recursive_mutex_unlock",
				"pthread_spin_unlock",
				"uv_rwlock_rdunlock",
				"uv_rwlock_wrunlock",
			},
		},
		Boxing: BoxingPolicy{
			Prefixes:         []string{"jl_box_", "ijl_box_"},
			UnsignedPrefixes: []string{"jl_box_u", "ijl_box_u"},
			SignedMin:        -512,
			SignedMax:        511,
			UnsignedMin:      0,
			UnsignedMax:      1023,
		},
		Intrinsics: IntrinsicPolicy{
			PushNames: []string{
				"JL_GC_PUSH1",
				"JL_GC_PUSH2",
				"JL_GC_PUSH3",
				"JL_GC_PUSH4",
				"JL_GC_PUSH5",
				"JL_GC_PUSH6",
				"JL_GC_PUSH7",
				"JL_GC_PUSH8",
				"JL_GC_PUSH9",
			},
			PushArgsNames:  []string{"_JL_GC_PUSHARGS"},
			PushListNames:  []string{"jl_gc_push_arraylist"},
			ListItemsField: "items",
			PopNames:       []string{"JL_GC_POP"},
			PromiseNames:   []string{"JL_GC_PROMISE_ROOTED"},
			PreserveNames:  []string{"jl_ast_preserve"},
			GCEnableNames:  []string{"jl_gc_enable", "ijl_gc_enable"},
		},
		Caches: CachePolicy{
			Annotations:     4096,
			Classifications: 4096,
		},
	}
}

// Load reads a YAML file and applies it over Default. Unknown keys are
// rejected so typos surface immediately.
func Load(file string) (*Config, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	cfg := Default()
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrapf(err, "config: parse %s", file)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config: validate %s", file)
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if len(c.Types.TrackedSuffixes) == 0 {
		return errors.New("types: tracked_suffixes must not be empty")
	}
	if c.Boxing.SignedMin > c.Boxing.SignedMax {
		return errors.Errorf("boxing: signed range [%d, %d] is inverted", c.Boxing.SignedMin, c.Boxing.SignedMax)
	}
	if c.Boxing.UnsignedMin > c.Boxing.UnsignedMax {
		return errors.Errorf("boxing: unsigned range [%d, %d] is inverted", c.Boxing.UnsignedMin, c.Boxing.UnsignedMax)
	}
	if c.Boxing.UnsignedMin < 0 {
		return errors.Errorf("boxing: unsigned_min %d is negative", c.Boxing.UnsignedMin)
	}
	if c.Intrinsics.ListItemsField == "" {
		return errors.New("intrinsics: list_items_field must not be empty")
	}
	if c.Caches.Annotations <= 0 || c.Caches.Classifications <= 0 {
		return errors.New("caches: sizes must be positive")
	}
	return nil
}
