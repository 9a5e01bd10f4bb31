package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rootvet/rootvet/internal/decl"
)

func TestDefault_Validates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() should validate: %v", err)
	}
}

func TestTypePolicy_Tracked(t *testing.T) {
	p := &Default().Types

	tests := []struct {
		typ  string
		want bool
	}{
		{"jl_value_t *", true},
		{"jl_value_t **", true},
		{"jl_svec_t *", true},
		{"JL_VALUE_T *", true}, // suffix match folds case
		{"jl_module_t *", true},
		{"struct _jl_value_t *", true},
		{"int", false},
		{"char *", false},
		{"uv_loop_t *", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			if got := p.Tracked(decl.TypeName(tt.typ)); got != tt.want {
				t.Errorf("Tracked(%q) = %v, want %v", tt.typ, got, tt.want)
			}
		})
	}
}

func TestTypePolicy_GloballyRooted(t *testing.T) {
	p := &Default().Types

	if !p.GloballyRooted("jl_sym_t *") {
		t.Error("symbols are permanently rooted")
	}
	if p.GloballyRooted("jl_value_t *") {
		t.Error("plain values are not permanently rooted")
	}
	if p.GloballyRooted("JL_SYM_T *") {
		t.Error("the permanently rooted match is case-sensitive")
	}
}

func TestTypePolicy_ContainerCollection(t *testing.T) {
	p := &Default().Types

	if !p.Container("jl_module_t *") {
		t.Error("modules are containers")
	}
	if !p.Collection("arraylist_t") {
		t.Error("arraylists are collections")
	}
	if p.Container("jl_value_t *") || p.Collection("jl_value_t *") {
		t.Error("plain values are neither")
	}
}

func TestSafepointPolicy_DeniedName(t *testing.T) {
	p := &Default().Safepoints

	tests := []struct {
		name string
		want bool
	}{
		{"uv_mutex_init", true},
		{"unw_step", true},
		{"_ULx86_64_step", true},
		{"uv_run", false}, // reentrant despite the prefix
		{"jl_apply", false},
		{"pthread_create", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.DeniedName(tt.name); got != tt.want {
				t.Errorf("DeniedName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestSafepointPolicy_Namespaces(t *testing.T) {
	p := &Default().Safepoints

	if !p.ExcludedNamespace("llvm") || !p.ExcludedNamespace("std") {
		t.Error("llvm and std members never safepoint")
	}
	if p.ExcludedNamespace("") {
		t.Error("the empty namespace is not excluded")
	}
	if p.ExcludedNamespace("jl") {
		t.Error("runtime namespaces are not excluded")
	}
}

func TestSafepointPolicy_TrustedFile(t *testing.T) {
	p := &Default().Safepoints

	if !p.TrustedFile("src/llvm-gc-invariant-verifier.cpp") {
		t.Error("llvm- sources are trusted")
	}
	if p.TrustedFile("src/gc.c") {
		t.Error("runtime sources are not trusted")
	}
}

func TestSafepointPolicy_Locks(t *testing.T) {
	p := &Default().Safepoints

	if !p.Lock("uv_mutex_lock") || !p.Lock("pthread_mutex_trylock") {
		t.Error("mutex entry points should match")
	}
	if !p.Unlock("uv_mutex_unlock") || !p.Unlock("pthread_mutex_unlock") {
		t.Error("mutex exits should match")
	}
	if p.Lock("uv_mutex_unlock") || p.Unlock("uv_mutex_lock") {
		t.Error("lock and unlock sets are disjoint")
	}
}

func TestBoxingPolicy_Match(t *testing.T) {
	p := &Default().Boxing

	tests := []struct {
		name     string
		unsigned bool
		ok       bool
	}{
		{"jl_box_int64", false, true},
		{"ijl_box_int32", false, true},
		{"jl_box_uint8", true, true},
		{"ijl_box_uint64", true, true},
		{"jl_new_struct", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unsigned, ok := p.Match(tt.name)
			if unsigned != tt.unsigned || ok != tt.ok {
				t.Errorf("Match(%q) = (%v, %v), want (%v, %v)", tt.name, unsigned, ok, tt.unsigned, tt.ok)
			}
		})
	}
}

func TestBoxingPolicy_Interned(t *testing.T) {
	p := &Default().Boxing

	tests := []struct {
		name     string
		unsigned bool
		v        int64
		want     bool
	}{
		{"signed low edge", false, -512, true},
		{"signed high edge", false, 511, true},
		{"signed below", false, -513, false},
		{"signed above", false, 512, false},
		{"unsigned low edge", true, 0, true},
		{"unsigned high edge", true, 1023, true},
		{"unsigned above", true, 1024, false},
		{"unsigned negative", true, -1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Interned(tt.unsigned, tt.v); got != tt.want {
				t.Errorf("Interned(%v, %d) = %v, want %v", tt.unsigned, tt.v, got, tt.want)
			}
		})
	}
}

func TestIntrinsicPolicy(t *testing.T) {
	p := &Default().Intrinsics

	if !p.Push("JL_GC_PUSH1") || !p.Push("JL_GC_PUSH9") {
		t.Error("push spellings should match")
	}
	if p.Push("JL_GC_POP") {
		t.Error("pop is not a push")
	}
	if !p.PushArgs("_JL_GC_PUSHARGS") {
		t.Error("pushargs spelling should match")
	}
	if !p.PushList("jl_gc_push_arraylist") {
		t.Error("arraylist push spelling should match")
	}
	if !p.Pop("JL_GC_POP") {
		t.Error("pop spelling should match")
	}
	if !p.Promise("JL_GC_PROMISE_ROOTED") {
		t.Error("promise spelling should match")
	}
	if !p.Preserve("jl_ast_preserve") {
		t.Error("preserve spelling should match")
	}
	if !p.GCEnable("jl_gc_enable") || !p.GCEnable("ijl_gc_enable") {
		t.Error("collection toggle spellings should match")
	}
	if p.ListItemsField != "items" {
		t.Errorf("ListItemsField = %q, want %q", p.ListItemsField, "items")
	}
}

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "rootvet.yaml")
	if err := os.WriteFile(file, []byte(text), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return file
}

func TestLoad_Overrides(t *testing.T) {
	file := writeConfig(t, `
boxing:
  signed_min: -128
  signed_max: 127
safepoints:
  reentrant: [uv_run, uv_custom_pump]
`)
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Boxing.SignedMin != -128 || cfg.Boxing.SignedMax != 127 {
		t.Errorf("signed range = [%d, %d], want [-128, 127]", cfg.Boxing.SignedMin, cfg.Boxing.SignedMax)
	}
	if cfg.Safepoints.DeniedName("uv_custom_pump") {
		t.Error("override should extend the reentrant list")
	}
	// Untouched sections keep their defaults.
	if !cfg.Types.Tracked("jl_value_t *") {
		t.Error("type policy should keep defaults")
	}
	if !cfg.Intrinsics.Pop("JL_GC_POP") {
		t.Error("intrinsic bindings should keep defaults")
	}
}

func TestLoad_RejectsUnknownKeys(t *testing.T) {
	file := writeConfig(t, "boxnig:\n  signed_min: 0\n")
	if _, err := Load(file); err == nil {
		t.Fatal("unknown keys should be rejected")
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	file := writeConfig(t, "boxing:\n  signed_min: 10\n  signed_max: -10\n")
	if _, err := Load(file); err == nil {
		t.Fatal("inverted ranges should be rejected")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing files should be reported")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"no tracked types", func(c *Config) { c.Types.TrackedSuffixes = nil }, false},
		{"negative unsigned min", func(c *Config) { c.Boxing.UnsignedMin = -1 }, false},
		{"empty items field", func(c *Config) { c.Intrinsics.ListItemsField = "" }, false},
		{"zero cache", func(c *Config) { c.Caches.Annotations = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
