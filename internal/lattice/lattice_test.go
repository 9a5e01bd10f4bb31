package lattice

import (
	"testing"

	"github.com/rootvet/rootvet/internal/decl"
	"github.com/rootvet/rootvet/internal/memory"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindAllocated, "allocated"},
		{KindRooted, "rooted"},
		{KindPotentiallyFreed, "potentially-freed"},
		{KindUntracked, "untracked"},
		{Kind(99), "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("Kind.String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAllocated(t *testing.T) {
	v := Allocated()
	if !v.IsAllocated() {
		t.Error("Allocated() should be allocated")
	}
	if v.IsRooted() || v.IsFreed() || v.IsUntracked() {
		t.Error("Allocated() should not satisfy other predicates")
	}
	if v.Depth() != GlobalDepth {
		t.Errorf("Allocated().Depth() = %d, want GlobalDepth", v.Depth())
	}
	if _, _, ok := v.Provenance(); ok {
		t.Error("Allocated() should carry no provenance")
	}
}

func TestAllocatedFromArg(t *testing.T) {
	fn := &decl.Func{Name: "jl_f"}
	v := AllocatedFromArg(fn, 2)
	if !v.IsAllocated() {
		t.Error("AllocatedFromArg should be allocated")
	}
	gotFn, gotIdx, ok := v.Provenance()
	if !ok {
		t.Fatal("AllocatedFromArg should carry provenance")
	}
	if gotFn != fn || gotIdx != 2 {
		t.Errorf("Provenance() = (%v, %d), want (%v, 2)", gotFn, gotIdx, fn)
	}
}

func TestFreed(t *testing.T) {
	v := Freed()
	if !v.IsFreed() {
		t.Error("Freed() should be freed")
	}
	if v.IsAllocated() || v.IsRooted() || v.IsUntracked() {
		t.Error("Freed() should not satisfy other predicates")
	}
}

func TestUntracked(t *testing.T) {
	v := Untracked()
	if !v.IsUntracked() {
		t.Error("Untracked() should be untracked")
	}
	if v.IsAllocated() || v.IsRooted() || v.IsFreed() {
		t.Error("Untracked() should not satisfy other predicates")
	}
}

func TestRootedBy(t *testing.T) {
	region := memory.RegionID(7)
	v := RootedBy(region, 3)
	if !v.IsRooted() {
		t.Error("RootedBy should be rooted")
	}
	if v.IsGloballyRooted() {
		t.Error("RootedBy at finite depth should not be globally rooted")
	}
	if v.Depth() != 3 {
		t.Errorf("Depth() = %d, want 3", v.Depth())
	}
	got, ok := v.Root()
	if !ok || got != region {
		t.Errorf("Root() = (%d, %v), want (%d, true)", got, ok, region)
	}
	if !v.RootedByRegion(region) {
		t.Error("RootedByRegion should match the rooting region")
	}
	if v.RootedByRegion(memory.RegionID(8)) {
		t.Error("RootedByRegion should not match a different region")
	}
}

func TestGloballyRooted(t *testing.T) {
	v := GloballyRooted()
	if !v.IsRooted() || !v.IsGloballyRooted() {
		t.Error("GloballyRooted() should be rooted at GlobalDepth")
	}
	if _, ok := v.Root(); ok {
		t.Error("GloballyRooted() should have no rooting region")
	}
	if v.RootedByRegion(memory.RegionID(1)) {
		t.Error("GloballyRooted() is not rooted by any particular region")
	}
}

func TestValueState_String(t *testing.T) {
	tests := []struct {
		name string
		v    ValueState
		want string
	}{
		{"allocated", Allocated(), "allocated"},
		{"freed", Freed(), "potentially-freed"},
		{"untracked", Untracked(), "untracked"},
		{"global", GloballyRooted(), "rooted(global)"},
		{"regional", RootedBy(memory.RegionID(4), 1), "rooted(region=4, depth=1)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.v.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRootState(t *testing.T) {
	single := SingleRoot(2)
	if single.Kind() != RootSingle || single.IsArray() {
		t.Error("SingleRoot should not be an array root")
	}
	if single.Depth() != 2 {
		t.Errorf("SingleRoot(2).Depth() = %d, want 2", single.Depth())
	}

	array := ArrayRoot(0)
	if array.Kind() != RootArray || !array.IsArray() {
		t.Error("ArrayRoot should be an array root")
	}
}

func TestRootState_ShouldPopAt(t *testing.T) {
	tests := []struct {
		name  string
		rs    RootState
		depth int32
		want  bool
	}{
		{"own depth pops", SingleRoot(2), 2, true},
		{"outer frame survives", SingleRoot(1), 2, false},
		{"deeper registration pops too", SingleRoot(3), 2, true},
		{"global root never pops", SingleRoot(GlobalDepth), GlobalDepth, false},
		{"array root pops at depth", ArrayRoot(0), 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rs.ShouldPopAt(tt.depth); got != tt.want {
				t.Errorf("ShouldPopAt(%d) = %v, want %v", tt.depth, got, tt.want)
			}
		})
	}
}
