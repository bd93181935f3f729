package idgen

import (
	"testing"
	"time"
)

func TestGenerateHashIDDeterministic(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := GenerateHashID("el-", "Fix login bug", "alice", ts, 6, 0)
	b := GenerateHashID("el-", "Fix login bug", "alice", ts, 6, 0)
	if a != b {
		t.Fatalf("expected deterministic output, got %q vs %q", a, b)
	}
	if len(a) != len("el-")+6 {
		t.Fatalf("expected length %d, got %d (%q)", len("el-")+6, len(a), a)
	}
}

func TestGenerateHashIDNonceChangesOutput(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	a := GenerateHashID("el-", "same title", "bob", ts, 6, 0)
	b := GenerateHashID("el-", "same title", "bob", ts, 6, 1)
	if a == b {
		t.Fatalf("expected different nonces to produce different ids")
	}
}

func TestAdaptiveLengthThresholds(t *testing.T) {
	cases := []struct {
		count int
		want  int
	}{
		{0, MinLength},
		{99, MinLength},
		{100, MinLength + 1},
		{499, MinLength + 1},
		{500, MinLength + 2},
		{2999, MinLength + 2},
		{3000, MinLength + 3},
		{19999, MinLength + 3},
		{20000, MinLength + 4},
		{99999, MinLength + 4},
		{100000, MaxLength},
		{200000, MaxLength},
	}
	for _, c := range cases {
		if got := AdaptiveLength(c.count); got != c.want {
			t.Errorf("AdaptiveLength(%d) = %d, want %d", c.count, got, c.want)
		}
	}
}

func TestGeneratorNextRetriesOnCollision(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	seen := map[string]bool{}
	first := GenerateHashID("el-", "dup", "carol", ts, MinLength, 0)
	seen[first] = true

	g := New("el-", func(candidate string) (bool, error) {
		return seen[candidate], nil
	})

	id, err := g.Next("dup", "carol", ts, 0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if id == first {
		t.Fatalf("expected Next to skip the colliding candidate %q", first)
	}
}

func TestHierarchicalIDRoundTrip(t *testing.T) {
	if !IsHierarchicalID("el-a3f8.1") {
		t.Fatal("expected el-a3f8.1 to be hierarchical")
	}
	if IsHierarchicalID("my.project-abc") {
		t.Fatal("did not expect my.project-abc to be hierarchical")
	}

	parent, child, ok := ParseHierarchicalID("el-a3f8.2")
	if !ok || parent != "el-a3f8" || child != 2 {
		t.Fatalf("ParseHierarchicalID = (%q, %d, %v)", parent, child, ok)
	}

	if got := ChildID("el-a3f8", 3); got != "el-a3f8.3" {
		t.Fatalf("ChildID = %q", got)
	}

	if got := RootID("el-a3f8.1.2"); got != "el-a3f8" {
		t.Fatalf("RootID = %q", got)
	}
}

func TestCheckHierarchyDepthRejectsAtMax(t *testing.T) {
	if err := CheckHierarchyDepth("el-a3f8.1.2.3", DefaultMaxHierarchyDepth); err == nil {
		t.Fatal("expected error at max depth")
	}
	if err := CheckHierarchyDepth("el-a3f8.1", DefaultMaxHierarchyDepth); err != nil {
		t.Fatalf("unexpected error below max depth: %v", err)
	}
}
