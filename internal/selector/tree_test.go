package selector

import "testing"

func TestTreeTotalWeightTracksPushes(t *testing.T) {
	var tree Tree[string]

	if got := tree.TotalWeight(); got != 0 {
		t.Fatalf("empty tree total = %d, want 0", got)
	}

	tree.PushBack("a", 1000)
	tree.PushBack("b", 1000)
	tree.PushBack("c", 500)

	if got, want := tree.TotalWeight(), uint64(2500); got != want {
		t.Fatalf("total = %d, want %d", got, want)
	}
}

func TestTreeSampleAtBijection(t *testing.T) {
	var tree Tree[int]
	weights := []uint64{1000, 1000, 0, 500}
	for i, w := range weights {
		tree.PushBack(i, w)
	}

	counts := make([]uint64, len(weights))
	var r uint64
	for r = 0; r < tree.TotalWeight(); r++ {
		idx, ok := tree.SampleAt(r)
		if !ok {
			t.Fatalf("SampleAt(%d) not ok, total=%d", r, tree.TotalWeight())
		}
		counts[idx]++
	}

	for i, w := range weights {
		if counts[i] != w {
			t.Errorf("index %d sampled %d times, want %d (weight)", i, counts[i], w)
		}
	}
}

func TestTreeSetWeightDeltaPropagatesToRoot(t *testing.T) {
	var tree Tree[int]
	tree.PushBack(0, 100)
	tree.PushBack(1, 200)
	tree.PushBack(2, 300)

	before := tree.TotalWeight()
	tree.SetWeight(1, 50)
	after := tree.TotalWeight()

	if before-after != 150 {
		t.Fatalf("root delta = %d, want 150", before-after)
	}
	if tree.Weight(1) != 50 {
		t.Fatalf("Weight(1) = %d, want 50", tree.Weight(1))
	}
}

func TestTreeRetireViaZeroWeightKeepsIndex(t *testing.T) {
	var tree Tree[string]
	tree.PushBack("a", 10)
	tree.PushBack("b", 10)

	tree.SetWeight(0, 0)

	if got, want := tree.TotalWeight(), uint64(10); got != want {
		t.Fatalf("total = %d, want %d", got, want)
	}
	if tree.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (retired element stays indexed)", tree.Len())
	}
	idx, ok := tree.SampleAt(0)
	if !ok || idx != 1 {
		t.Fatalf("SampleAt(0) = (%d,%v), want (1,true)", idx, ok)
	}
}

func TestTreeGrowthAcrossPowerOfTwoBoundary(t *testing.T) {
	var tree Tree[int]
	n := 37 // forces six capacity doublings (1->2->4->8->16->32->64)
	for i := 0; i < n; i++ {
		tree.PushBack(i, uint64(i+1))
	}

	var want uint64
	for i := 0; i < n; i++ {
		want += uint64(i + 1)
	}
	if got := tree.TotalWeight(); got != want {
		t.Fatalf("total = %d, want %d", got, want)
	}

	counts := make([]int, n)
	var r uint64
	for r = 0; r < tree.TotalWeight(); r++ {
		idx, ok := tree.SampleAt(r)
		if !ok {
			t.Fatalf("SampleAt(%d) not ok", r)
		}
		counts[idx]++
	}
	for i := 0; i < n; i++ {
		if counts[i] != i+1 {
			t.Errorf("index %d sampled %d times, want %d", i, counts[i], i+1)
		}
	}
}

func BenchmarkTreeSampleAt(b *testing.B) {
	var tree Tree[int]
	for i := 0; i < 1024; i++ {
		tree.PushBack(i, uint64(i%7+1))
	}
	total := tree.TotalWeight()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		tree.SampleAt(uint64(i) % total)
	}
}
