package qtable

import (
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/danielpatrickdp/qrefine/internal/action"
)

func greedyTable(hp Hyperparams) *Table {
	t := New(hp, WithRand(rand.New(rand.NewPCG(1, 1))))
	t.SetEpsilon(0)
	return t
}

func TestInitialValues(t *testing.T) {
	tbl := greedyTable(DefaultHyperparams())
	if got := tbl.Get("s", action.UseGenerator); got != 0.5 {
		t.Errorf("USE_GENERATOR default = %f, want 0.5", got)
	}
	if got := tbl.Get("s", action.Reset); got != 0.5 {
		t.Errorf("RESET default = %f, want 0.5", got)
	}
	if got := tbl.Get("s", action.Refine); got != 0 {
		t.Errorf("REFINE default = %f, want 0", got)
	}
}

func TestUpdateRule(t *testing.T) {
	tbl := greedyTable(DefaultHyperparams())
	tbl.Set("next", action.Refine, 2)

	res := tbl.Update("s", action.UseGenerator, 10, "next", []action.Action{action.UseGenerator, action.Refine})
	// Q = 0.5 + 0.1*(10 + 0.9*2 - 0.5) = 1.63
	if math.Abs(res.NewValue-1.63) > 1e-9 {
		t.Fatalf("new value = %f, want 1.63", res.NewValue)
	}
	if res.MaxNext != 2 {
		t.Errorf("maxNext = %f, want 2", res.MaxNext)
	}
	if got := tbl.Get("s", action.UseGenerator); got != res.NewValue {
		t.Errorf("stored %f, result %f", got, res.NewValue)
	}
}

func TestUpdateEmptyNextSet(t *testing.T) {
	tbl := greedyTable(DefaultHyperparams())
	res := tbl.Update("s", action.Refine, 5, "next", nil)
	if math.Abs(res.NewValue-0.5) > 1e-9 {
		t.Fatalf("new value = %f, want 0.5", res.NewValue)
	}
}

func TestSelectGreedyTieBreak(t *testing.T) {
	tbl := greedyTable(DefaultHyperparams())
	// REFINE and EXPAND tie at 0; USE_GENERATOR unavailable.
	got := tbl.SelectAction("s", []action.Action{action.Refine, action.Expand})
	if got != action.Expand {
		t.Fatalf("tie went to %s, want EXPAND (earlier in catalog)", got)
	}
	tbl.Set("s", action.Refine, 3)
	if got := tbl.SelectAction("s", []action.Action{action.UseGenerator, action.Refine}); got != action.Refine {
		t.Fatalf("greedy picked %s, want REFINE", got)
	}
}

func TestSelectExploresWithEpsilonOne(t *testing.T) {
	tbl := New(DefaultHyperparams(), WithRand(rand.New(rand.NewPCG(9, 9))))
	tbl.SetEpsilon(1)
	seen := map[action.Action]bool{}
	applicable := []action.Action{action.UseGenerator, action.PerturbOutput, action.Refine}
	for i := 0; i < 200; i++ {
		seen[tbl.SelectAction("s", applicable)] = true
	}
	if len(seen) != len(applicable) {
		t.Fatalf("exploration visited %d of %d actions", len(seen), len(applicable))
	}
}

func TestEvictionAtCap(t *testing.T) {
	hp := DefaultHyperparams()
	hp.MaxQTableSize = 3
	tbl := greedyTable(hp)

	for i, key := range []string{"a", "b", "c"} {
		if ev := tbl.Set(key, action.Refine, float64(i)); ev != "" {
			t.Fatalf("unexpected eviction of %s", ev)
		}
	}
	// touching "a" must not refresh its position
	tbl.Set("a", action.Expand, 9)

	if ev := tbl.Set("d", action.Refine, 1); ev != "a" {
		t.Fatalf("evicted %q, want oldest-inserted \"a\"", ev)
	}
	if tbl.Len() != 3 {
		t.Fatalf("len = %d, want 3", tbl.Len())
	}
	if got := tbl.Get("a", action.Expand); got != 0 {
		t.Fatalf("evicted state still has value %f", got)
	}
}

func TestDecayEpsilonFloor(t *testing.T) {
	hp := DefaultHyperparams()
	hp.Epsilon = 0.06
	tbl := New(hp)
	if got := tbl.DecayEpsilon(); math.Abs(got-0.0597) > 1e-9 {
		t.Fatalf("epsilon = %f, want 0.0597", got)
	}
	for i := 0; i < 100; i++ {
		tbl.DecayEpsilon()
	}
	if got := tbl.Epsilon(); got != hp.EpsilonMin {
		t.Fatalf("epsilon = %f, want floor %f", got, hp.EpsilonMin)
	}
}

func TestSnapshotPreservesInsertionOrder(t *testing.T) {
	tbl := greedyTable(DefaultHyperparams())
	for _, key := range []string{"zeta", "alpha", "mid"} {
		tbl.Set(key, action.Refine, 1)
	}
	data, err := json.Marshal(tbl.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Snapshot
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := []string{"zeta", "alpha", "mid"}
	if len(back.QTable) != len(want) {
		t.Fatalf("decoded %d states, want %d", len(back.QTable), len(want))
	}
	for i, st := range back.QTable {
		if st.Key != want[i] {
			t.Fatalf("state %d = %q, want %q (order %v)", i, st.Key, want[i], back.QTable)
		}
	}
}

func TestFilePersisterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "qtable.json")
	p := NewFilePersister(path)
	ctx := context.Background()

	tbl := greedyTable(DefaultHyperparams())
	tbl.Set("s1", action.UseGenerator, 4.2)
	tbl.Set("s2", action.Refine, -1)
	tbl.SetEpsilon(0.11)
	if err := tbl.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	for _, k := range []string{"version", "updatedAt", "hyperparams", "qtable"} {
		if _, ok := doc[k]; !ok {
			t.Errorf("persisted file missing %q", k)
		}
	}

	loaded := New(DefaultHyperparams())
	if err := loaded.Load(ctx, p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("len = %d, want 2", loaded.Len())
	}
	if got := loaded.Get("s1", action.UseGenerator); got != 4.2 {
		t.Errorf("s1 = %f", got)
	}
	if got := loaded.Epsilon(); got != 0.11 {
		t.Errorf("epsilon = %f, want restored 0.11", got)
	}
}

func TestRestoreKeepsZeroEpsilon(t *testing.T) {
	tbl := greedyTable(DefaultHyperparams())
	tbl.Set("s1", action.Refine, 1)

	restored := New(DefaultHyperparams())
	if err := restored.Restore(tbl.Snapshot()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := restored.Epsilon(); got != 0 {
		t.Fatalf("epsilon = %f, want persisted 0", got)
	}

	bad := tbl.Snapshot()
	bad.Hyperparams.Epsilon = 1.5
	fresh := New(DefaultHyperparams())
	if err := fresh.Restore(bad); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if got := fresh.Epsilon(); got != DefaultHyperparams().Epsilon {
		t.Errorf("epsilon = %f, want configured value kept for out-of-range snapshot", got)
	}
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	p := NewFilePersister(filepath.Join(t.TempDir(), "absent.json"))
	tbl := New(DefaultHyperparams())
	tbl.Set("x", action.Refine, 1)
	if err := tbl.Load(context.Background(), p); err != nil {
		t.Fatalf("missing snapshot should not error: %v", err)
	}
	if tbl.Len() != 0 {
		t.Fatalf("len = %d, want 0", tbl.Len())
	}
}

func TestLoadCorruptFileResets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qtable.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl := New(DefaultHyperparams())
	tbl.Set("x", action.Refine, 1)
	if err := tbl.Load(context.Background(), NewFilePersister(path)); err == nil {
		t.Fatal("expected error for corrupt snapshot")
	}
	if tbl.Len() != 0 {
		t.Fatalf("table not reset after failed load")
	}
}

func TestRedisPersister(t *testing.T) {
	url := os.Getenv("REFINE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("REFINE_TEST_REDIS_URL not set")
	}
	p, err := DialRedis(url, "qrefine:test:qtable")
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer p.Close()
	ctx := context.Background()

	tbl := greedyTable(DefaultHyperparams())
	tbl.Set("s", action.Refine, 7)
	if err := tbl.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded := New(DefaultHyperparams())
	if err := loaded.Load(ctx, p); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loaded.Get("s", action.Refine); got != 7 {
		t.Fatalf("value = %f, want 7", got)
	}
}
