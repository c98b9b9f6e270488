package mapreduce

import "testing"

func TestTaskGroupPopPendingMovesToAssigned(t *testing.T) {
	g := NewTaskGroup()
	g.AddPending("map/0", []interface{}{1, 2})

	id, data, ok := g.PopPending()
	if !ok || id != "map/0" {
		t.Fatalf("expected to pop map/0, got %v ok=%v", id, ok)
	}
	if _, assigned, ok := g.lookupPendingOrAssigned("map/0"); !ok || !assigned {
		t.Fatalf("expected map/0 to now be assigned")
	}
	if len(data.([]interface{})) != 2 {
		t.Fatalf("expected popped data preserved")
	}
}

func TestTaskGroupSetAsCompleteFromPendingOrAssigned(t *testing.T) {
	g := NewTaskGroup()
	g.AddPending("a", 1)
	if !g.SetAsComplete("a") {
		t.Fatalf("expected pending task to complete")
	}
	if g.Any() {
		t.Fatalf("expected group empty after completing its only task")
	}

	g.AddPending("b", 2)
	g.PopPending()
	if !g.SetAsComplete("b") {
		t.Fatalf("expected assigned task to complete")
	}

	if g.SetAsComplete("missing") {
		t.Fatalf("expected completing an unknown task to fail")
	}
}

func TestTaskGroupAnyReflectsPendingAndAssigned(t *testing.T) {
	g := NewTaskGroup()
	if g.Any() {
		t.Fatalf("expected empty group to report no work")
	}
	g.AddPending("x", nil)
	if !g.Any() {
		t.Fatalf("expected pending task to count as work")
	}
	g.PopPending()
	if !g.Any() {
		t.Fatalf("expected assigned task to still count as work")
	}
}

func TestTaskGroupResetAssignedToPending(t *testing.T) {
	g := NewTaskGroup()
	g.AddPending("a", 1)
	g.AddPending("b", 2)
	g.PopPending()
	g.PopPending()

	g.ResetAssignedToPending()
	if _, assigned, ok := g.lookupPendingOrAssigned("a"); !ok || assigned {
		t.Fatalf("expected a to be pending again")
	}
	id, _, ok := g.PopPending()
	if !ok {
		t.Fatalf("expected a reset task to be poppable")
	}
	_ = id
}

func TestTaskGroupDumpLoadRoundTrips(t *testing.T) {
	g := NewTaskGroup()
	g.AddPending("a", 1)
	g.PopPending()
	g.AddPending("c", 3)
	g.SetAsComplete("c")

	d := g.Dump()
	other := NewTaskGroup()
	other.Load(d)

	if _, assigned, ok := other.lookupPendingOrAssigned("a"); !ok || !assigned {
		t.Fatalf("expected a to load as assigned")
	}
	if !other.SetAsComplete("a") {
		t.Fatalf("expected loaded assigned task completable")
	}
}

func TestTaskGroupReplacePendingUpdatesInPlace(t *testing.T) {
	g := NewTaskGroup()
	g.AddPending("k", []interface{}{1})
	g.replacePending("k", []interface{}{1, 2})
	data, assigned, ok := g.lookupPendingOrAssigned("k")
	if !ok || assigned {
		t.Fatalf("expected k to remain pending after replace")
	}
	if len(data.([]interface{})) != 2 {
		t.Fatalf("expected replaced data to stick")
	}
}
