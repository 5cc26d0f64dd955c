package tracker

import (
	"testing"

	"github.com/sirupsen/logrus"

	"ssw-flow-tracer/internal/imprint"
	"ssw-flow-tracer/internal/sinks"
	"ssw-flow-tracer/pkg/intern"
)

func newTestTable(reclamationCapacity int, pool bool) (*FlowTable, *sinks.LeakQueue) {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	trie := imprint.New(imprint.Options{
		MaxNodes: 10_000, MaxDepth: 50, MaxChildren: 100,
		Interner: intern.NewTable(1 << 14),
	})
	queue := sinks.NewLeakQueue(1024)
	return NewFlowTable(trie, queue, reclamationCapacity, pool, logger), queue
}

func TestGetOrCreateIsIdempotentPerObject(t *testing.T) {
	table, _ := newTestTable(64, false)

	o := &buffer{}
	fs1, created1 := table.GetOrCreate(o, "A.alloc", 1, false)
	fs2, created2 := table.GetOrCreate(o, "B.use", 1, false)

	if fs1 == nil || !created1 {
		t.Fatal("Expected creation on first observation")
	}
	if fs2 != fs1 || created2 {
		t.Error("Expected the same flow on the second observation")
	}
	if table.Len() != 1 {
		t.Errorf("Expected 1 live flow, got %d", table.Len())
	}
	if fs1.RootMethod() != "A.alloc" {
		t.Errorf("Expected the root method pinned to the first observation, got %q", fs1.RootMethod())
	}
}

func TestCleanReleaseRemovesEntry(t *testing.T) {
	table, queue := newTestTable(64, false)

	o := &buffer{}
	fs, _ := table.GetOrCreate(o, "A.alloc", 1, false)
	table.RecordCleanRelease(o, fs)

	if table.Len() != 0 {
		t.Errorf("Expected empty table, got %d", table.Len())
	}
	if table.CleanReleases() != 1 {
		t.Errorf("Expected 1 clean release, got %d", table.CleanReleases())
	}
	if queue.Len() != 0 {
		t.Error("Expected no leak events for a clean release")
	}
	if fs.Node() != nil && !fs.Completed() {
		t.Error("Expected the flow completed")
	}

	// Releasing twice is harmless.
	table.RecordCleanRelease(o, fs)
	if table.CleanReleases() != 1 {
		t.Error("Expected the second release to be a no-op")
	}
}

func TestReclaimedEntryIsSettledOnIdentityReuse(t *testing.T) {
	table, queue := newTestTable(64, false)

	o := &buffer{}
	fs, _ := table.GetOrCreate(o, "A.alloc", 1, true)

	// Simulate the runtime having reclaimed the previous occupant of this
	// identity word while its notification is still queued.
	fs.reclaimed.Store(true)

	fresh, created := table.GetOrCreate(o, "D.alloc", 1, false)
	if !created || fresh == fs {
		t.Fatal("Expected a fresh flow after the stale entry was settled")
	}
	if table.LeaksDetected() != 1 {
		t.Errorf("Expected the stale entry recorded as a leak, got %d", table.LeaksDetected())
	}

	events := queue.Drain()
	if len(events) != 1 {
		t.Fatalf("Expected 1 leak event, got %d", len(events))
	}
	if events[0].RootMethod != "A.alloc" || !events[0].Direct {
		t.Errorf("Unexpected event %+v", events[0])
	}
	if table.Len() != 1 {
		t.Errorf("Expected only the fresh flow live, got %d", table.Len())
	}
}

func TestMarkRemainingAsLeaks(t *testing.T) {
	table, queue := newTestTable(64, false)

	objects := make([]*buffer, 5)
	for i := range objects {
		objects[i] = &buffer{refs: 1}
		table.GetOrCreate(objects[i], "A.alloc", 1, false)
	}

	released := &buffer{}
	fs, _ := table.GetOrCreate(released, "A.alloc", 1, false)
	table.RecordCleanRelease(released, fs)

	marked := table.MarkRemainingAsLeaks()
	if marked != len(objects) {
		t.Errorf("Expected %d flows marked, got %d", len(objects), marked)
	}
	if table.Len() != 0 {
		t.Errorf("Expected empty table, got %d", table.Len())
	}
	if events := queue.Drain(); len(events) != len(objects) {
		t.Errorf("Expected %d leak events, got %d", len(objects), len(events))
	}

	// A second sweep finds nothing.
	if again := table.MarkRemainingAsLeaks(); again != 0 {
		t.Errorf("Expected idempotent sweep, got %d", again)
	}
}

func TestReclamationQueueOverflowSettlesInline(t *testing.T) {
	// Capacity 1: the second notification cannot queue and must settle in
	// the hook's context instead of being lost.
	table, queue := newTestTable(1, false)

	o1 := &buffer{refs: 1}
	o2 := &buffer{refs: 1}
	fs1, _ := table.GetOrCreate(o1, "A.alloc", 1, false)
	fs2, _ := table.GetOrCreate(o2, "A.alloc", 1, false)

	// Drive the hook bodies directly.
	fs1.reclaimed.Store(true)
	table.reclaimCh <- fs1
	fs2.reclaimed.Store(true)
	table.handleReclaimed(fs2) // inline settle, what the full-queue branch does

	if table.LeaksDetected() != 1 {
		t.Fatalf("Expected the inline notification settled, got %d leaks", table.LeaksDetected())
	}

	if drained := table.ProcessReclamationQueue(); drained != 1 {
		t.Errorf("Expected 1 queued notification drained, got %d", drained)
	}
	if table.LeaksDetected() != 2 {
		t.Errorf("Expected both leaks recorded, got %d", table.LeaksDetected())
	}
	if events := queue.Drain(); len(events) != 2 {
		t.Errorf("Expected 2 leak events, got %d", len(events))
	}
	if table.Len() != 0 {
		t.Errorf("Expected empty table, got %d", table.Len())
	}
}

func TestFlowPoolRecycling(t *testing.T) {
	table, _ := newTestTable(64, true)

	o := &buffer{}
	fs, _ := table.GetOrCreate(o, "A.alloc", 1, false)
	table.RecordCleanRelease(o, fs)

	// The recycled state must come back fully reinitialized.
	o2 := &buffer{}
	fs2, created := table.GetOrCreate(o2, "B.alloc", 2, true)
	if !created {
		t.Fatal("Expected a fresh flow")
	}
	if fs2.Completed() || fs2.Depth() != 0 {
		t.Error("Expected recycled state reinitialized")
	}
	if fs2.RootMethod() != "B.alloc" {
		t.Errorf("Expected root method B.alloc, got %q", fs2.RootMethod())
	}
	if !fs2.Direct() {
		t.Error("Expected direct classification from the new flow")
	}
}

func TestTableReset(t *testing.T) {
	table, queue := newTestTable(64, false)

	for i := 0; i < 10; i++ {
		table.GetOrCreate(&buffer{refs: 1}, "A.alloc", 1, false)
	}
	table.Reset()

	if table.Len() != 0 {
		t.Errorf("Expected empty table after reset, got %d", table.Len())
	}
	if table.CleanReleases() != 0 || table.LeaksDetected() != 0 {
		t.Error("Expected zeroed counters after reset")
	}
	if queue.Len() != 0 {
		t.Error("Expected no events emitted by reset")
	}
}
