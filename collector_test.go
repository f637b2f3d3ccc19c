package profz

import (
	"sync"
	"testing"
	"time"
)

func testReport(id string) Report {
	return Report{
		ID:   id,
		Name: "req",
		Tree: []Entry{{Name: "a", Count: 1, Time: 2, Children: []Entry{}}},
		Flat: map[Key]Total{"a": {Name: "a", Count: 1, Time: 0.002}},
	}
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector("test-collector", 100)
	defer collector.Close()

	if collector.Name() != "test-collector" {
		t.Errorf("Expected name 'test-collector', got %s", collector.Name())
	}
	if collector.Count() != 0 {
		t.Errorf("Expected 0 reports initially, got %d", collector.Count())
	}
	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped reports initially, got %d", collector.DroppedCount())
	}
}

func TestCollectorSyncCollection(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	r := testReport("r1")
	collector.Collect(&r)

	if collector.Count() != 1 {
		t.Errorf("Expected 1 report, got %d", collector.Count())
	}

	reports := collector.Export()
	if len(reports) != 1 || reports[0].ID != "r1" {
		t.Fatalf("Expected report r1, got %+v", reports)
	}
	if collector.Count() != 0 {
		t.Errorf("Expected 0 reports after export, got %d", collector.Count())
	}
	if collector.Export() != nil {
		t.Error("Expected nil export from an empty collector")
	}
}

func TestCollectorAsyncCollection(t *testing.T) {
	collector := NewCollector("test", 10)
	defer collector.Close()

	for i := 0; i < 5; i++ {
		r := testReport("r")
		collector.Collect(&r)
	}

	deadline := time.Now().Add(time.Second)
	for collector.Count() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if collector.Count() != 5 {
		t.Errorf("Expected 5 reports, got %d", collector.Count())
	}
}

func TestCollectorDeepCopy(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	r := testReport("r1")
	collector.Collect(&r)

	r.Tree[0].Name = "mutated"
	r.Flat["a"] = Total{Name: "a", Count: 42}

	got := collector.Export()[0]
	if got.Tree[0].Name != "a" {
		t.Error("Expected tree to be copied on collect")
	}
	if got.Flat["a"].Count != 1 {
		t.Error("Expected flat map to be copied on collect")
	}
}

func TestCollectorNilAndClosed(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)

	collector.Collect(nil)
	if collector.DroppedCount() != 1 {
		t.Errorf("Expected nil report to be dropped, got %d", collector.DroppedCount())
	}

	collector.Close()
	collector.Close()

	r := testReport("late")
	collector.Collect(&r)
	if collector.DroppedCount() != 2 {
		t.Errorf("Expected report after Close to be dropped, got %d", collector.DroppedCount())
	}
}

func TestCollectorBackpressure(t *testing.T) {
	collector := NewCollector("test", 0)
	defer collector.Close()

	for i := 0; i < 100; i++ {
		r := testReport("r")
		collector.Collect(&r)
	}

	if collector.DroppedCount() == 0 {
		t.Error("Expected reports to be dropped with an unbuffered channel")
	}
	t.Logf("Dropped %d reports due to backpressure (expected behavior)", collector.DroppedCount())
}

func TestCollectorCloseDrains(t *testing.T) {
	collector := NewCollector("test", 50)

	for i := 0; i < 20; i++ {
		r := testReport("r")
		collector.Collect(&r)
	}
	collector.Close()

	if got := int64(collector.Count()) + collector.DroppedCount(); got != 20 {
		t.Errorf("Expected every report buffered or dropped, got %d", got)
	}
}

func TestCollectorReset(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	r := testReport("r1")
	collector.Collect(&r)
	collector.Collect(nil)
	collector.Reset()

	if collector.Count() != 0 {
		t.Errorf("Expected 0 reports after reset, got %d", collector.Count())
	}
	if collector.DroppedCount() != 0 {
		t.Errorf("Expected 0 dropped after reset, got %d", collector.DroppedCount())
	}
}

func TestCollectorConcurrentCollection(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				r := testReport("r")
				collector.Collect(&r)
			}
		}()
	}
	wg.Wait()

	if collector.Count() != 200 {
		t.Errorf("Expected 200 reports, got %d", collector.Count())
	}
}

func TestCollectorExportShrinks(t *testing.T) {
	collector := NewCollector("test", 10)
	collector.SetSyncMode(true)
	defer collector.Close()

	for i := 0; i < 600; i++ {
		r := testReport("r")
		collector.Collect(&r)
	}
	collector.Export()

	r := testReport("r")
	collector.Collect(&r)
	collector.Export()

	collector.mu.Lock()
	capacity := cap(collector.reports)
	collector.mu.Unlock()
	if capacity > 256 {
		t.Errorf("Expected oversized buffer to shrink, capacity %d", capacity)
	}
}

func TestCollectorCloseDuringCollect(t *testing.T) {
	for round := 0; round < 20; round++ {
		collector := NewCollector("test", 64)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 25; j++ {
					r := testReport("r")
					collector.Collect(&r)
				}
			}()
		}
		collector.Close()
		wg.Wait()
		<-collector.done

		if got := int64(collector.Count()) + collector.DroppedCount(); got != 200 {
			t.Fatalf("Round %d: expected every report buffered or dropped, got %d", round, got)
		}
	}
}
