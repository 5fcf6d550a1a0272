// Package rpc provides tests for the pending call table
package rpc

import (
	"sync"
	"testing"
	"time"
)

func TestCallTable(t *testing.T) {
	t.Run("InsertAndTryGet", func(t *testing.T) {
		table := newCallTable()
		pc := newPendingCall(&testMessage{id: 1}, time.Second)

		if !table.insert(1, pc) {
			t.Fatal("Insert into an empty table should succeed")
		}

		got, ok := table.tryGet(1)
		if !ok || got != pc {
			t.Error("TryGet should return the inserted call")
		}
		if table.size() != 1 {
			t.Errorf("Expected table size 1, got %d", table.size())
		}
	})

	t.Run("InsertDuplicateFails", func(t *testing.T) {
		table := newCallTable()
		table.insert(1, newPendingCall(&testMessage{id: 1}, time.Second))

		if table.insert(1, newPendingCall(&testMessage{id: 1}, time.Second)) {
			t.Error("Insert for a live id should fail")
		}
		if table.size() != 1 {
			t.Errorf("Expected table size 1, got %d", table.size())
		}
	})

	t.Run("RemoveIfPresent", func(t *testing.T) {
		table := newCallTable()
		pc := newPendingCall(&testMessage{id: 9}, time.Second)
		table.insert(9, pc)

		got, ok := table.removeIfPresent(9)
		if !ok || got != pc {
			t.Fatal("First remove should return the live entry")
		}

		if _, ok := table.removeIfPresent(9); ok {
			t.Error("Second remove for the same id should miss")
		}
		if table.size() != 0 {
			t.Errorf("Expected empty table, got %d entries", table.size())
		}
	})

	t.Run("SnapshotIDs", func(t *testing.T) {
		table := newCallTable()
		for id := uint32(1); id <= 3; id++ {
			table.insert(id, newPendingCall(&testMessage{id: id}, time.Second))
		}

		ids := table.snapshotIDs()
		if len(ids) != 3 {
			t.Fatalf("Expected 3 ids, got %d", len(ids))
		}

		seen := make(map[uint32]bool)
		for _, id := range ids {
			seen[id] = true
		}
		for id := uint32(1); id <= 3; id++ {
			if !seen[id] {
				t.Errorf("Missing id %d in snapshot", id)
			}
		}

		// The snapshot stays valid while the table mutates
		table.removeIfPresent(2)
		if len(ids) != 3 {
			t.Error("Snapshot should be a point-in-time copy")
		}
	})

	t.Run("Advance", func(t *testing.T) {
		table := newCallTable()
		table.insert(4, newPendingCall(&testMessage{id: 4}, 100*time.Millisecond))

		expired, ok := table.advance(4, 99*time.Millisecond)
		if !ok || expired {
			t.Error("Entry should be live and under budget at 99ms")
		}

		expired, ok = table.advance(4, 1*time.Millisecond)
		if !ok || !expired {
			t.Error("Entry should be expired when elapsed reaches the budget")
		}

		if _, ok := table.advance(99, time.Second); ok {
			t.Error("Advance for an unknown id should report not found")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		table := newCallTable()
		for id := uint32(1); id <= 5; id++ {
			table.insert(id, newPendingCall(&testMessage{id: id}, time.Second))
		}

		removed := table.clear()
		if len(removed) != 5 {
			t.Errorf("Expected 5 removed entries, got %d", len(removed))
		}
		if table.size() != 0 {
			t.Errorf("Expected empty table, got %d entries", table.size())
		}
	})
}

func TestCallTableConcurrentRemove(t *testing.T) {
	// Many goroutines race to remove the same entry; exactly one may win.
	const attempts = 100

	for i := 0; i < attempts; i++ {
		table := newCallTable()
		table.insert(1, newPendingCall(&testMessage{id: 1}, time.Second))

		var wg sync.WaitGroup
		var wins int64
		winners := make(chan struct{}, 8)

		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, ok := table.removeIfPresent(1); ok {
					winners <- struct{}{}
				}
			}()
		}
		wg.Wait()
		close(winners)

		for range winners {
			wins++
		}
		if wins != 1 {
			t.Fatalf("Expected exactly one winner, got %d", wins)
		}
	}
}
