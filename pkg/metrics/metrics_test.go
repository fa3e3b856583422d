package metrics

import "testing"

func TestRunStatsRecord(t *testing.T) {
	var stats RunStats
	stats.Record(true, false)
	stats.Record(true, false)
	stats.Record(false, false)
	stats.Record(true, true)

	if stats.Deleted != 2 || stats.Failed != 1 || stats.Simulated != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.Total() != 4 {
		t.Errorf("Expected 4 attempts, got %d", stats.Total())
	}
}
