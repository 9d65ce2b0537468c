package stats

import "testing"

func TestCountersSnapshot(t *testing.T) {
	c := New()
	c.IncCompleted(100)
	c.IncCompleted(50)
	c.IncSkipped()
	c.IncFailed()
	c.IncFailed()

	snap := c.Snapshot()
	if snap.Completed != 2 {
		t.Errorf("Completed = %d, want 2", snap.Completed)
	}
	if snap.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", snap.Skipped)
	}
	if snap.Failed != 2 {
		t.Errorf("Failed = %d, want 2", snap.Failed)
	}
	if snap.BytesTransferred != 150 {
		t.Errorf("BytesTransferred = %d, want 150", snap.BytesTransferred)
	}
}
