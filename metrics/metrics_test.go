package metrics

import "testing"

func TestCounters(t *testing.T) {
	c := New("test_counters_basic")

	c.IncPuts()
	c.IncPuts()
	c.IncGets()
	c.AddBytesSent(100)
	c.AddBytesSent(50)

	if c.Puts != 2 {
		t.Errorf("Puts = %d, want 2", c.Puts)
	}
	if c.Gets != 1 {
		t.Errorf("Gets = %d, want 1", c.Gets)
	}
	if c.BytesSent != 150 {
		t.Errorf("BytesSent = %d, want 150", c.BytesSent)
	}
}
