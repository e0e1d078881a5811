package acpserver

import (
	"testing"

	"github.com/fleetmind/acpd/internal/model"
)

func TestConnection_TrySend_FillsThenDrops(t *testing.T) {
	c := newConnection(model.NewAgentID(), nil, connConfig{ChannelCapacity: 2, MaxConsecutiveDrops: 3, WarningThreshold: 0.8})

	if out := c.TrySend(nil); out != Sent {
		t.Fatalf("1st send = %v, want Sent", out)
	}
	if out := c.TrySend(nil); out != Sent {
		t.Fatalf("2nd send = %v, want Sent", out)
	}
	if out := c.TrySend(nil); out != Dropped {
		t.Fatalf("3rd send (queue full) = %v, want Dropped", out)
	}
}

func TestConnection_TrySend_EvictsAfterMaxConsecutiveDrops(t *testing.T) {
	c := newConnection(model.NewAgentID(), nil, connConfig{ChannelCapacity: 1, MaxConsecutiveDrops: 2, WarningThreshold: 0.8})

	if out := c.TrySend(nil); out != Sent {
		t.Fatalf("fill = %v, want Sent", out)
	}
	if out := c.TrySend(nil); out != Dropped {
		t.Fatalf("1st drop = %v, want Dropped", out)
	}
	if out := c.TrySend(nil); out != Evict {
		t.Fatalf("2nd consecutive drop = %v, want Evict", out)
	}
}

func TestConnection_TrySend_ResetsConsecutiveDropsOnSuccess(t *testing.T) {
	c := newConnection(model.NewAgentID(), nil, connConfig{ChannelCapacity: 1, MaxConsecutiveDrops: 2, WarningThreshold: 0.8})

	c.TrySend(nil) // fills the queue
	c.TrySend(nil) // 1 consecutive drop

	// Drain the queue so the next send succeeds again.
	<-c.outbound
	if out := c.TrySend(nil); out != Sent {
		t.Fatalf("send after drain = %v, want Sent", out)
	}

	c.mu.Lock()
	drops := c.counters.ConsecutiveDrops
	c.mu.Unlock()
	if drops != 0 {
		t.Errorf("ConsecutiveDrops = %d, want 0 after a successful send", drops)
	}
}

func TestConnection_TrySend_ClosedConnectionAlwaysEvicts(t *testing.T) {
	c := newConnection(model.NewAgentID(), nil, connConfig{ChannelCapacity: 4, MaxConsecutiveDrops: 5, WarningThreshold: 0.8})
	c.markClosed()

	if out := c.TrySend(nil); out != Evict {
		t.Fatalf("send on closed connection = %v, want Evict", out)
	}
}

func TestConnection_Snapshot_ReportsFullnessAndWarning(t *testing.T) {
	c := newConnection(model.NewAgentID(), nil, connConfig{ChannelCapacity: 10, MaxConsecutiveDrops: 99, WarningThreshold: 0.5})

	for i := 0; i < 6; i++ {
		c.TrySend(nil)
	}

	snap := c.Snapshot()
	if snap.Len != 6 || snap.Capacity != 10 {
		t.Fatalf("Snapshot len/capacity = %d/%d, want 6/10", snap.Len, snap.Capacity)
	}
	if snap.Fullness != 0.6 {
		t.Errorf("Fullness = %v, want 0.6", snap.Fullness)
	}
	if !snap.IsWarning {
		t.Error("expected IsWarning to be true once fullness crosses the threshold")
	}
}
