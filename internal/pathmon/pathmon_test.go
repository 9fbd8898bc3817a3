package pathmon

import (
	"testing"
	"time"
)

func TestIsTunnelName(t *testing.T) {
	t.Parallel()

	cases := map[string]bool{
		"utun3":  true,
		"tun0":   true,
		"tap1":   true,
		"wg0":    true,
		"ppp0":   true,
		"ipsec0": true,
		"WG0":    true,
		"eth0":   false,
		"wlan0":  false,
		"lo":     false,
	}
	for name, want := range cases {
		if got := IsTunnelName(name); got != want {
			t.Fatalf("IsTunnelName(%q)=%v want %v", name, got, want)
		}
	}
}

func TestBuildSnapshot(t *testing.T) {
	t.Parallel()

	ifaces := []Iface{
		{Name: "eth0", Flags: flagUp | flagRunning, HasNonLoopbackAddr: true},
		{Name: "wg0", Flags: flagUp | flagRunning, HasNonLoopbackAddr: true},
		{Name: "tun1", Flags: flagUp, HasNonLoopbackAddr: false},
	}
	snap := buildSnapshot(ifaces)
	if !snap.Present || !snap.Active {
		t.Fatalf("snap=%+v", snap)
	}
	if len(snap.Interfaces) != 2 {
		t.Fatalf("interfaces=%+v", snap.Interfaces)
	}
}

func TestBuildSnapshot_DownTunnelNotActive(t *testing.T) {
	t.Parallel()

	snap := buildSnapshot([]Iface{
		{Name: "utun0", Flags: flagUp, HasNonLoopbackAddr: false},
	})
	if !snap.Present {
		t.Fatal("tunnel should be present")
	}
	if snap.Active {
		t.Fatal("down tunnel should not be active")
	}
}

func TestBuildSnapshot_NoTunnels(t *testing.T) {
	t.Parallel()

	snap := buildSnapshot([]Iface{{Name: "eth0", Flags: flagUp | flagRunning}})
	if snap.Present || snap.Active || len(snap.Interfaces) != 0 {
		t.Fatalf("snap=%+v", snap)
	}
}

func TestDecodeFlags(t *testing.T) {
	t.Parallel()

	got := DecodeFlags(flagUp | flagRunning | flagMulticast)
	want := map[string]bool{"UP": true, "RUNNING": true, "MULTICAST": true}
	if len(got) != len(want) {
		t.Fatalf("got=%v", got)
	}
	for _, f := range got {
		if !want[f] {
			t.Fatalf("unexpected flag %q in %v", f, got)
		}
	}
}

func TestMonitor_SnapshotAndClose(t *testing.T) {
	t.Parallel()

	m := NewMonitor(10 * time.Millisecond)
	defer m.Close()

	// Snapshot is always available, even right after start.
	_ = m.Snapshot()
	time.Sleep(30 * time.Millisecond)
	_ = m.Snapshot()
}
