package id

import "testing"

func TestFromHostDeterministic(t *testing.T) {
	a := FromHost("node-a.example.com")
	b := FromHost("node-a.example.com")
	if !a.Equal(b) {
		t.Fatalf("expected deterministic id, got %s != %s", a, b)
	}
}

func TestFromHostIgnoresPort(t *testing.T) {
	// The port and object name are not part of the id.
	a := FromHost("10.0.0.1")
	b := FromHost("10.0.0.1")
	if !a.Equal(b) {
		t.Fatalf("host-only id derivation should be stable: %s != %s", a, b)
	}
}

func TestInArcBasic(t *testing.T) {
	l := ID{0x10}
	r := ID{0x20}
	cases := []struct {
		x    ID
		want bool
	}{
		{ID{0x15}, true},
		{ID{0x20}, true},  // right inclusive
		{ID{0x10}, false}, // left exclusive
		{ID{0x05}, false},
		{ID{0x25}, false},
	}
	for _, c := range cases {
		if got := InArc(c.x, l, r); got != c.want {
			t.Errorf("InArc(%v,%v,%v) = %v, want %v", c.x, l, r, got, c.want)
		}
	}
}

func TestInArcWraps(t *testing.T) {
	l := ID{0xF0}
	r := ID{0x10}
	if !InArc(ID{0xFF}, l, r) {
		t.Fatalf("expected wraparound id to be in arc")
	}
	if !InArc(ID{0x05}, l, r) {
		t.Fatalf("expected wraparound id to be in arc")
	}
	if InArc(ID{0x50}, l, r) {
		t.Fatalf("expected mid-ring id to be outside wrapped arc")
	}
}

func TestInArcOpenExcludesRight(t *testing.T) {
	l := ID{0x10}
	r := ID{0x20}
	if InArcOpen(ID{0x20}, l, r) {
		t.Fatalf("InArcOpen must exclude the right endpoint")
	}
	if !InArc(ID{0x20}, l, r) {
		t.Fatalf("InArc must include the right endpoint")
	}
}

func TestPowerOffsetWraps(t *testing.T) {
	// 2^159 + 2^159 mod 2^160 == 0
	base := PowerOffset(make(ID, 20), 159)
	wrapped := PowerOffset(base, 159)
	zero := make(ID, 20)
	if !wrapped.Equal(zero) {
		t.Fatalf("expected wraparound to zero, got %s", wrapped)
	}
}
