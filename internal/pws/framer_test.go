package pws

import "testing"

func TestEncodeDataRoundTrip(t *testing.T) {
	for _, jet := range []bool{false, true} {
		for _, idx := range []int64{0, 1, 8191, 8192, 16383, 16384, 100000} {
			h := EncodeData(idx, jet)
			hv := headerValue(h[:])
			got := Classify(hv)
			wantKind := KindMessage
			if jet {
				wantKind = KindJetData
			}
			if got.Kind != wantKind {
				t.Fatalf("EncodeData(%d,%v): kind=%v want %v", idx, jet, got.Kind, wantKind)
			}
			if int64(got.ILSB) != idx%MaxLSB {
				t.Fatalf("EncodeData(%d,%v): ilsb=%d want %d", idx, jet, got.ILSB, idx%MaxLSB)
			}
		}
	}
}

func TestEncodeJetCmdRoundTrip(t *testing.T) {
	h := EncodeJetCmd(42)
	got := Classify(headerValue(h[:]))
	if got.Kind != KindJetCmd || got.ILSB != 42 {
		t.Fatalf("EncodeJetCmd(42): got %+v", got)
	}
}

func TestClassifySignals(t *testing.T) {
	cases := []struct {
		sig  uint16
		want ChunkKind
	}{
		{sigAck, KindSignalAck},
		{sigResend, KindSignalResend},
		{sigResendError, KindSignalResendError},
		{sigPing, KindSignalPing},
		{sigPong, KindSignalPong},
	}
	for _, c := range cases {
		got := Classify(c.sig)
		if got.Kind != c.want {
			t.Fatalf("Classify(%#x): got %v want %v", c.sig, got.Kind, c.want)
		}
	}
}

func TestClassifyUnknownSignal(t *testing.T) {
	got := Classify(0x8099)
	if got.Kind != KindSignalUnknown {
		t.Fatalf("Classify(0x8099): got %v want KindSignalUnknown", got.Kind)
	}
}

func TestExpandIndexSameWindow(t *testing.T) {
	for ctx := int64(0); ctx < MaxLSB*2; ctx += 997 {
		lsb := uint16(mod(ctx, MaxLSB))
		got := ExpandIndex(lsb, ctx)
		if got != ctx {
			t.Fatalf("ExpandIndex(%d, ctx=%d): got %d want %d", lsb, ctx, got, ctx)
		}
	}
}

func TestExpandIndexForwardWrap(t *testing.T) {
	// context sits just before a window boundary; a small lsb should expand
	// to an index just ahead of context, not wrap backward.
	ctx := int64(16383)
	got := ExpandIndex(0, ctx)
	if got != 16384 {
		t.Fatalf("ExpandIndex(0, ctx=16383): got %d want 16384", got)
	}
}

func TestExpandIndexCanBeNegative(t *testing.T) {
	// With context==0, an lsb near the top of the window must expand to a
	// negative index: the protocol never actually emits this header at
	// context 0, but the unmod math must not clamp to zero regardless.
	got := ExpandIndex(MaxLSB-1, 0)
	if got >= 0 {
		t.Fatalf("ExpandIndex(%d, ctx=0): got %d, want negative", MaxLSB-1, got)
	}
}

func TestExpandIndexBackwardDuplicate(t *testing.T) {
	ctx := int64(50)
	lsb := uint16(mod(ctx-1, MaxLSB))
	got := ExpandIndex(lsb, ctx)
	if got != ctx-1 {
		t.Fatalf("ExpandIndex(%d, ctx=%d): got %d want %d", lsb, ctx, got, ctx-1)
	}
}

func TestEncodeSignalPanicsOnNonSignal(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for non-signal value")
		}
	}()
	EncodeSignal(0x0001)
}
