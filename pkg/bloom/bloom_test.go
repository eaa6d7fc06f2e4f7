package bloom

import (
	"fmt"
	"testing"
)

func TestFilter_NoFalseNegatives(t *testing.T) {
	f := New(1000, 10)
	keys := make([][]byte, 1000)
	for i := range keys {
		keys[i] = []byte(fmt.Sprintf("key-%d", i))
		f.Add(keys[i])
	}
	for _, k := range keys {
		if !f.MayContain(k) {
			t.Fatalf("MayContain(%q) = false, want true (false negative)", k)
		}
	}
}

func TestFilter_FalsePositiveRateIsReasonable(t *testing.T) {
	f := New(1000, 10)
	for i := 0; i < 1000; i++ {
		f.Add([]byte(fmt.Sprintf("key-%d", i)))
	}

	falsePositives := 0
	const trials = 10000
	for i := 0; i < trials; i++ {
		if f.MayContain([]byte(fmt.Sprintf("absent-%d", i))) {
			falsePositives++
		}
	}
	rate := float64(falsePositives) / float64(trials)
	if rate > 0.05 {
		t.Fatalf("false positive rate %.4f exceeds expected bound for 10 bits/key", rate)
	}
}

func TestFilter_EncodeDecodeRoundTrip(t *testing.T) {
	f := New(100, 10)
	f.Add([]byte("hello"))
	f.Add([]byte("world"))

	decoded, err := Decode(f.Encode())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !decoded.MayContain([]byte("hello")) || !decoded.MayContain([]byte("world")) {
		t.Fatalf("decoded filter lost inserted keys")
	}
}

func TestDecode_RejectsTruncatedBlock(t *testing.T) {
	if _, err := Decode([]byte{1, 2}); err == nil {
		t.Fatalf("expected error decoding truncated filter block")
	}
}

func TestNew_ClampsDegenerateInputs(t *testing.T) {
	f := New(0, 0)
	f.Add([]byte("x"))
	if !f.MayContain([]byte("x")) {
		t.Fatalf("filter built from degenerate inputs still must not false-negative")
	}
}
