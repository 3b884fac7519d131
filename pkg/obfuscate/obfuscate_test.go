package obfuscate

import (
	"bytes"
	"testing"
)

func TestMask_Schedule(t *testing.T) {
	tests := []struct {
		index int
		want  byte
	}{
		{0, 9},
		{1, 10},
		{32, 41},
		{33, 9},
		{34, 10},
		{66, 9},
	}

	for _, tt := range tests {
		if got := Mask(tt.index); got != tt.want {
			t.Errorf("Mask(%d) = %d, want %d", tt.index, got, tt.want)
		}
	}
}

func TestApply_KnownBytes(t *testing.T) {
	in := []byte{12, 56, 76, 33}
	// 12^9, 56^10, 76^11, 33^12
	want := []byte{5, 50, 71, 45}

	if got := Apply(in); !bytes.Equal(got, want) {
		t.Errorf("Apply(%v) = %v, want %v", in, got, want)
	}
}

func TestApply_RoundTrip(t *testing.T) {
	inputs := [][]byte{
		{},
		{0},
		{255, 254, 253},
		bytes.Repeat([]byte{0xAA}, 100),
	}

	for _, in := range inputs {
		got := Apply(Apply(in))
		if !bytes.Equal(got, in) {
			t.Errorf("Apply(Apply(%v)) = %v", in, got)
		}
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	in := []byte{1, 2, 3}
	Apply(in)
	if !bytes.Equal(in, []byte{1, 2, 3}) {
		t.Errorf("input mutated: %v", in)
	}
}
