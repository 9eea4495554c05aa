package copier

import (
	"math"
	"testing"
)

func TestSize(t *testing.T) {
	tests := []struct {
		name       string
		source     float64
		allocation float64
		maxSize    float64
		want       float64
	}{
		{"ten percent of 100", 100, 10, 0, 10},
		{"clamped by max", 100, 10, 5, 5},
		{"zero source", 0, 50, 0, 0},
		{"negative source", -20, 50, 0, 0},
		{"zero allocation", 100, 0, 0, 0},
		{"negative allocation", 100, -10, 0, 0},
		{"max above sized is no-op", 100, 10, 50, 10},
		{"full mirror", 250, 100, 0, 250},
		{"nan source", math.NaN(), 10, 0, 0},
		{"inf source", math.Inf(1), 10, 0, 0},
		{"nan allocation", 100, math.NaN(), 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Size(tt.source, tt.allocation, tt.maxSize)
			if got != tt.want {
				t.Errorf("Size(%v, %v, %v) = %v, want %v", tt.source, tt.allocation, tt.maxSize, got, tt.want)
			}
			if math.IsNaN(got) || got < 0 {
				t.Errorf("Size returned invalid value %v", got)
			}
		})
	}
}

func TestAllocateMatchesSize(t *testing.T) {
	if got := Allocate(1000, 5, 0); got != 50 {
		t.Errorf("Allocate(1000, 5, 0) = %v, want 50", got)
	}
	if got := Allocate(1000, 5, 20); got != 20 {
		t.Errorf("Allocate(1000, 5, 20) = %v, want 20", got)
	}
}
