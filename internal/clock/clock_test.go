/*
Copyright 2026 jr42.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package clock

import "testing"

func TestCompareWraparound(t *testing.T) {
	tests := []struct {
		name string
		a, b Time
		want int
	}{
		{"equal", 100, 100, 0},
		{"a before b", 100, 200, -1},
		{"a after b", 200, 100, 1},
		{"wrap: a just after rollover, b just before", 10, 0xFFFFFFF0, 1},
		{"wrap: a just before rollover, b just after", 0xFFFFFFF0, 10, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.a, tt.b); got != tt.want {
				t.Errorf("Compare(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestAtOrAfter(t *testing.T) {
	if !AtOrAfter(100, 100) {
		t.Error("expected AtOrAfter to hold when equal")
	}
	if !AtOrAfter(101, 100) {
		t.Error("expected AtOrAfter to hold when a > b")
	}
	if AtOrAfter(99, 100) {
		t.Error("expected AtOrAfter to not hold when a < b")
	}
}

func TestRandSymBounds(t *testing.T) {
	r := NewDefaultRand()
	for i := 0; i < 1000; i++ {
		v := RandSym(r, 5)
		if v < -5 || v > 5 {
			t.Fatalf("RandSym(5) out of bounds: %d", v)
		}
	}
	if RandSym(r, 0) != 0 {
		t.Error("RandSym(0) must be 0")
	}
}

func TestRandFractionBounds(t *testing.T) {
	r := NewDefaultRand()
	for i := 0; i < 1000; i++ {
		v := RandFraction(r, 1000)
		if v < -100 || v > 100 {
			t.Fatalf("RandFraction(1000) out of bounds: %d", v)
		}
	}
}
