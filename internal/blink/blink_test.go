package blink

import "testing"

func TestPhaseOnApple(t *testing.T) {
	lit := 0
	for phase := 0; phase < PhaseCount; phase++ {
		if PhaseOn(PatternApple, phase) {
			lit++
			if phase != 0 {
				t.Fatalf("apple lit at phase %d", phase)
			}
		}
	}
	if lit != 1 {
		t.Fatalf("apple lit %d phases, want 1", lit)
	}
}

func TestPhaseOnGoogle(t *testing.T) {
	for phase := 0; phase < PhaseCount; phase++ {
		want := phase == 0 || phase == 2
		if got := PhaseOn(PatternGoogle, phase); got != want {
			t.Fatalf("google phase %d = %v, want %v", phase, got, want)
		}
	}
}

func TestPhaseOnFault(t *testing.T) {
	for phase := 0; phase < PhaseCount; phase++ {
		want := phase%2 == 0
		if got := PhaseOn(PatternFault, phase); got != want {
			t.Fatalf("fault phase %d = %v, want %v", phase, got, want)
		}
	}
}

func TestPhaseOnWraps(t *testing.T) {
	if !PhaseOn(PatternApple, PhaseCount) {
		t.Fatal("phase PhaseCount should wrap to 0")
	}
	if !PhaseOn(PatternApple, -PhaseCount) {
		t.Fatal("negative phase should wrap to 0")
	}
}

func TestNopLED(t *testing.T) {
	if err := (NopLED{}).Set(true); err != nil {
		t.Fatalf("NopLED.Set failed: %v", err)
	}
}
