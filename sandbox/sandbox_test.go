package sandbox

import (
	"context"
	"os"
	"testing"
)

func TestDetectDefaultsToBracketedOutsideFlatpak(t *testing.T) {
	if _, err := os.Stat("/.flatpak-info"); err == nil {
		t.Skip("running inside a Flatpak sandbox")
	}
	if got := Detect(); got != Bracketed {
		t.Errorf("Detect() = %v, want Bracketed", got)
	}
}

func TestBuildSeccompProgramIsNonEmptyAndAligned(t *testing.T) {
	prog, err := buildSeccompProgram()
	if err != nil {
		t.Fatalf("buildSeccompProgram: %v", err)
	}
	if len(prog) == 0 {
		t.Fatal("empty seccomp program")
	}
	if len(prog)%8 != 0 {
		t.Errorf("len(prog) = %d, not a multiple of the 8-byte sock_filter instruction size", len(prog))
	}
}

func TestLaunchRejectsMissingExecutable(t *testing.T) {
	_, err := Launch(context.Background(), "/no/such/glycin-loader", "", false, Bracketed)
	if err == nil {
		t.Fatal("expected an error for a missing executable")
	}
}
