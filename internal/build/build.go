package build

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

const Name = "kittehuplodah"

// Set with -ldflags "-X github.com/mt-inside/kittehuplodah/internal/build.Version=..."
var Version = ""

func init() {
	if Version != "" {
		return
	}
	Version = "(devel)"
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		Version = bi.Main.Version
	}
}

func NameAndVersion() string {
	return fmt.Sprintf("Kitteh Uploadah %s compiled with %s", Version, runtime.Version())
}
