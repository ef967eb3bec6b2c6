// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"os"
	"path/filepath"
	"runtime/debug"
)

const modulePath = "github.com/haukened/teleport-spk"

// InstallMethod describes how the running binary was installed, which
// decides whether an in-place upgrade is safe.
type InstallMethod int

const (
	// MethodUnknown means the install location gives no hint. In-place
	// upgrade is still attempted.
	MethodUnknown InstallMethod = iota
	// MethodScript means the binary lives in a directory the install
	// script manages.
	MethodScript
	// MethodGoInstall means the binary was built by the Go toolchain
	// into GOBIN. Upgrades go through go install, not this tool.
	MethodGoInstall
)

func (m InstallMethod) String() string {
	switch m {
	case MethodScript:
		return "install script"
	case MethodGoInstall:
		return "go install"
	default:
		return "unknown"
	}
}

// Seams for tests.
var (
	executablePath = os.Executable
	evalSymlinks   = filepath.EvalSymlinks
	readBuildInfo  = debug.ReadBuildInfo
)

// detectInstallMethod classifies the running binary by its resolved
// install location.
func detectInstallMethod() InstallMethod {
	exe, err := executablePath()
	if err != nil {
		return MethodUnknown
	}
	if resolved, err := evalSymlinks(exe); err == nil {
		exe = resolved
	}
	dir := filepath.Dir(exe)

	if inGoBin(dir) && builtFromModule() {
		return MethodGoInstall
	}
	if inScriptDir(dir) {
		return MethodScript
	}
	return MethodUnknown
}

func inGoBin(dir string) bool {
	if gobin := os.Getenv("GOBIN"); gobin != "" && sameDir(dir, gobin) {
		return true
	}
	gopath := os.Getenv("GOPATH")
	if gopath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return false
		}
		gopath = filepath.Join(home, "go")
	}
	return sameDir(dir, filepath.Join(gopath, "bin"))
}

// builtFromModule reports whether the binary carries build info naming
// this module with a pinned version, as go install stamps it.
func builtFromModule() bool {
	info, ok := readBuildInfo()
	if !ok {
		return false
	}
	return info.Main.Path == modulePath && info.Main.Version != "" && info.Main.Version != "(devel)"
}

func inScriptDir(dir string) bool {
	if sameDir(dir, "/usr/local/bin") {
		return true
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	return sameDir(dir, filepath.Join(home, ".local", "bin"))
}

func sameDir(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
