// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"path/filepath"
	"runtime/debug"
	"testing"
)

// stubBinaryAt points the detection seams at a fake binary path. The
// symlink resolver becomes the identity and build info is absent
// unless a later stub replaces it.
func stubBinaryAt(t *testing.T, path string) {
	t.Helper()
	origExec, origEval, origInfo := executablePath, evalSymlinks, readBuildInfo
	executablePath = func() (string, error) { return path, nil }
	evalSymlinks = func(p string) (string, error) { return p, nil }
	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
	t.Cleanup(func() {
		executablePath, evalSymlinks, readBuildInfo = origExec, origEval, origInfo
	})
}

func stubBuildInfo(t *testing.T, path, version string) {
	t.Helper()
	orig := readBuildInfo
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		info := &debug.BuildInfo{}
		info.Main.Path = path
		info.Main.Version = version
		return info, true
	}
	t.Cleanup(func() { readBuildInfo = orig })
}

// Not parallel: the detection seams are package globals.

func TestDetectInstallMethod_ScriptDir(t *testing.T) {
	stubBinaryAt(t, "/usr/local/bin/teleport-spk")

	if got := detectInstallMethod(); got != MethodScript {
		t.Errorf("got %v, want MethodScript", got)
	}
}

func TestDetectInstallMethod_GoBin(t *testing.T) {
	gobin := t.TempDir()
	t.Setenv("GOBIN", gobin)
	stubBinaryAt(t, filepath.Join(gobin, "teleport-spk"))
	stubBuildInfo(t, modulePath, "v1.0.0")

	if got := detectInstallMethod(); got != MethodGoInstall {
		t.Errorf("got %v, want MethodGoInstall", got)
	}
}

func TestDetectInstallMethod_GoBinWithoutBuildInfo(t *testing.T) {
	// A binary that merely sits in GOBIN was not necessarily built by
	// go install.
	gobin := t.TempDir()
	t.Setenv("GOBIN", gobin)
	stubBinaryAt(t, filepath.Join(gobin, "teleport-spk"))

	if got := detectInstallMethod(); got != MethodUnknown {
		t.Errorf("got %v, want MethodUnknown", got)
	}
}

func TestDetectInstallMethod_DevelBuildInfo(t *testing.T) {
	gobin := t.TempDir()
	t.Setenv("GOBIN", gobin)
	stubBinaryAt(t, filepath.Join(gobin, "teleport-spk"))
	stubBuildInfo(t, modulePath, "(devel)")

	if got := detectInstallMethod(); got != MethodUnknown {
		t.Errorf("got %v, want MethodUnknown", got)
	}
}

func TestDetectInstallMethod_UnknownLocation(t *testing.T) {
	t.Setenv("GOBIN", "")
	stubBinaryAt(t, "/opt/tools/teleport-spk")

	if got := detectInstallMethod(); got != MethodUnknown {
		t.Errorf("got %v, want MethodUnknown", got)
	}
}

func TestInstallMethod_String(t *testing.T) {
	t.Parallel()

	cases := []struct {
		method InstallMethod
		want   string
	}{
		{MethodUnknown, "unknown"},
		{MethodScript, "install script"},
		{MethodGoInstall, "go install"},
	}
	for _, tc := range cases {
		if got := tc.method.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", tc.method, got, tc.want)
		}
	}
}
