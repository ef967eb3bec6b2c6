// SPDX-License-Identifier: MPL-2.0

package pkgscripts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/haukened/teleport-spk/internal/catalog"
	"github.com/haukened/teleport-spk/internal/mounts"
)

type (
	// mockCommandRecorder captures arguments passed to the exec seam. It uses
	// the TestHelperProcess pattern to simulate command execution.
	mockCommandRecorder struct {
		Invocations []mockInvocation
		ExitCode    int
		Stdout      string
		Stderr      string
		// FailWhenArgsContain forces a non-zero exit for any invocation
		// whose argument list contains this string.
		FailWhenArgsContain string
	}

	// mockInvocation is a single call through the exec seam.
	mockInvocation struct {
		Name string
		Args []string
	}
)

// CommandFunc returns a replacement for the Repo exec seam that records
// invocations and runs TestHelperProcess instead of the real command.
func (m *mockCommandRecorder) CommandFunc(t *testing.T) ExecCommandFunc {
	t.Helper()
	return func(_ context.Context, name string, args ...string) *exec.Cmd {
		m.Invocations = append(m.Invocations, mockInvocation{Name: name, Args: args})

		cs := []string{"-test.run=TestHelperProcess", "--", name}
		cs = append(cs, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = []string{
			"GO_WANT_HELPER_PROCESS=1",
			fmt.Sprintf("GO_HELPER_EXIT_CODE=%d", m.ExitCode),
			fmt.Sprintf("GO_HELPER_STDOUT=%s", m.Stdout),
			fmt.Sprintf("GO_HELPER_STDERR=%s", m.Stderr),
		}
		if m.FailWhenArgsContain != "" && slices.Contains(args, m.FailWhenArgsContain) {
			cmd.Env = append(cmd.Env, "GO_HELPER_EXIT_CODE=1")
		}
		return cmd
	}
}

// TestHelperProcess simulates command execution for the mock recorder. It is
// not a real test; the mock re-invokes the test binary to run it.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	if stdout := os.Getenv("GO_HELPER_STDOUT"); stdout != "" {
		fmt.Fprint(os.Stdout, stdout)
	}
	if stderr := os.Getenv("GO_HELPER_STDERR"); stderr != "" {
		fmt.Fprint(os.Stderr, stderr)
	}

	exitCode := 0
	if code := os.Getenv("GO_HELPER_EXIT_CODE"); code != "" {
		fmt.Sscanf(code, "%d", &exitCode)
	}
	os.Exit(exitCode)
}

// staticLister returns fixed before/after mount tables on successive calls.
func staticLister(tables ...[]mounts.Point) MountLister {
	calls := 0
	return func(context.Context) ([]mounts.Point, error) {
		table := tables[min(calls, len(tables)-1)]
		calls++
		return table, nil
	}
}

func TestCheckout_RunsCloneThenCheckout(t *testing.T) {
	rec := &mockCommandRecorder{}
	repo := New(WithExecCommand(rec.CommandFunc(t)))

	dest := filepath.Join(t.TempDir(), "scripts")
	if err := repo.Checkout(context.Background(), "DSM7.1", dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.Invocations) != 2 {
		t.Fatalf("expected 2 git invocations, got %d: %v", len(rec.Invocations), rec.Invocations)
	}
	clone := rec.Invocations[0]
	if clone.Name != "git" || !slices.Equal(clone.Args, []string{"clone", DefaultRepoURL, dest}) {
		t.Fatalf("unexpected clone invocation: %s %v", clone.Name, clone.Args)
	}
	checkout := rec.Invocations[1]
	if checkout.Name != "git" || !slices.Equal(checkout.Args, []string{"-C", dest, "checkout", "DSM7.1"}) {
		t.Fatalf("unexpected checkout invocation: %s %v", checkout.Name, checkout.Args)
	}
}

func TestCheckout_WithRepoURL(t *testing.T) {
	rec := &mockCommandRecorder{}
	repo := New(
		WithExecCommand(rec.CommandFunc(t)),
		WithRepoURL("https://git.example.com/mirror/pkgscripts-ng.git"),
	)

	dest := filepath.Join(t.TempDir(), "scripts")
	if err := repo.Checkout(context.Background(), "DSM7.2", dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := rec.Invocations[0].Args[1]; got != "https://git.example.com/mirror/pkgscripts-ng.git" {
		t.Fatalf("clone used URL %q, want mirror URL", got)
	}
}

func TestClone_RunsSingleGitClone(t *testing.T) {
	rec := &mockCommandRecorder{}
	repo := New(WithExecCommand(rec.CommandFunc(t)))

	dest := filepath.Join(t.TempDir(), "source")
	if err := repo.Clone(context.Background(), "https://github.com/example/my-spk.git", dest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.Invocations) != 1 {
		t.Fatalf("expected 1 git invocation, got %d", len(rec.Invocations))
	}
	inv := rec.Invocations[0]
	if inv.Name != "git" || !slices.Equal(inv.Args, []string{"clone", "https://github.com/example/my-spk.git", dest}) {
		t.Fatalf("unexpected clone invocation: %s %v", inv.Name, inv.Args)
	}
}

func TestCheckout_CloneFailureStopsEarly(t *testing.T) {
	rec := &mockCommandRecorder{FailWhenArgsContain: "clone", Stderr: "fatal: unable to access repository"}
	repo := New(WithExecCommand(rec.CommandFunc(t)))

	err := repo.Checkout(context.Background(), "DSM7.1", filepath.Join(t.TempDir(), "scripts"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "cloning build scripts") {
		t.Fatalf("expected clone context in error, got %q", err)
	}

	var gitErr *GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("expected *GitError, got %T", err)
	}
	if !strings.Contains(gitErr.Output, "unable to access repository") {
		t.Fatalf("expected git output captured, got %q", gitErr.Output)
	}
	if len(rec.Invocations) != 1 {
		t.Fatalf("expected checkout to be skipped after clone failure, got %d invocations", len(rec.Invocations))
	}
}

func TestCheckout_MissingBranch(t *testing.T) {
	rec := &mockCommandRecorder{FailWhenArgsContain: "checkout", Stderr: "error: pathspec 'DSM9.9' did not match"}
	repo := New(WithExecCommand(rec.CommandFunc(t)))

	err := repo.Checkout(context.Background(), "DSM9.9", filepath.Join(t.TempDir(), "scripts"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "checking out branch DSM9.9") {
		t.Fatalf("expected checkout context in error, got %q", err)
	}

	var gitErr *GitError
	if !errors.As(err, &gitErr) {
		t.Fatalf("expected *GitError, got %T", err)
	}
	if !strings.Contains(gitErr.Output, "pathspec") {
		t.Fatalf("expected git output captured, got %q", gitErr.Output)
	}
}

func TestDeploy_InvokesEnvDeployWithFlags(t *testing.T) {
	workDir := t.TempDir()
	scriptsDir := filepath.Join(workDir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		t.Fatalf("creating scripts dir: %v", err)
	}
	logPath := filepath.Join(workDir, DeployLogName)

	created := mounts.Point{Device: "proc", Mountpoint: filepath.Join(workDir, "ds.avoton-7.1/proc"), FSType: "proc"}
	rec := &mockCommandRecorder{Stdout: "Extracting base environment...\n"}
	repo := New(
		WithExecCommand(rec.CommandFunc(t)),
		WithMountLister(staticLister(
			[]mounts.Point{{Mountpoint: "/"}},
			[]mounts.Point{{Mountpoint: "/"}, created},
		)),
	)

	points, err := repo.Deploy(context.Background(), scriptsDir, catalog.Version("7.1"), catalog.Platform("avoton"), logPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rec.Invocations) != 1 {
		t.Fatalf("expected 1 invocation, got %d", len(rec.Invocations))
	}
	inv := rec.Invocations[0]
	if inv.Name != "./EnvDeploy" {
		t.Fatalf("expected ./EnvDeploy, got %q", inv.Name)
	}
	if !slices.Equal(inv.Args, []string{"-D", "-v", "7.1", "-p", "avoton"}) {
		t.Fatalf("unexpected deploy args: %v", inv.Args)
	}

	if !slices.Equal(points, []mounts.Point{created}) {
		t.Fatalf("Deploy() points = %v, want %v", points, []mounts.Point{created})
	}

	logData, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading deploy log: %v", err)
	}
	if !strings.Contains(string(logData), "Extracting base environment") {
		t.Fatalf("expected script output in log, got %q", logData)
	}
}

func TestDeploy_FailureStillReportsCreatedMounts(t *testing.T) {
	workDir := t.TempDir()
	logPath := filepath.Join(workDir, DeployLogName)

	created := mounts.Point{Device: "proc", Mountpoint: filepath.Join(workDir, "ds.avoton-7.1/proc"), FSType: "proc"}
	rec := &mockCommandRecorder{ExitCode: 1, Stderr: "tar: base_env-7.1.txz: not found\n"}
	repo := New(
		WithExecCommand(rec.CommandFunc(t)),
		WithMountLister(staticLister(
			[]mounts.Point{{Mountpoint: "/"}},
			[]mounts.Point{{Mountpoint: "/"}, created},
		)),
	)

	points, err := repo.Deploy(context.Background(), workDir, catalog.Version("7.1"), catalog.Platform("avoton"), logPath)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var deployErr *DeployError
	if !errors.As(err, &deployErr) {
		t.Fatalf("expected *DeployError, got %T", err)
	}
	if deployErr.LogPath != logPath {
		t.Fatalf("LogPath = %q, want %q", deployErr.LogPath, logPath)
	}
	if !strings.Contains(err.Error(), logPath) {
		t.Fatalf("expected log path in error message, got %q", err)
	}

	// Mounts created before the failure must still be reported for teardown.
	if !slices.Equal(points, []mounts.Point{created}) {
		t.Fatalf("Deploy() points on failure = %v, want %v", points, []mounts.Point{created})
	}

	logData, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading deploy log: %v", err)
	}
	if !strings.Contains(string(logData), "not found") {
		t.Fatalf("expected script stderr in log, got %q", logData)
	}
}

func TestDeploy_SnapshotErrorAbortsBeforeRunning(t *testing.T) {
	listErr := errors.New("mount table unreadable")
	rec := &mockCommandRecorder{}
	repo := New(
		WithExecCommand(rec.CommandFunc(t)),
		WithMountLister(func(context.Context) ([]mounts.Point, error) { return nil, listErr }),
	)

	_, err := repo.Deploy(context.Background(), t.TempDir(), catalog.Version("7.1"), catalog.Platform("avoton"), filepath.Join(t.TempDir(), DeployLogName))
	if !errors.Is(err, listErr) {
		t.Fatalf("expected lister error, got %v", err)
	}
	if len(rec.Invocations) != 0 {
		t.Fatalf("expected no deploy invocation without a mount snapshot, got %d", len(rec.Invocations))
	}
}
