// SPDX-License-Identifier: MPL-2.0

// Package mounts models the live filesystem mount table. The environment
// deployer mounts pseudo-filesystems under the workspace as a side effect;
// this package discovers them, diffs snapshots to attribute ownership, and
// detaches them in an order safe for nested mounts.
package mounts

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/shirou/gopsutil/v4/disk"
	"golang.org/x/sys/unix"
)

var (
	//nolint:gochecknoglobals // Test seam for disk.PartitionsWithContext.
	listPartitions = disk.PartitionsWithContext

	//nolint:gochecknoglobals // Test seam for unix.Unmount.
	unmountFunc = func(target string) error { return unix.Unmount(target, 0) }
)

type (
	// Point is one live mount.
	Point struct {
		Device     string // backing device or pseudo-fs source (e.g. "proc")
		Mountpoint string // absolute path the filesystem is attached at
		FSType     string // filesystem type (e.g. "proc", "ext4")
	}

	// UnmountError is returned when a mountpoint cannot be detached. The
	// cause (typically a unix errno such as EBUSY) is reachable via Unwrap.
	UnmountError struct {
		Mountpoint string
		Err        error
	}
)

// Error implements the error interface for UnmountError.
func (e *UnmountError) Error() string {
	return fmt.Sprintf("unmounting %s: %v", e.Mountpoint, e.Err)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *UnmountError) Unwrap() error { return e.Err }

// Snapshot returns the live mount table, including pseudo-filesystems.
func Snapshot(ctx context.Context) ([]Point, error) {
	parts, err := listPartitions(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("reading mount table: %w", err)
	}

	points := make([]Point, 0, len(parts))
	for _, p := range parts {
		points = append(points, Point{
			Device:     p.Device,
			Mountpoint: p.Mountpoint,
			FSType:     p.Fstype,
		})
	}
	return points, nil
}

// Under returns the points whose mountpoint is root itself or lies below it.
// Matching is path-segment-aware: "/tmp/ws" does not capture "/tmp/ws-other".
func Under(points []Point, root string) []Point {
	root = filepath.Clean(root)
	prefix := root + string(filepath.Separator)

	var under []Point
	for _, p := range points {
		mp := filepath.Clean(p.Mountpoint)
		if mp == root || strings.HasPrefix(mp, prefix) {
			under = append(under, p)
		}
	}
	return under
}

// Diff returns the points present in after but not in before, keyed by
// mountpoint. This attributes ownership of mounts created by a subprocess
// invocation bracketed by two snapshots.
func Diff(before, after []Point) []Point {
	known := make(map[string]struct{}, len(before))
	for _, p := range before {
		known[filepath.Clean(p.Mountpoint)] = struct{}{}
	}

	var created []Point
	for _, p := range after {
		if _, ok := known[filepath.Clean(p.Mountpoint)]; !ok {
			created = append(created, p)
		}
	}
	return created
}

// SortForUnmount orders points deepest-first, so nested mounts (a proc
// filesystem inside a chroot tree) detach before their parents. Ties break
// lexicographically for deterministic output.
func SortForUnmount(points []Point) {
	slices.SortStableFunc(points, func(a, b Point) int {
		da := strings.Count(filepath.Clean(a.Mountpoint), string(filepath.Separator))
		db := strings.Count(filepath.Clean(b.Mountpoint), string(filepath.Separator))
		if da != db {
			return db - da
		}
		return strings.Compare(b.Mountpoint, a.Mountpoint)
	})
}

// Unmount detaches a single mountpoint. There is no lazy-detach fallback: a
// busy mount must surface as an error, because deleting the directory backing
// a live mount is never safe.
func Unmount(point Point) error {
	if err := unmountFunc(point.Mountpoint); err != nil {
		return &UnmountError{Mountpoint: point.Mountpoint, Err: err}
	}
	return nil
}

// UnmountAll detaches every point, deepest-first. All points are attempted
// even after a failure, so the returned error names every mount that is
// still attached.
func UnmountAll(points []Point) error {
	ordered := slices.Clone(points)
	SortForUnmount(ordered)

	var errs []error
	for _, p := range ordered {
		if err := Unmount(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
