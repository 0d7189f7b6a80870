package mounter

import (
	"context"
	"errors"
	"os/exec"
	"time"

	"github.com/marmos91/snapfs/internal/logger"
	"github.com/marmos91/snapfs/internal/ratelimiter"
)

// mountBusyExit is the exit code the mount helper uses for "filesystem
// busy / already mounted" (MOUNT_BUSY in the zfs mount helper).
const mountBusyExit = 16

// Config contains configuration for the exec-backed mounter.
type Config struct {
	// MountPath is the mount helper binary (default: "mount")
	MountPath string `mapstructure:"mount_path"`

	// UmountPath is the unmount helper binary (default: "umount")
	UmountPath string `mapstructure:"umount_path"`

	// ExportfsPath is the exportfs binary used to flush NFS export
	// caches before unmounting (default: "/usr/sbin/exportfs")
	ExportfsPath string `mapstructure:"exportfs_path"`

	// HelperTimeout bounds a single helper invocation (default: 1m)
	HelperTimeout time.Duration `mapstructure:"helper_timeout"`

	// RatePerSecond throttles helper invocations; 0 disables the
	// throttle
	RatePerSecond uint `mapstructure:"rate_per_second"`

	// Burst is the throttle burst size (default: 2x rate)
	Burst uint `mapstructure:"burst"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *Config) applyDefaults() {
	if c.MountPath == "" {
		c.MountPath = "mount"
	}
	if c.UmountPath == "" {
		c.UmountPath = "umount"
	}
	if c.ExportfsPath == "" {
		c.ExportfsPath = "/usr/sbin/exportfs"
	}
	if c.HelperTimeout == 0 {
		c.HelperTimeout = time.Minute
	}
	if c.Burst == 0 {
		c.Burst = c.RatePerSecond * 2
	}
}

// runFunc executes one helper invocation. Split out so tests can
// capture the argv without executing anything.
type runFunc func(ctx context.Context, name string, args ...string) error

// ExecMounter implements Mounter by invoking the system mount helpers
// as subprocesses, mirroring how the kernel hands automounts to a user
// mode helper.
//
// Thread Safety: Safe for concurrent use.
type ExecMounter struct {
	config  Config
	limiter *ratelimiter.RateLimiter
	run     runFunc
}

// NewExecMounter creates a mounter that shells out to the configured
// helper binaries.
func NewExecMounter(config Config) *ExecMounter {
	config.applyDefaults()
	return &ExecMounter{
		config:  config,
		limiter: ratelimiter.New(config.RatePerSecond, config.Burst),
		run:     runCommand,
	}
}

// Mount mounts the named snapshot at path.
//
// The helper's busy exit is returned as ErrBusy: it can mean a lost
// benign race with a concurrent mounter, or that the snapshot is
// already mounted somewhere else entirely. Callers treat it as soft
// success and converge via retry.
func (m *ExecMounter) Mount(ctx context.Context, fullName, path string, opts Options) error {
	options := "suid"
	if opts.DenySetuid {
		options = "nosuid"
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	logger.Debug("mount; name=%s path=%s options=%s", fullName, path, options)

	ctx, cancel := context.WithTimeout(ctx, m.config.HelperTimeout)
	defer cancel()

	err := m.run(ctx, m.config.MountPath,
		"-i", "-t", "zfs", "-n", "-o", options, fullName, path)
	if err == nil {
		return nil
	}
	if exitCode(err) == mountBusyExit {
		return ErrBusy
	}
	return err
}

// Unmount unmounts the filesystem at path. Every helper failure is
// normalized to ErrBusy.
func (m *ExecMounter) Unmount(ctx context.Context, path string, force bool) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return err
	}

	logger.Debug("unmount; path=%s force=%v", path, force)

	ctx, cancel := context.WithTimeout(ctx, m.config.HelperTimeout)
	defer cancel()

	args := []string{"-t", "zfs", "-n"}
	if force {
		args = []string{"-t", "zfs", "-fn"}
	}
	args = append(args, path)

	if err := m.run(ctx, m.config.UmountPath, args...); err != nil {
		// The helper exits non-zero for every failure cause; assume
		// the filesystem is busy.
		return ErrBusy
	}
	return nil
}

// FlushExports flushes the kernel's NFS export caches. Once a snapshot
// has been served over NFS its export cache entries pin the mountpoint,
// and there is no way to flush only the entries for one mount.
func (m *ExecMounter) FlushExports(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.config.HelperTimeout)
	defer cancel()

	if err := m.run(ctx, m.config.ExportfsPath, "-f"); err != nil {
		logger.Debug("exportfs flush failed: %v", err)
	}
}

// runCommand is the default runFunc.
func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// exitCode extracts the subprocess exit code, or -1 when the error is
// not an exit status.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
