//go:build linux

package linux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/hupe1980/memgo/process"
)

// Process is a handle to a live Linux process.
type Process struct {
	pid  int
	name string
	mem  *os.File // lazily opened /proc/<pid>/mem for writes to read-only pages
}

// Open attaches to pid. It fails with process.ErrProcessLost if the process
// does not exist.
func Open(pid int) (*Process, error) {
	if err := alive(pid); err != nil {
		return nil, err
	}
	comm, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", process.ErrProcessLost, err)
	}
	return &Process{pid: pid, name: strings.TrimSpace(string(comm))}, nil
}

// Opener returns a process.Opener opening fresh handles to pid.
func Opener(pid int) process.Opener {
	return process.OpenerFunc(func(context.Context) (process.Process, error) {
		return Open(pid)
	})
}

// Find returns the pids whose command name equals name.
func Find(name string) ([]int, error) {
	dirs, err := filepath.Glob("/proc/[0-9]*")
	if err != nil {
		return nil, err
	}
	var pids []int
	for _, dir := range dirs {
		pid, err := strconv.Atoi(filepath.Base(dir))
		if err != nil {
			continue
		}
		comm, err := os.ReadFile(filepath.Join(dir, "comm"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(comm)) == name {
			pids = append(pids, pid)
		}
	}
	if len(pids) == 0 {
		return nil, fmt.Errorf("%w: %q", process.ErrNotFound, name)
	}
	return pids, nil
}

// PID returns the process id.
func (p *Process) PID() int { return p.pid }

// Name returns the command name.
func (p *Process) Name() string { return p.name }

// Regions reads /proc/<pid>/maps.
func (p *Process) Regions(_ context.Context, f process.Filter) ([]process.Region, error) {
	file, err := os.Open(fmt.Sprintf("/proc/%d/maps", p.pid))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, process.ErrProcessLost
		}
		return nil, err
	}
	defer file.Close()

	regions, err := ParseMaps(file)
	if err != nil {
		return nil, err
	}
	return f.Apply(regions), nil
}

// ReadAt copies foreign memory with process_vm_readv.
func (p *Process) ReadAt(b []byte, addr uint64) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &b[0], Len: uint64(len(b))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(b)}}
	n, err := unix.ProcessVMReadv(p.pid, local, remote, 0)
	if err != nil {
		return max(n, 0), fmt.Errorf("%w: read %#x+%d: %v", process.ErrUnreadableRegion, addr, len(b), err)
	}
	if n < len(b) {
		return n, fmt.Errorf("%w: short read at %#x", process.ErrUnreadableRegion, addr+uint64(n))
	}
	return n, nil
}

// WriteAt writes with process_vm_writev, falling back to /proc/<pid>/mem for
// pages the target mapped read-only.
func (p *Process) WriteAt(b []byte, addr uint64) (int, error) {
	if len(b) == 0 {
		return 0, nil
	}
	local := []unix.Iovec{{Base: &b[0], Len: uint64(len(b))}}
	remote := []unix.RemoteIovec{{Base: uintptr(addr), Len: len(b)}}
	n, err := unix.ProcessVMWritev(p.pid, local, remote, 0)
	if err == nil && n == len(b) {
		return n, nil
	}
	if errors.Is(err, unix.ESRCH) {
		return 0, process.ErrProcessLost
	}

	if p.mem == nil {
		f, oerr := os.OpenFile(fmt.Sprintf("/proc/%d/mem", p.pid), os.O_RDWR, 0)
		if oerr != nil {
			return 0, fmt.Errorf("%w: write %#x: %v", process.ErrUnreadableRegion, addr, oerr)
		}
		p.mem = f
	}
	n, err = p.mem.WriteAt(b, int64(addr))
	if err != nil {
		return n, fmt.Errorf("%w: write %#x: %v", process.ErrUnreadableRegion, addr, err)
	}
	return n, nil
}

// Check sends signal 0 to detect process exit.
func (p *Process) Check() error { return alive(p.pid) }

// Close releases the handle.
func (p *Process) Close() error {
	if p.mem != nil {
		err := p.mem.Close()
		p.mem = nil
		return err
	}
	return nil
}

func alive(pid int) error {
	err := unix.Kill(pid, 0)
	if err == nil || errors.Is(err, unix.EPERM) {
		return nil
	}
	return fmt.Errorf("%w: pid %d: %v", process.ErrProcessLost, pid, err)
}
