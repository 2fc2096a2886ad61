// Package linux implements process.Process for Linux using /proc and the
// process_vm_readv/process_vm_writev system calls.
package linux

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hupe1980/memgo/process"
)

// ParseMaps parses the content of /proc/<pid>/maps.
//
// Lines look like:
//
//	55d0c8a00000-55d0c8a21000 rw-p 00000000 00:00 0    [heap]
func ParseMaps(r io.Reader) ([]process.Region, error) {
	var regions []process.Region
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		reg, err := parseMapsLine(line)
		if err != nil {
			return nil, err
		}
		regions = append(regions, reg)
	}
	return regions, sc.Err()
}

func parseMapsLine(line string) (process.Region, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return process.Region{}, fmt.Errorf("malformed maps line %q", line)
	}
	lo, hi, ok := strings.Cut(fields[0], "-")
	if !ok {
		return process.Region{}, fmt.Errorf("malformed address range %q", fields[0])
	}
	start, err := strconv.ParseUint(lo, 16, 64)
	if err != nil {
		return process.Region{}, fmt.Errorf("malformed start address %q: %w", lo, err)
	}
	end, err := strconv.ParseUint(hi, 16, 64)
	if err != nil {
		return process.Region{}, fmt.Errorf("malformed end address %q: %w", hi, err)
	}
	if end < start {
		return process.Region{}, fmt.Errorf("inverted address range %q", fields[0])
	}

	var path string
	if len(fields) >= 6 {
		path = strings.Join(fields[5:], " ")
	}
	return process.Region{Start: start, End: end, Perms: fields[1], Path: path}, nil
}
