//go:build linux

package shmframe

import (
	"bytes"
	"errors"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// procStat holds the fields of /proc/<pid>/stat the holder record needs.
type procStat struct {
	state     byte
	startTime uint64 // clock ticks since boot
}

func readProcStat(pid int) (procStat, error) {
	data, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return procStat{}, err
	}
	// comm (field 2) may contain spaces and parens; fields resume after the last ')'.
	end := bytes.LastIndexByte(data, ')')
	if end < 0 {
		return procStat{}, errors.New("malformed stat")
	}
	fields := bytes.Fields(data[end+1:])
	// fields[0] is field 3 (state); starttime is field 22.
	const startTimeIndex = 22 - 3
	if len(fields) <= startTimeIndex || len(fields[0]) == 0 {
		return procStat{}, errors.New("short stat")
	}
	start, err := strconv.ParseUint(string(fields[startTimeIndex]), 10, 64)
	if err != nil {
		return procStat{}, err
	}
	return procStat{state: fields[0][0], startTime: start}, nil
}

// selfToken is this process's liveness token, 0 if /proc is unavailable.
func selfToken() uint64 {
	st, err := readProcStat(os.Getpid())
	if err != nil {
		return 0
	}
	return st.startTime
}

// processAlive reports whether pid still names the running process
// identified by token. A zero token only checks that the pid exists.
// Zombies count as dead: they hold no locks and will never write again.
func processAlive(pid int, token uint64) bool {
	if pid <= 0 {
		return false
	}
	if err := unix.Kill(pid, 0); err != nil && !errors.Is(err, unix.EPERM) {
		return false
	}
	st, err := readProcStat(pid)
	if err != nil {
		// Exited between kill and the read, or /proc is hidden; trust kill.
		return !errors.Is(err, os.ErrNotExist)
	}
	if st.state == 'Z' || st.state == 'X' {
		return false
	}
	return token == 0 || st.startTime == token
}
