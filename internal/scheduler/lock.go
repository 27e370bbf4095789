//go:build !windows

package scheduler

import (
	"errors"
	"os"
	"strconv"
	"syscall"
)

// agentLock is an flock(2) on a file that also records the holder's pid.
type agentLock struct {
	path string
	file *os.File
}

func (l *agentLock) acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return lockedBy(l.path)
		}
		return err
	}
	if err := f.Truncate(0); err == nil {
		f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	}
	l.file = f
	return nil
}

func (l *agentLock) release() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	// The file stays: unlinking it would let two processes lock different inodes.
	f.Truncate(0)
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	f.Close()
	return err
}
