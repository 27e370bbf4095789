//go:build windows

package scheduler

import (
	"errors"
	"os"
	"strconv"
)

// agentLock is an exclusively created file holding the owner's pid.
type agentLock struct {
	path   string
	locked bool
}

func (l *agentLock) acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if errors.Is(err, os.ErrExist) {
		return lockedBy(l.path)
	}
	if err != nil {
		return err
	}
	_, werr := f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	if err := errors.Join(werr, f.Close()); err != nil {
		os.Remove(l.path)
		return err
	}
	l.locked = true
	return nil
}

func (l *agentLock) release() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
