//go:build !linux

package boot

import "errors"

func rebootSyscall() error { return errors.New("reboot is only supported on linux") }

func syncFilesystems() {}
