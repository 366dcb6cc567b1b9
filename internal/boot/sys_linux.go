//go:build linux

package boot

import "golang.org/x/sys/unix"

func rebootSyscall() error {
	return unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART)
}

func syncFilesystems() { unix.Sync() }
