package config

import (
	"fmt"
	"os/user"
	"strconv"
	"syscall"
)

// DropPrivileges switches the process to the named group, then the named
// user (group first, since once the uid is dropped the process usually
// no longer holds permission to change its gid). Empty strings are a
// no-op for that half of the pair, matching spec.md's "drop privileges to
// this user/group" being two independently optional keys.
func DropPrivileges(userName, groupName string) error {
	if groupName != "" {
		gid, err := lookupGID(groupName)
		if err != nil {
			return fmt.Errorf("config: resolve group %q: %w", groupName, err)
		}
		if err := syscall.Setgid(gid); err != nil {
			return fmt.Errorf("config: setgid(%d): %w", gid, err)
		}
	}
	if userName != "" {
		uid, err := lookupUID(userName)
		if err != nil {
			return fmt.Errorf("config: resolve user %q: %w", userName, err)
		}
		if err := syscall.Setuid(uid); err != nil {
			return fmt.Errorf("config: setuid(%d): %w", uid, err)
		}
	}
	return nil
}

func lookupUID(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func lookupGID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}
