//go:build windows

package storage

import "golang.org/x/sys/windows"

// availableBytes returns the space the calling user can use under dir.
func availableBytes(dir string) (int64, error) {
	ptr, err := windows.UTF16PtrFromString(dir)
	if err != nil {
		return 0, err
	}
	var avail, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &avail, &total, &free); err != nil {
		return 0, err
	}
	return int64(avail), nil
}
