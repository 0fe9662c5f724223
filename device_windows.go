//go:build windows

package main

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/windows"
)

const ioctlStorageGetDeviceNumber = 0x2D1080

type storageDeviceNumber struct {
	DeviceType      uint32
	DeviceNumber    uint32
	PartitionNumber uint32
}

// normalizeWindowsDevicePath maps a drive letter path such as \\.\E: to the
// \\.\PhysicalDriveN holding it. Floppy drives and anything that cannot be
// mapped are returned unchanged.
func normalizeWindowsDevicePath(p string) string {
	if len(p) < 6 || !strings.HasPrefix(p, `\\.\`) || p[5] != ':' {
		return p
	}
	letter := strings.ToUpper(p[4:5])
	if letter < "C" || letter > "Z" {
		return p
	}
	h, err := windows.CreateFile(
		windows.StringToUTF16Ptr(`\\.\`+letter+`:`),
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
	if err != nil {
		return p
	}
	defer windows.CloseHandle(h)

	var out storageDeviceNumber
	var n uint32
	err = windows.DeviceIoControl(h, ioctlStorageGetDeviceNumber, nil, 0,
		(*byte)(unsafe.Pointer(&out)), uint32(unsafe.Sizeof(out)), &n, nil)
	if err != nil {
		return p
	}
	return fmt.Sprintf(`\\.\PhysicalDrive%d`, out.DeviceNumber)
}

func driveTypeString(t uint32) string {
	switch t {
	case windows.DRIVE_REMOVABLE:
		return "removable"
	case windows.DRIVE_FIXED:
		return "fixed"
	case windows.DRIVE_REMOTE:
		return "network"
	case windows.DRIVE_CDROM:
		return "cdrom"
	case windows.DRIVE_RAMDISK:
		return "ramdisk"
	}
	return "unknown"
}

func getDriveType(root string) uint32 {
	p, _ := windows.UTF16PtrFromString(root)
	return windows.GetDriveType(p)
}

func getTotalBytes(root string) uint64 {
	p, _ := windows.UTF16PtrFromString(root)
	var total uint64
	_ = windows.GetDiskFreeSpaceEx(p, nil, &total, nil)
	return total
}

func listMountedWindows() []mountedVol {
	var out []mountedVol
	for l := byte('A'); l <= 'Z'; l++ {
		root := fmt.Sprintf(`%c:\`, l)
		t := getDriveType(root)
		if t == windows.DRIVE_UNKNOWN || t == windows.DRIVE_NO_ROOT_DIR {
			continue
		}
		out = append(out, mountedVol{
			MountPoint: root,
			Device:     fmt.Sprintf(`\\.\%c:`, l),
			FSType:     driveTypeString(t),
			SizeBytes:  int64(getTotalBytes(root)),
		})
	}
	return out
}
