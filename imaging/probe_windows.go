//go:build windows

package imaging

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	ioctlDiskGetLengthInfo    = 0x7405C
	ioctlDiskGetDriveGeometry = 0x70000
)

type diskGeometry struct {
	Cylinders         int64
	MediaType         uint32
	TracksPerCylinder uint32
	SectorsPerTrack   uint32
	BytesPerSector    uint32
}

func deviceSize(f *os.File) (int64, error) {
	var length int64
	var got uint32
	err := windows.DeviceIoControl(windows.Handle(f.Fd()), ioctlDiskGetLengthInfo, nil, 0,
		(*byte)(unsafe.Pointer(&length)), uint32(unsafe.Sizeof(length)), &got, nil)
	if err != nil {
		return 0, err
	}
	return length, nil
}

func deviceSectorSize(f *os.File) (int, error) {
	var g diskGeometry
	var got uint32
	err := windows.DeviceIoControl(windows.Handle(f.Fd()), ioctlDiskGetDriveGeometry, nil, 0,
		(*byte)(unsafe.Pointer(&g)), uint32(unsafe.Sizeof(g)), &got, nil)
	if err != nil {
		return 0, err
	}
	return int(g.BytesPerSector), nil
}
