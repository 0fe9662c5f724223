//go:build darwin

package imaging

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	dkiocGetBlockSize  = 0x40046418 // _IOR('d', 24, uint32)
	dkiocGetBlockCount = 0x40086419 // _IOR('d', 25, uint64)
)

func deviceSectorSize(f *os.File) (int, error) {
	var bs uint32
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), dkiocGetBlockSize, uintptr(unsafe.Pointer(&bs))); errno != 0 {
		return 0, errno
	}
	return int(bs), nil
}

func deviceSize(f *os.File) (int64, error) {
	bs, err := deviceSectorSize(f)
	if err != nil {
		return 0, err
	}
	var count uint64
	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), dkiocGetBlockCount, uintptr(unsafe.Pointer(&count))); errno != 0 {
		return 0, errno
	}
	return int64(bs) * int64(count), nil
}
