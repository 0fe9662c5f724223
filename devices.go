package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"mkimg/imaging"
)

type deviceInfo struct {
	Path  string
	Whole bool
	Note  string
}

// mountedVol is a mounted filesystem as reported by the OS.
type mountedVol struct {
	MountPoint string
	Device     string
	FSType     string
	SizeBytes  int64
}

func discoverDevices() ([]deviceInfo, error) {
	switch runtime.GOOS {
	case "darwin":
		return discoverDarwin()
	case "linux":
		return discoverLinux()
	case "windows":
		return discoverWindows(), nil
	}
	return nil, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
}

// isDarwinPartition matches diskNsM and rdiskNsM.
func isDarwinPartition(name string) bool {
	for i := 0; i+1 < len(name); i++ {
		if name[i] == 's' && name[i+1] >= '0' && name[i+1] <= '9' {
			return true
		}
	}
	return false
}

func discoverDarwin() ([]deviceInfo, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	var infos []deviceInfo
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "disk") && !strings.HasPrefix(name, "rdisk") {
			continue
		}
		d := deviceInfo{Path: filepath.Join("/dev", name), Whole: !isDarwinPartition(name)}
		if !d.Whole {
			d.Note = "partition"
		}
		infos = append(infos, d)
	}
	return infos, nil
}

func discoverLinux() ([]deviceInfo, error) {
	entries, err := os.ReadDir("/dev")
	if err != nil {
		return nil, err
	}
	var infos []deviceInfo
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join("/dev", name)
		switch {
		case isWholeLinuxDevice(name):
			infos = append(infos, deviceInfo{Path: path, Whole: true})
		case isPartitionLinux(name):
			infos = append(infos, deviceInfo{Path: path, Note: "partition"})
		case strings.HasPrefix(name, "loop") && name != "loop-control":
			infos = append(infos, deviceInfo{Path: path, Note: "loop device"})
		}
	}
	return infos, nil
}

func isWholeLinuxDevice(name string) bool {
	// sdX, vdX, hdX
	if len(name) == 3 && (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd") || strings.HasPrefix(name, "hd")) &&
		name[2] >= 'a' && name[2] <= 'z' {
		return true
	}
	// fdN
	if len(name) == 3 && strings.HasPrefix(name, "fd") && name[2] >= '0' && name[2] <= '9' {
		return true
	}
	// nvmeXnY
	if strings.HasPrefix(name, "nvme") && !strings.Contains(name[4:], "p") {
		parts := strings.Split(name[4:], "n")
		return len(parts) == 2 && parts[0] != "" && parts[1] != ""
	}
	// mmcblkX
	return strings.HasPrefix(name, "mmcblk") && len(name) > 6 && !strings.Contains(name[6:], "p") &&
		!strings.Contains(name, "boot") && !strings.Contains(name, "rpmb")
}

func isPartitionLinux(name string) bool {
	// sdXN, vdXN: trailing digits
	if (strings.HasPrefix(name, "sd") || strings.HasPrefix(name, "vd")) && len(name) >= 4 {
		c := name[len(name)-1]
		return c >= '0' && c <= '9'
	}
	// nvmeXnYpZ, mmcblkXpZ
	if strings.HasPrefix(name, "nvme") {
		return strings.Contains(name[4:], "p")
	}
	return strings.HasPrefix(name, "mmcblk") && strings.Contains(name[6:], "p")
}

func discoverWindows() []deviceInfo {
	var infos []deviceInfo
	for i := 0; i < 32; i++ {
		path := fmt.Sprintf(`\\.\PhysicalDrive%d`, i)
		f, err := os.Open(path)
		if err == nil {
			_ = f.Close()
			infos = append(infos, deviceInfo{Path: path, Whole: true})
		} else if i < 8 {
			// locked and absent look the same here
			infos = append(infos, deviceInfo{Path: path, Note: "not accessible"})
		}
	}
	for _, l := range "AB" {
		path := fmt.Sprintf(`\\.\%c:`, l)
		if f, err := os.Open(path); err == nil {
			_ = f.Close()
			infos = append(infos, deviceInfo{Path: path, Whole: true, Note: "floppy drive"})
		}
	}
	return infos
}

// resolvePathToDevice maps a mount point or device node to a device and mount.
func resolvePathToDevice(p string) (device string, mountpoint string, err error) {
	if strings.HasPrefix(p, `\\.\`) {
		return normalizeWindowsDevicePath(p), "", nil
	}
	p = filepath.Clean(p)
	if strings.HasPrefix(p, "/dev/") {
		return p, findMountByDevice(p), nil
	}
	if st, err := os.Stat(p); err == nil && st.Mode().IsRegular() {
		return p, "", nil
	}
	var dev, mnt string
	switch runtime.GOOS {
	case "darwin":
		dev, mnt = findDarwinDeviceForMount(p)
	case "linux":
		dev, mnt = findLinuxDeviceForMount(p)
	case "windows":
		return "", "", fmt.Errorf(`on Windows pass a device such as \\.\PhysicalDriveN or \\.\A:`)
	default:
		return "", "", fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
	if dev == "" {
		return "", "", fmt.Errorf("cannot resolve device for %s", p)
	}
	return dev, mnt, nil
}

func findMountByDevice(dev string) string {
	if runtime.GOOS == "linux" {
		for _, m := range readLinuxMounts() {
			if m.Device == dev {
				return m.MountPoint
			}
		}
		return ""
	}
	for _, m := range listMountedDarwin() {
		if m.Device == dev {
			return m.MountPoint
		}
	}
	return ""
}

func readLinuxMounts() []mountedVol {
	f, err := os.Open("/proc/self/mounts")
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []mountedVol
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		// <src> <target> <fstype> <opts> ...
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		out = append(out, mountedVol{Device: fields[0], MountPoint: fields[1], FSType: fields[2]})
	}
	return out
}

func findLinuxDeviceForMount(target string) (device string, mountpoint string) {
	for _, m := range readLinuxMounts() {
		if filepath.Clean(m.MountPoint) == filepath.Clean(target) {
			return m.Device, m.MountPoint
		}
	}
	return "", ""
}

// wholeDevice strips a partition suffix from a device path.
func wholeDevice(dev string) string {
	b := filepath.Base(dev)
	switch {
	case strings.HasPrefix(b, "disk") || strings.HasPrefix(b, "rdisk"):
		for i := 0; i+1 < len(b); i++ {
			if b[i] == 's' && b[i+1] >= '0' && b[i+1] <= '9' {
				return filepath.Join(filepath.Dir(dev), b[:i])
			}
		}
	case isPartitionLinux(b):
		if strings.HasPrefix(b, "nvme") || strings.HasPrefix(b, "mmcblk") {
			return filepath.Join(filepath.Dir(dev), b[:strings.LastIndexByte(b, 'p')])
		}
		return filepath.Join(filepath.Dir(dev), strings.TrimRight(b, "0123456789"))
	}
	return dev
}

func mediaTypeBySize(size int64) string {
	switch size {
	case 160 * 1024:
		return "160K floppy"
	case 180 * 1024:
		return "180K floppy"
	case 320 * 1024:
		return "320K floppy"
	case 360 * 1024:
		return "360K floppy"
	case 720 * 1024:
		return "720K floppy"
	case 1200 * 1024:
		return "1.2M floppy"
	case 1440 * 1024:
		return "1.44M floppy"
	case 1680 * 1024:
		return "1.68M DMF floppy"
	case 2880 * 1024:
		return "2.88M floppy"
	case 174848:
		return "Commodore 1541 disk (D64)"
	case 819200:
		return "Commodore 1581 disk (D81)"
	case 901120:
		return "Amiga DD disk (ADF)"
	}
	switch {
	case size >= 600<<20 && size <= 900<<20 && size%2048 == 0:
		return "CD-ROM sized"
	case size >= 4<<30 && size <= 9<<30 && size%2048 == 0:
		return "DVD sized"
	}
	return ""
}

// probe opens path read-only and reports its size and logical sector size.
func probe(path string) (size int64, sector int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()
	if size, err = imaging.ProbeSize(f); err != nil {
		return 0, 0, err
	}
	return size, imaging.SectorSizeOf(f), nil
}

// deviceDetails returns type, serial and size for the list view.
func deviceDetails(path string) (dtype, serial, size string) {
	dtype, serial, size = "Disk", "-", "-"
	if runtime.GOOS == "linux" {
		sys := filepath.Join("/sys/class/block", filepath.Base(path))
		if b, err := os.ReadFile(filepath.Join(sys, "removable")); err == nil {
			dtype = "Fixed Disk"
			if strings.TrimSpace(string(b)) == "1" {
				dtype = "Removable Disk"
			}
		}
		if b, err := os.ReadFile(filepath.Join(sys, "device", "serial")); err == nil {
			serial = strings.TrimSpace(string(b))
		}
	}
	if runtime.GOOS == "windows" {
		dtype = "PhysicalDrive"
	}
	if n, _, err := probe(path); err == nil {
		size = human(n)
		if mt := mediaTypeBySize(n); strings.HasSuffix(mt, "floppy") {
			dtype = "Floppy"
		}
	}
	return dtype, serial, size
}

func newDeviceCmd() *cobra.Command {
	deviceCmd := &cobra.Command{
		Use:   "device",
		Short: "Find and inspect sources (read-only)",
	}

	var listAll bool
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List block devices that can be imaged",
		RunE: func(cmd *cobra.Command, _ []string) error {
			infos, err := discoverDevices()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "OS: %s\n\n", runtime.GOOS)
			fmt.Fprintln(out, "Whole devices (usable with image --in):")
			fmt.Fprintf(out, "  %-22s  %-14s  %-20s  %-8s\n", "Path", "Type", "Serial", "Size")
			found := false
			for _, d := range infos {
				if !d.Whole {
					continue
				}
				dtype, serial, size := deviceDetails(d.Path)
				fmt.Fprintf(out, "  %-22s  %-14s  %-20s  %-8s\n", d.Path, dtype, serial, size)
				found = true
			}
			if !found {
				fmt.Fprintln(out, "  <none detected>")
			}
			if listAll {
				fmt.Fprintln(out, "\nPartitions and other nodes (can be imaged on their own):")
				for _, d := range infos {
					if !d.Whole {
						fmt.Fprintf(out, "  %s  (%s)\n", d.Path, d.Note)
					}
				}
			}
			var mounts []mountedVol
			switch runtime.GOOS {
			case "darwin":
				mounts = listMountedDarwin()
			case "windows":
				mounts = listMountedWindows()
			}
			if len(mounts) > 0 {
				fmt.Fprintln(out, "\nMounted volumes (unmount before imaging for a consistent copy):")
				fmt.Fprintf(out, "  %-24s  %-14s  %-18s  %-8s\n", "Mount", "FS", "Device", "Size")
				for _, m := range mounts {
					fmt.Fprintf(out, "  %-24s  %-14s  %-18s  %-8s\n", m.MountPoint, m.FSType, m.Device, human(m.SizeBytes))
				}
			}
			return nil
		},
	}
	listCmd.Flags().BoolVar(&listAll, "all", false, "include partitions and loop devices")
	deviceCmd.AddCommand(listCmd)

	infoCmd := &cobra.Command{
		Use:   "info PATH",
		Short: "Show size, sector size and media type of a device, mount point or image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, mnt, err := resolvePathToDevice(args[0])
			if err != nil {
				return err
			}
			whole := wholeDevice(dev)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Path info")
			fmt.Fprintf(out, "  Input:   %s\n", args[0])
			fmt.Fprintf(out, "  Device:  %s\n", dev)
			if mnt != "" {
				fmt.Fprintf(out, "  Mounted: %s\n", mnt)
			}
			if whole != dev {
				fmt.Fprintf(out, "  Whole:   %s\n", whole)
			}
			size, sector, err := probe(dev)
			if err != nil {
				return fmt.Errorf("%w: %v", imaging.ErrNotOpenable, err)
			}
			fmt.Fprintf(out, "  Size:    %s (%d bytes)\n", human(size), size)
			if sector == 0 {
				sector = imaging.DefaultSectorSize
				fmt.Fprintf(out, "  Sectors: %d x %d (assumed)\n", size/int64(sector), sector)
			} else {
				fmt.Fprintf(out, "  Sectors: %d x %d\n", size/int64(sector), sector)
			}
			if size%int64(sector) != 0 {
				fmt.Fprintf(out, "  Tail:    %d bytes past the last whole sector\n", size%int64(sector))
			}
			if typ := mediaTypeBySize(size); typ != "" {
				fmt.Fprintf(out, "  Media:   %s\n", typ)
			}
			return nil
		},
	}
	deviceCmd.AddCommand(infoCmd)
	return deviceCmd
}
