// Command mkxv6fs formats a fresh xv6fs image and optionally imports a
// host directory tree into it, the way the reference mkfs tool takes a
// list of host files on its command line and appends each one into the
// freshly formatted image.
package main

import (
	"flag"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/seamoon76/xv6fs"
)

func main() {
	ninodes := flag.Uint("inodes", 200, "number of inode slots")
	nlog := flag.Uint("log-blocks", 30, "blocks reserved for the journal area")
	size := flag.Uint("blocks", 10000, "total device blocks, including metadata")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: mkxv6fs [-inodes N] [-log-blocks N] [-blocks N] <image> [hostpath ...]")
		os.Exit(1)
	}
	imagePath := args[0]
	hostPaths := args[1:]

	if err := run(imagePath, hostPaths, uint32(*ninodes), uint32(*nlog), uint32(*size)); err != nil {
		fmt.Fprintf(os.Stderr, "mkxv6fs: %s\n", err)
		os.Exit(1)
	}
}

func run(imagePath string, hostPaths []string, ninodes, nlog, nblocks uint32) error {
	f, err := os.Create(imagePath)
	if err != nil {
		return fmt.Errorf("creating image: %w", err)
	}
	defer f.Close()
	if err := f.Truncate(int64(nblocks) * xv6fs.BSIZE); err != nil {
		return fmt.Errorf("sizing image: %w", err)
	}

	err = xv6fs.Format(f,
		xv6fs.WithInodeCount(ninodes),
		xv6fs.WithLogBlocks(nlog),
		xv6fs.WithBlockCount(nblocks),
	)
	if err != nil {
		return fmt.Errorf("formatting image: %w", err)
	}

	fsys, err := xv6fs.Mount(f)
	if err != nil {
		return fmt.Errorf("mounting freshly formatted image: %w", err)
	}

	for _, hp := range hostPaths {
		if err := importPath(fsys, hp, path.Base(hp)); err != nil {
			return fmt.Errorf("importing %s: %w", hp, err)
		}
	}
	return nil
}

// importPath copies a host file or directory tree at hostPath into the
// image at imgPath (image-root-relative), preserving directory
// structure, symlink targets, permission bits and, for device files,
// major/minor numbers read via unix.Stat_t.Rdev.
func importPath(fsys *xv6fs.FS, hostPath, imgPath string) error {
	var st unix.Stat_t
	if err := unix.Lstat(hostPath, &st); err != nil {
		return err
	}

	rw := rwModeFromUnix(st.Mode)

	switch st.Mode & unix.S_IFMT {
	case unix.S_IFDIR:
		ip, err := fsys.Mkdir(imgPath, nil)
		if err != nil {
			return err
		}
		rwErr := setRWMode(fsys, ip, rw)
		putErr := fsys.PutInode(ip)
		if rwErr != nil {
			return rwErr
		}
		if putErr != nil {
			return putErr
		}
		entries, err := os.ReadDir(hostPath)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := importPath(fsys, filepath.Join(hostPath, e.Name()), imgPath+"/"+e.Name()); err != nil {
				return err
			}
		}
		return nil

	case unix.S_IFLNK:
		target, err := os.Readlink(hostPath)
		if err != nil {
			return err
		}
		return fsys.Symlink(imgPath, target, nil)

	case unix.S_IFCHR, unix.S_IFBLK:
		major := uint16(unix.Major(uint64(st.Rdev)))
		minor := uint16(unix.Minor(uint64(st.Rdev)))
		ip, err := fsys.Create(imgPath, nil, xv6fs.KindDevice, major, minor)
		if err != nil {
			return err
		}
		rwErr := setRWMode(fsys, ip, rw)
		putErr := fsys.PutInode(ip)
		if rwErr != nil {
			return rwErr
		}
		return putErr

	default:
		data, err := os.ReadFile(hostPath)
		if err != nil {
			return err
		}
		ip, err := fsys.Create(imgPath, nil, xv6fs.KindFile, 0, 0)
		if err != nil {
			return err
		}
		rwErr := setRWMode(fsys, ip, rw)
		writeErr := writeAll(fsys, ip, data)
		if rwErr != nil {
			return rwErr
		}
		return writeErr
	}
}

func rwModeFromUnix(mode uint32) uint32 {
	const (
		modeRead  = 2
		modeWrite = 1
	)
	var rw uint32
	if mode&0o444 != 0 {
		rw |= modeRead
	}
	if mode&0o222 != 0 {
		rw |= modeWrite
	}
	return rw
}

func setRWMode(fsys *xv6fs.FS, ip *xv6fs.Inode, rw uint32) error {
	return fsys.SetRWMode(ip, rw)
}

func writeAll(fsys *xv6fs.FS, ip *xv6fs.Inode, data []byte) error {
	f := fsys.Wrap(ip)
	defer f.Close()
	_, err := f.Write(data)
	return err
}
