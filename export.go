package xv6fs

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// Export walks the filesystem from its root and writes every regular
// file, directory and symlink into a tar stream wrapped by the
// compressor named by codec ("zstd" or "xz"), mirroring the teacher's
// dual-codec registration pattern but driving a writer instead of a
// registered decompressor.
func (fsys *FS) Export(w io.Writer, codec string) error {
	var cw io.WriteCloser
	switch codec {
	case "zstd":
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return err
		}
		cw = enc
	case "xz":
		enc, err := xz.NewWriter(w)
		if err != nil {
			return err
		}
		cw = enc
	default:
		return fmt.Errorf("xv6fs: unknown export codec %q", codec)
	}

	tw := tar.NewWriter(cw)
	if err := fsys.exportDir(tw, "."); err != nil {
		tw.Close()
		cw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		cw.Close()
		return err
	}
	return cw.Close()
}

func (fsys *FS) exportDir(tw *tar.Writer, dirPath string) error {
	root := fsys.Sub()
	entries, err := fs.ReadDir(root, dirPath)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		childPath := entry.Name()
		if dirPath != "." {
			childPath = dirPath + "/" + entry.Name()
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}

		hdr := &tar.Header{
			Name:    childPath,
			Mode:    int64(info.Mode().Perm()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		switch {
		case info.IsDir():
			hdr.Typeflag = tar.TypeDir
			hdr.Name += "/"
			hdr.Size = 0
		case info.Mode()&fs.ModeSymlink != 0:
			fsys.log.BeginOp()
			ip, _, err := fsys.namex("/"+childPath, nil, false)
			var target string
			if err == nil {
				if err = ip.Lock(); err == nil {
					target, err = ip.Readlink()
					ip.Unlock()
				}
				ip.Put()
			}
			fsys.log.EndOp()
			if err != nil {
				return err
			}
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = target
			hdr.Size = 0
		default:
			hdr.Typeflag = tar.TypeReg
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeReg {
			data, err := fs.ReadFile(root, childPath)
			if err != nil {
				return err
			}
			if _, err := tw.Write(data); err != nil {
				return err
			}
		}
		if info.IsDir() {
			if err := fsys.exportDir(tw, childPath); err != nil {
				return err
			}
		}
	}
	return nil
}

// CodecForName picks an export codec by the archive filename's suffix.
func CodecForName(name string) (string, error) {
	switch {
	case strings.HasSuffix(name, ".tar.zst"):
		return "zstd", nil
	case strings.HasSuffix(name, ".tar.xz"):
		return "xz", nil
	default:
		return "", fmt.Errorf("xv6fs: unrecognized archive suffix in %q (want .tar.zst or .tar.xz)", path.Base(name))
	}
}
