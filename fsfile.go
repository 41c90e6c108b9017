package xv6fs

import (
	"io"
	"io/fs"
	"path"
)

// File is an open handle on a non-directory inode, supporting
// io/fs.File plus io.ReadWriteSeeker for lseek-style positional access.
// Closing it drops the reference the handle was opened with.
type File struct {
	fsys *FS
	ino  *Inode
	name string
	off  int64
}

// FileDir is an open handle on a directory inode, implementing
// fs.ReadDirFile instead of io.Reader.
type FileDir struct {
	fsys *FS
	ino  *Inode
	name string
	r    *dirReader
}

var (
	_ fs.File        = (*File)(nil)
	_ io.ReadWriteSeeker = (*File)(nil)
	_ fs.ReadDirFile = (*FileDir)(nil)
)

// Open resolves path and returns an open handle: a *File for a regular,
// device or symlink-target file, or a *FileDir for a directory. If
// create is true and path doesn't exist, a regular file is created; if
// create is true and path already exists, Open fails with ErrExists.
func (fsys *FS) Open(path string, cwd *Inode, create bool) (fs.File, error) {
	var ip *Inode
	if create {
		var err error
		ip, err = fsys.Create(path, cwd, KindFile, 0, 0)
		if err != nil {
			return nil, err
		}
	} else {
		var err error
		ip, err = fsys.Lookup(path, cwd)
		if err != nil {
			return nil, err
		}
	}

	if err := ip.Lock(); err != nil {
		ip.Put()
		return nil, err
	}
	isDir := ip.Kind.IsDir()
	ip.Unlock()

	if isDir {
		return &FileDir{fsys: fsys, ino: ip, name: path}, nil
	}
	return &File{fsys: fsys, ino: ip, name: path}, nil
}

func (f *File) Stat() (fs.FileInfo, error) { return f.ino.Stat(path.Base(f.name)) }
func (f *File) Sys() any                   { return f.ino }

// Close releases the inode reference the handle was opened with.
func (f *File) Close() error {
	f.fsys.log.BeginOp()
	defer f.fsys.log.EndOp()
	return f.ino.Put()
}

func (f *File) Read(p []byte) (int, error) {
	if err := f.ino.Lock(); err != nil {
		return 0, err
	}
	n, err := f.ino.Read(p, f.off)
	f.ino.Unlock()
	f.off += int64(n)
	if err == nil && n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, err
}

// ReadAt implements io.ReaderAt without disturbing the handle's own
// seek offset.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	if err := f.ino.Lock(); err != nil {
		return 0, err
	}
	n, err := f.ino.Read(p, off)
	f.ino.Unlock()
	if err == nil && n < len(p) {
		return n, io.EOF
	}
	return n, err
}

func (f *File) Write(p []byte) (int, error) {
	if err := f.fsys.checkWritable(); err != nil {
		return 0, err
	}
	f.fsys.log.BeginOp()
	defer f.fsys.log.EndOp()
	if err := f.ino.Lock(); err != nil {
		return 0, err
	}
	n, err := f.ino.Write(p, f.off)
	f.ino.Unlock()
	f.off += int64(n)
	return n, err
}

// Seek repositions the handle's offset, in the style of lseek; it does
// not itself check the new offset against the file's size, since a
// subsequent Write is allowed to extend into it only up to the current
// size (§ bad-offset rule) while Read simply clamps at end of file.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = f.off
	case io.SeekEnd:
		if err := f.ino.Lock(); err != nil {
			return 0, err
		}
		base = int64(f.ino.Size)
		f.ino.Unlock()
	default:
		return 0, ErrBadOffset
	}
	next := base + offset
	if next < 0 {
		return 0, ErrBadOffset
	}
	f.off = next
	return f.off, nil
}

func (d *FileDir) Stat() (fs.FileInfo, error) { return d.ino.Stat(path.Base(d.name)) }
func (d *FileDir) Sys() any                   { return d.ino }

func (d *FileDir) Close() error {
	d.r = nil
	d.fsys.log.BeginOp()
	defer d.fsys.log.EndOp()
	return d.ino.Put()
}

// Read on a directory handle is invalid, matching io/fs's contract for
// directories opened through an fs.FS.
func (d *FileDir) Read(p []byte) (int, error) { return 0, fs.ErrInvalid }

func (d *FileDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if d.r == nil {
		if err := d.ino.Lock(); err != nil {
			return nil, err
		}
		d.r = newDirReader(d.ino)
		d.ino.Unlock()
	}
	return d.r.ReadDir(n)
}

// FSRoot adapts an *FS to io/fs.FS, rooted at the filesystem's own
// root directory. It exists as a separate type from *FS because
// io/fs.FS's single-argument Open can't coexist with FS.Open's richer,
// cwd/create-aware signature on the same type.
type FSRoot struct{ fsys *FS }

// Sub returns an io/fs.FS view of fsys rooted at its root directory.
func (fsys *FS) Sub() FSRoot { return FSRoot{fsys: fsys} }

var _ fs.FS = FSRoot{}

// Open implements io/fs.FS: name is interpreted xv6fs-root-relative,
// exactly as io/fs requires (no leading slash, "." for the root).
func (r FSRoot) Open(name string) (fs.File, error) {
	if name == "." {
		name = "/"
	} else {
		name = "/" + name
	}
	return r.fsys.Open(name, nil, false)
}
