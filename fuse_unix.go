//go:build fuse

package xv6fs

import (
	"context"
	"errors"
	"io/fs"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	gofs "github.com/hanwen/go-fuse/v2/fs"
)

// fuseNode adapts one xv6fs path to go-fuse's InodeEmbedder, grounded
// on the teacher's inode_fuse.go/inode_linux.go FillAttr+Lookup shape
// but driving *FS path operations instead of squashfs's own inode
// chain, and on the fs package's own loopbackNode (fs/loopback.go)
// for the embedding/NewInode pattern itself.
type fuseNode struct {
	gofs.Inode

	fsys *FS
	path string // xv6fs-absolute, e.g. "/" or "/etc/motd"
}

var (
	_ gofs.NodeLookuper   = (*fuseNode)(nil)
	_ gofs.NodeGetattrer  = (*fuseNode)(nil)
	_ gofs.NodeReaddirer  = (*fuseNode)(nil)
	_ gofs.NodeOpener     = (*fuseNode)(nil)
	_ gofs.NodeReader     = (*fuseNode)(nil)
	_ gofs.NodeWriter     = (*fuseNode)(nil)
	_ gofs.NodeReadlinker = (*fuseNode)(nil)
	_ gofs.NodeMkdirer    = (*fuseNode)(nil)
	_ gofs.NodeCreater    = (*fuseNode)(nil)
	_ gofs.NodeUnlinker   = (*fuseNode)(nil)
	_ gofs.NodeRmdirer    = (*fuseNode)(nil)
)

func errnoFor(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, ErrExists):
		return syscall.EEXIST
	case errors.Is(err, ErrNotDirectory):
		return syscall.ENOTDIR
	case errors.Is(err, ErrIsDirectory):
		return syscall.EISDIR
	case errors.Is(err, ErrDirNotEmpty):
		return syscall.ENOTEMPTY
	case errors.Is(err, ErrNoSpace), errors.Is(err, ErrNoInodes), errors.Is(err, ErrDirFull):
		return syscall.ENOSPC
	case errors.Is(err, ErrFileTooLarge):
		return syscall.EFBIG
	case errors.Is(err, ErrReadOnly):
		return syscall.EROFS
	case errors.Is(err, ErrBadOffset), errors.Is(err, ErrNameTooLong):
		return syscall.EINVAL
	default:
		return syscall.EIO
	}
}

func joinPath(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}

func (n *fuseNode) fillAttr(info fs.FileInfo, out *gofuse.Attr) {
	out.Mode = uint32(info.Mode().Perm())
	switch {
	case info.IsDir():
		out.Mode |= syscall.S_IFDIR
	case info.Mode()&fs.ModeSymlink != 0:
		out.Mode |= syscall.S_IFLNK
	default:
		out.Mode |= syscall.S_IFREG
	}
	out.Size = uint64(info.Size())
	out.SetTimes(nil, timePtr(time.Time{}), nil)
}

func timePtr(t time.Time) *time.Time { return &t }

func (n *fuseNode) stat() (fs.FileInfo, error) {
	return n.fsys.Stat(n.path, nil)
}

// Getattr implements gofs.NodeGetattrer.
func (n *fuseNode) Getattr(ctx context.Context, f gofs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	info, err := n.stat()
	if err != nil {
		return errnoFor(err)
	}
	n.fillAttr(info, &out.Attr)
	return 0
}

// Lookup implements gofs.NodeLookuper: it resolves name as a child of
// n and wraps the result in a fresh fuseNode, the way loopbackNode's
// Lookup wraps a freshly Lstat'd path instead of an already-open one.
func (n *fuseNode) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	childPath := joinPath(n.path, name)
	info, err := n.fsys.Stat(childPath, nil)
	if err != nil {
		return nil, errnoFor(err)
	}
	n.fillAttr(info, &out.Attr)
	child := &fuseNode{fsys: n.fsys, path: childPath}
	mode := uint32(syscall.S_IFREG)
	if info.IsDir() {
		mode = syscall.S_IFDIR
	} else if info.Mode()&fs.ModeSymlink != 0 {
		mode = syscall.S_IFLNK
	}
	ch := n.NewInode(ctx, child, gofs.StableAttr{Mode: mode})
	return ch, 0
}

// Readdir implements gofs.NodeReaddirer by walking the directory
// engine's own dirReader through FS.Open instead of syscall.Getdents,
// the functional analogue of loopbackNode's os.Open-backed stream.
func (n *fuseNode) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	f, err := n.fsys.Open(n.path, nil, false)
	if err != nil {
		return nil, errnoFor(err)
	}
	defer f.Close()
	rdf, ok := f.(fs.ReadDirFile)
	if !ok {
		return nil, syscall.ENOTDIR
	}
	entries, err := rdf.ReadDir(-1)
	if err != nil {
		return nil, errnoFor(err)
	}
	list := make([]gofuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(syscall.S_IFREG)
		if e.IsDir() {
			mode = syscall.S_IFDIR
		} else if e.Type()&fs.ModeSymlink != 0 {
			mode = syscall.S_IFLNK
		}
		list = append(list, gofuse.DirEntry{Name: e.Name(), Mode: mode})
	}
	return gofs.NewListDirStream(list), 0
}

// fuseFile is the FileHandle returned by Open/Create: a thin wrapper
// around *File so Read/Write below don't have to re-resolve the path
// on every call.
type fuseFile struct{ f *File }

func (n *fuseNode) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	f, err := n.fsys.Open(n.path, nil, false)
	if err != nil {
		return nil, 0, errnoFor(err)
	}
	file, ok := f.(*File)
	if !ok {
		f.Close()
		return nil, 0, syscall.EISDIR
	}
	return &fuseFile{f: file}, 0, 0
}

func (n *fuseNode) Read(ctx context.Context, fh gofs.FileHandle, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	ff, ok := fh.(*fuseFile)
	if !ok {
		return nil, syscall.EBADF
	}
	nr, err := ff.f.ReadAt(dest, off)
	if err != nil && nr == 0 {
		return nil, errnoFor(err)
	}
	return &gofuse.ReadResultData{Data: dest[:nr]}, 0
}

func (n *fuseNode) Write(ctx context.Context, fh gofs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	ff, ok := fh.(*fuseFile)
	if !ok {
		return 0, syscall.EBADF
	}
	if _, err := ff.f.Seek(off, 0); err != nil {
		return 0, errnoFor(err)
	}
	nw, err := ff.f.Write(data)
	if err != nil {
		return uint32(nw), errnoFor(err)
	}
	return uint32(nw), 0
}

func (n *fuseNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	ip, err := n.fsys.Lookup(n.path, nil)
	if err != nil {
		return nil, errnoFor(err)
	}
	if err := ip.Lock(); err != nil {
		n.fsys.PutInode(ip)
		return nil, errnoFor(err)
	}
	target, err := ip.Readlink()
	ip.Unlock()
	n.fsys.PutInode(ip)
	if err != nil {
		return nil, errnoFor(err)
	}
	return []byte(target), 0
}

func (n *fuseNode) Mkdir(ctx context.Context, name string, mode uint32, out *gofuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	childPath := joinPath(n.path, name)
	ip, err := n.fsys.Mkdir(childPath, nil)
	if err != nil {
		return nil, errnoFor(err)
	}
	if err := n.fsys.PutInode(ip); err != nil {
		return nil, errnoFor(err)
	}
	info, err := n.fsys.Stat(childPath, nil)
	if err != nil {
		return nil, errnoFor(err)
	}
	n.fillAttr(info, &out.Attr)
	child := &fuseNode{fsys: n.fsys, path: childPath}
	ch := n.NewInode(ctx, child, gofs.StableAttr{Mode: syscall.S_IFDIR})
	return ch, 0
}

func (n *fuseNode) Create(ctx context.Context, name string, flags, mode uint32, out *gofuse.EntryOut) (*gofs.Inode, gofs.FileHandle, uint32, syscall.Errno) {
	childPath := joinPath(n.path, name)
	f, err := n.fsys.Open(childPath, nil, true)
	if err != nil {
		return nil, nil, 0, errnoFor(err)
	}
	file := f.(*File)
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, 0, errnoFor(err)
	}
	n.fillAttr(info, &out.Attr)
	child := &fuseNode{fsys: n.fsys, path: childPath}
	ch := n.NewInode(ctx, child, gofs.StableAttr{Mode: syscall.S_IFREG})
	return ch, &fuseFile{f: file}, 0, 0
}

func (n *fuseNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return errnoFor(n.fsys.Unlink(joinPath(n.path, name), nil))
}

func (n *fuseNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return errnoFor(n.fsys.Unlink(joinPath(n.path, name), nil))
}

// MountFUSE mounts fsys at dir using go-fuse's in-process nodefs
// bridge, the same gofs.Mount convenience wrapper the teacher's pack
// sibling (hanwen-go-fuse's fs/mount.go) wraps fuse.NewServer with.
func MountFUSE(dir string, fsys *FS) (*gofuse.Server, error) {
	root := &fuseNode{fsys: fsys, path: "/"}
	return gofs.Mount(dir, root, &gofs.Options{})
}
