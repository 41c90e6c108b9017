package xv6fs

// skipelem strips leading slashes from path and returns its first
// element (truncated to DirSiz bytes, matching the historical
// name-length cap) and the remainder, with any of the remainder's own
// leading slashes stripped too. ok is false once path has no more
// elements.
func skipelem(path string) (elem, rest string, ok bool) {
	for len(path) > 0 && path[0] == '/' {
		path = path[1:]
	}
	if len(path) == 0 {
		return "", "", false
	}
	i := 0
	for i < len(path) && path[i] != '/' {
		i++
	}
	elem = path[:i]
	if len(elem) > DirSiz {
		elem = elem[:DirSiz]
	}
	rest = path[i:]
	for len(rest) > 0 && rest[0] == '/' {
		rest = rest[1:]
	}
	return elem, rest, true
}

// Root returns a fresh, referenced, unlocked handle to the root
// directory.
func (fsys *FS) Root() *Inode {
	return fsys.itable.Get(fsys, RootIno)
}

// namex resolves path, starting from root if it begins with "/" or
// from cwd otherwise (root if cwd is nil). If wantParent, resolution
// stops one element short and returns the parent directory (referenced,
// unlocked) and the final element's own name, leaving the caller to
// look that name up or link it; otherwise it returns the fully resolved
// inode (referenced, unlocked) with "" as the second result. The caller
// must be inside a transaction, since dropping intermediate inodes
// along the way can write.
func (fsys *FS) namex(path string, cwd *Inode, wantParent bool) (*Inode, string, error) {
	var ip *Inode
	switch {
	case len(path) > 0 && path[0] == '/':
		ip = fsys.Root()
	case cwd != nil:
		ip = cwd.Dup()
	default:
		ip = fsys.Root()
	}

	elem, rest, ok := skipelem(path)
	for ok {
		if err := ip.Lock(); err != nil {
			ip.Put()
			return nil, "", err
		}
		if !ip.Kind.IsDir() {
			ip.Unlock()
			ip.Put()
			return nil, "", ErrNotDirectory
		}
		if wantParent && rest == "" {
			ip.Unlock()
			return ip, elem, nil
		}

		inum, _, err := ip.dirLookup(elem)
		if err != nil {
			ip.Unlock()
			ip.Put()
			return nil, "", err
		}
		if inum == 0 {
			ip.Unlock()
			ip.Put()
			return nil, "", ErrNotFound
		}

		next := fsys.itable.Get(fsys, inum)
		ip.Unlock()
		if err := ip.Put(); err != nil {
			next.Put()
			return nil, "", err
		}
		ip = next
		elem, rest, ok = skipelem(rest)
	}

	if wantParent {
		ip.Put()
		return nil, "", ErrNotFound
	}
	if err := ip.Lock(); err != nil {
		ip.Put()
		return nil, "", err
	}
	ip.Unlock()
	return ip, "", nil
}

// dive resolves the symlink chain starting at sym, a locked, referenced
// symlink inode, returning the final non-symlink inode, referenced and
// unlocked. It gives up after MaxSymlinkDepth hops and returns
// ErrTooManySymlinks, bounding the cyclic-link case the way the
// reference implementation's divesymlink does.
func (fsys *FS) dive(sym *Inode, cwd *Inode) (*Inode, error) {
	ip := sym
	for depth := 0; ; depth++ {
		if depth >= MaxSymlinkDepth {
			ip.Unlock()
			ip.Put()
			return nil, ErrTooManySymlinks
		}

		target, err := ip.Readlink()
		ip.Unlock()
		if err != nil {
			ip.Put()
			return nil, err
		}
		if err := ip.Put(); err != nil {
			return nil, err
		}

		next, _, err := fsys.namex(target, cwd, false)
		if err != nil {
			return nil, err
		}
		if !next.Kind.IsSymlink() {
			return next, nil
		}
		if err := next.Lock(); err != nil {
			next.Put()
			return nil, err
		}
		ip = next
	}
}

// Lookup resolves path relative to cwd (or root, if cwd is nil),
// following a trailing symlink chain, and returns a referenced,
// unlocked inode.
func (fsys *FS) Lookup(path string, cwd *Inode) (*Inode, error) {
	fsys.log.BeginOp()
	defer fsys.log.EndOp()

	ip, _, err := fsys.namex(path, cwd, false)
	if err != nil {
		return nil, err
	}
	if err := ip.Lock(); err != nil {
		ip.Put()
		return nil, err
	}
	if ip.Kind.IsSymlink() {
		return fsys.dive(ip, cwd)
	}
	ip.Unlock()
	return ip, nil
}
