package xv6fs

// FormatOption configures Format before it writes a fresh image.
type FormatOption func(*formatConfig)

type formatConfig struct {
	ninodes uint32
	nlog    uint32
	nblocks uint32 // total device blocks, including meta; 0 means "derive from device size"
}

func defaultFormatConfig() *formatConfig {
	return &formatConfig{
		ninodes: 200,
		nlog:    30,
	}
}

// WithInodeCount sets the number of on-disk inode slots Format
// allocates, including the reserved inode 0 and the root.
func WithInodeCount(n uint32) FormatOption {
	return func(c *formatConfig) { c.ninodes = n }
}

// WithLogBlocks sets the number of blocks reserved for the journal
// area described by the superblock's NLog field.
func WithLogBlocks(n uint32) FormatOption {
	return func(c *formatConfig) { c.nlog = n }
}

// WithBlockCount overrides the total device size Format lays the
// filesystem out over, instead of deriving it from the device's own
// reported length.
func WithBlockCount(n uint32) FormatOption {
	return func(c *formatConfig) { c.nblocks = n }
}

// MountOption configures Mount.
type MountOption func(*mountConfig)

type mountConfig struct {
	readOnly       bool
	inodeTableSize int
	cacheCapacity  int
}

func defaultMountConfig() *mountConfig {
	return &mountConfig{
		inodeTableSize: 50,
		cacheCapacity:  0,
	}
}

// WithReadOnly mounts the filesystem without permitting any operation
// that would dirty a block.
func WithReadOnly() MountOption {
	return func(c *mountConfig) { c.readOnly = true }
}

// WithInodeTableSize sets the number of in-memory inode slots the
// mounted filesystem keeps, bounding how many inodes can be
// simultaneously referenced.
func WithInodeTableSize(n int) MountOption {
	return func(c *mountConfig) { c.inodeTableSize = n }
}

// WithCacheCapacity bounds the number of distinct blocks the
// underlying buffer cache holds at once. 0 (the default) means
// unbounded.
func WithCacheCapacity(n int) MountOption {
	return func(c *mountConfig) { c.cacheCapacity = n }
}
