package xv6fs

import (
	"bytes"
	"encoding/binary"
	"reflect"
)

// superblockBlock is the fixed block number holding the on-disk
// Superblock, right after the boot block.
const superblockBlock = 1

// Superblock is the on-disk image describing layout and free counts.
// Its exported fields are read and written in declaration order by
// UnmarshalBinary/MarshalBinary, the same reflection-driven loop the
// teacher's squashfs superblock uses, retargeted at this format's own
// fields.
type Superblock struct {
	Magic      uint32
	Size       uint32 // total blocks on the device, including meta
	NBlocks    uint32 // data blocks available for file content
	NInodes    uint32 // inode slots, including the reserved inode 0
	NLog       uint32 // blocks reserved for the journal area
	LogStart   uint32
	IBmapStart uint32
	InodeStart uint32
	BmapStart  uint32
	FreeInodes uint32
	FreeBlocks uint32
}

// UnmarshalBinary decodes a Superblock from its on-disk 1024-byte
// block representation.
func (s *Superblock) UnmarshalBinary(data []byte) error {
	v := reflect.ValueOf(s).Elem()
	r := bytes.NewReader(data)
	for i := 0; i < v.NumField(); i++ {
		if err := binary.Read(r, binary.LittleEndian, v.Field(i).Addr().Interface()); err != nil {
			return err
		}
	}
	if s.Magic != FSMagic {
		return ErrInvalidSuper
	}
	return nil
}

// MarshalBinary encodes the Superblock into a BSIZE-byte buffer,
// zero-padded past the struct's own size.
func (s *Superblock) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	v := reflect.ValueOf(s).Elem()
	for i := 0; i < v.NumField(); i++ {
		if err := binary.Write(&buf, binary.LittleEndian, v.Field(i).Interface()); err != nil {
			return nil, err
		}
	}
	out := make([]byte, BSIZE)
	copy(out, buf.Bytes())
	return out, nil
}

// SuperblockSnapshot returns a copy of the current superblock state,
// safe to read without racing concurrent allocations.
func (fsys *FS) SuperblockSnapshot() Superblock {
	fsys.sbMu.Lock()
	defer fsys.sbMu.Unlock()
	return fsys.sb
}

// readSuperblock loads the on-disk superblock into fsys.sb.
func (fsys *FS) readSuperblock() error {
	buf, err := fsys.cache.ReadBlock(superblockBlock)
	if err != nil {
		return err
	}
	defer fsys.cache.Release(buf)
	buf.Lock()
	defer buf.Unlock()
	return fsys.sb.UnmarshalBinary(buf.Data)
}

// persistSuperblock writes fsys.sb back to block 1 through the
// journal. Must be called inside a transaction.
func (fsys *FS) persistSuperblock() error {
	fsys.sbMu.Lock()
	enc, err := fsys.sb.MarshalBinary()
	fsys.sbMu.Unlock()
	if err != nil {
		return err
	}
	buf, err := fsys.cache.ReadBlock(superblockBlock)
	if err != nil {
		return err
	}
	buf.Lock()
	copy(buf.Data, enc)
	fsys.log.LogWrite(buf)
	buf.Unlock()
	fsys.cache.Release(buf)
	return nil
}
