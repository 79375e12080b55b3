// Copyright 2026 The CombineFS Authors
// SPDX-License-Identifier: Apache-2.0

package overlay

import (
	"context"
	"os"
	"path"
	"sort"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"golang.org/x/sys/unix"
)

// blockSize is the block size reported by Statfs and used to express
// the aggregate declared capacity in blocks.
const blockSize = 4096

// overlayNode represents one virtual path. The same node type serves
// files and directories; the distinction lives in the inode mode, and
// the kernel only sends applicable operations to each.
type overlayNode struct {
	gofuse.Inode
	overlay *overlay
}

var _ gofuse.InodeEmbedder = (*overlayNode)(nil)
var _ gofuse.NodeLookuper = (*overlayNode)(nil)
var _ gofuse.NodeGetattrer = (*overlayNode)(nil)
var _ gofuse.NodeSetattrer = (*overlayNode)(nil)
var _ gofuse.NodeAccesser = (*overlayNode)(nil)
var _ gofuse.NodeOpener = (*overlayNode)(nil)
var _ gofuse.NodeCreater = (*overlayNode)(nil)
var _ gofuse.NodeMknoder = (*overlayNode)(nil)
var _ gofuse.NodeUnlinker = (*overlayNode)(nil)
var _ gofuse.NodeReadlinker = (*overlayNode)(nil)
var _ gofuse.NodeSymlinker = (*overlayNode)(nil)
var _ gofuse.NodeLinker = (*overlayNode)(nil)
var _ gofuse.NodeRenamer = (*overlayNode)(nil)
var _ gofuse.NodeReaddirer = (*overlayNode)(nil)
var _ gofuse.NodeMkdirer = (*overlayNode)(nil)
var _ gofuse.NodeRmdirer = (*overlayNode)(nil)
var _ gofuse.NodeStatfser = (*overlayNode)(nil)

// virtual returns the node's slash-rooted virtual path.
func (n *overlayNode) virtual() string {
	return "/" + n.Path(nil)
}

// childVirtual returns the virtual path of a named child.
func (n *overlayNode) childVirtual(name string) string {
	return path.Join(n.virtual(), name)
}

// route resolves a virtual path to its single physical path. A
// partition-table gap is a per-request failure surfaced as EIO: the
// caller addressed a path no shard owns, which is a configuration
// hole, not a missing file.
func (n *overlayNode) route(virtualPath string) (string, syscall.Errno) {
	physical, err := n.overlay.router.RouteFile(virtualPath)
	if err != nil {
		n.overlay.logger.Error("routing failed", "path", virtualPath, "error", err)
		return "", syscall.EIO
	}
	return physical, 0
}

// newChild wraps the stat result of a physical path in a child inode.
func (n *overlayNode) newChild(ctx context.Context, st *syscall.Stat_t) *gofuse.Inode {
	return n.NewInode(ctx, &overlayNode{overlay: n.overlay}, gofuse.StableAttr{
		Mode: st.Mode,
		Ino:  st.Ino,
		Gen:  1,
	})
}

// ---- File-identity operations (hash-routed to one shard) ----

func (n *overlayNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	physical, errno := n.route(n.childVirtual(name))
	if errno != 0 {
		return nil, errno
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(physical, &st); err != nil {
		return nil, gofuse.ToErrno(err)
	}

	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), 0
}

func (n *overlayNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	physical, errno := n.route(n.virtual())
	if errno != 0 {
		return errno
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(physical, &st); err != nil {
		return gofuse.ToErrno(err)
	}
	out.FromStat(&st)
	return 0
}

func (n *overlayNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	virtual := n.virtual()
	physical, errno := n.route(virtual)
	if errno != 0 {
		return errno
	}

	if mode, ok := in.GetMode(); ok {
		n.overlay.logger.Debug("chmod", "path", virtual, "mode", mode)
		if err := syscall.Chmod(physical, mode); err != nil {
			return gofuse.ToErrno(err)
		}
	}

	uid, uidSet := in.GetUID()
	gid, gidSet := in.GetGID()
	if uidSet || gidSet {
		ownerUID, ownerGID := -1, -1
		if uidSet {
			ownerUID = int(uid)
		}
		if gidSet {
			ownerGID = int(gid)
		}
		n.overlay.logger.Debug("chown", "path", virtual, "uid", ownerUID, "gid", ownerGID)
		if err := syscall.Lchown(physical, ownerUID, ownerGID); err != nil {
			return gofuse.ToErrno(err)
		}
	}

	atime, atimeSet := in.GetATime()
	mtime, mtimeSet := in.GetMTime()
	if atimeSet || mtimeSet {
		times := []unix.Timespec{
			{Nsec: unix.UTIME_OMIT},
			{Nsec: unix.UTIME_OMIT},
		}
		if atimeSet {
			times[0] = unix.NsecToTimespec(atime.UnixNano())
		}
		if mtimeSet {
			times[1] = unix.NsecToTimespec(mtime.UnixNano())
		}
		n.overlay.logger.Debug("utimens", "path", virtual)
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, physical, times, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return gofuse.ToErrno(err)
		}
	}

	if size, ok := in.GetSize(); ok {
		n.overlay.logger.Debug("truncate", "path", virtual, "size", size)
		if err := syscall.Truncate(physical, int64(size)); err != nil {
			return gofuse.ToErrno(err)
		}
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(physical, &st); err != nil {
		return gofuse.ToErrno(err)
	}
	out.FromStat(&st)
	return 0
}

func (n *overlayNode) Access(ctx context.Context, mask uint32) syscall.Errno {
	physical, errno := n.route(n.virtual())
	if errno != 0 {
		return errno
	}
	return gofuse.ToErrno(syscall.Access(physical, mask))
}

func (n *overlayNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	virtual := n.virtual()
	physical, errno := n.route(virtual)
	if errno != 0 {
		return nil, 0, errno
	}

	n.overlay.logger.Debug("open", "path", virtual)
	fd, err := syscall.Open(physical, int(flags), 0)
	if err != nil {
		return nil, 0, gofuse.ToErrno(err)
	}
	return gofuse.NewLoopbackFile(fd), 0, 0
}

func (n *overlayNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	virtual := n.childVirtual(name)
	physical, errno := n.route(virtual)
	if errno != 0 {
		return nil, nil, 0, errno
	}

	n.overlay.logger.Debug("create", "path", virtual)
	fd, err := syscall.Open(physical, int(flags)|os.O_CREATE, mode)
	if err != nil {
		return nil, nil, 0, gofuse.ToErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(physical, &st); err != nil {
		syscall.Close(fd)
		return nil, nil, 0, gofuse.ToErrno(err)
	}

	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), gofuse.NewLoopbackFile(fd), 0, 0
}

func (n *overlayNode) Mknod(ctx context.Context, name string, mode uint32, dev uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	virtual := n.childVirtual(name)
	physical, errno := n.route(virtual)
	if errno != 0 {
		return nil, errno
	}

	n.overlay.logger.Debug("mknod", "path", virtual)
	if err := syscall.Mknod(physical, mode, int(dev)); err != nil {
		return nil, gofuse.ToErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(physical, &st); err != nil {
		return nil, gofuse.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), 0
}

func (n *overlayNode) Unlink(ctx context.Context, name string) syscall.Errno {
	virtual := n.childVirtual(name)
	physical, errno := n.route(virtual)
	if errno != 0 {
		return errno
	}
	n.overlay.logger.Debug("unlink", "path", virtual)
	return gofuse.ToErrno(syscall.Unlink(physical))
}

func (n *overlayNode) Readlink(ctx context.Context) ([]byte, syscall.Errno) {
	physical, errno := n.route(n.virtual())
	if errno != 0 {
		return nil, errno
	}

	buffer := make([]byte, 4096)
	length, err := syscall.Readlink(physical, buffer)
	if err != nil {
		return nil, gofuse.ToErrno(err)
	}
	return buffer[:length], 0
}

// Symlink routes the link's own path; the target string is stored
// verbatim, whichever shard it may or may not resolve inside.
func (n *overlayNode) Symlink(ctx context.Context, target, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	virtual := n.childVirtual(name)
	physical, errno := n.route(virtual)
	if errno != 0 {
		return nil, errno
	}

	n.overlay.logger.Debug("symlink", "path", virtual, "target", target)
	if err := syscall.Symlink(target, physical); err != nil {
		return nil, gofuse.ToErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(physical, &st); err != nil {
		return nil, gofuse.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), 0
}

// Link routes both endpoints independently. When they resolve to
// different shards the underlying link(2) fails with EXDEV, the same
// way it would across two real filesystems.
func (n *overlayNode) Link(ctx context.Context, target gofuse.InodeEmbedder, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	targetVirtual := "/" + target.EmbeddedInode().Path(nil)
	targetPhysical, errno := n.route(targetVirtual)
	if errno != 0 {
		return nil, errno
	}

	virtual := n.childVirtual(name)
	physical, errno := n.route(virtual)
	if errno != 0 {
		return nil, errno
	}

	n.overlay.logger.Debug("link", "path", virtual, "target", targetVirtual)
	if err := syscall.Link(targetPhysical, physical); err != nil {
		return nil, gofuse.ToErrno(err)
	}

	var st syscall.Stat_t
	if err := syscall.Lstat(physical, &st); err != nil {
		return nil, gofuse.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), 0
}

// Rename routes the old and new paths independently, so a rename can
// cross shard boundaries; then it is an EXDEV for the caller to
// resolve with copy-and-delete, which re-routes the content.
func (n *overlayNode) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		// RENAME_NOREPLACE / RENAME_EXCHANGE are not supported on
		// a hash-routed tree.
		return syscall.EINVAL
	}

	oldVirtual := n.childVirtual(name)
	oldPhysical, errno := n.route(oldVirtual)
	if errno != 0 {
		return errno
	}

	newVirtual := path.Join("/"+newParent.EmbeddedInode().Path(nil), newName)
	newPhysical, errno := n.route(newVirtual)
	if errno != 0 {
		return errno
	}

	n.overlay.logger.Debug("rename", "from", oldVirtual, "to", newVirtual)
	return gofuse.ToErrno(syscall.Rename(oldPhysical, newPhysical))
}

// ---- Directory-structural operations (fan-out over all shards) ----

// Readdir unions the entries of this directory across every shard.
// Any shard may hold files for this directory, and the directory
// itself may be present in only some of them. Entries at the tree
// root named .git are suppressed.
func (n *overlayNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	virtual := n.virtual()
	n.overlay.logger.Debug("readdir", "path", virtual)

	seen := map[string]uint32{
		".":  syscall.S_IFDIR,
		"..": syscall.S_IFDIR,
	}

	for _, physical := range n.overlay.router.ShardPaths(virtual) {
		entries, err := os.ReadDir(physical)
		if err != nil {
			// A shard without this directory simply contributes
			// nothing to the union.
			continue
		}
		for _, entry := range entries {
			if n.IsRoot() && entry.Name() == ".git" {
				continue
			}
			if _, ok := seen[entry.Name()]; !ok {
				seen[entry.Name()] = entryMode(entry)
			}
		}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, fuse.DirEntry{
			Name: name,
			Mode: seen[name],
		})
	}
	return &sliceDirStream{entries: entries}, 0
}

// Mkdir creates the directory in every shard, in configured order: a
// file beneath it may hash to any shard, so all of them need the
// parent. The first failing shard aborts; shards already created are
// left in place.
func (n *overlayNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	virtual := n.childVirtual(name)
	n.overlay.logger.Debug("mkdir", "path", virtual)

	for _, physical := range n.overlay.router.ShardPaths(virtual) {
		if err := syscall.Mkdir(physical, mode); err != nil {
			return nil, gofuse.ToErrno(err)
		}
	}

	// The node's identity comes from the hash-owning shard's copy,
	// consistent with Lookup and Getattr.
	physical, errno := n.route(virtual)
	if errno != 0 {
		return nil, errno
	}
	var st syscall.Stat_t
	if err := syscall.Lstat(physical, &st); err != nil {
		return nil, gofuse.ToErrno(err)
	}
	out.Attr.FromStat(&st)
	return n.newChild(ctx, &st), 0
}

// Rmdir removes the directory from every shard, in configured order,
// with the same first-failure semantics as Mkdir.
func (n *overlayNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	virtual := n.childVirtual(name)
	n.overlay.logger.Debug("rmdir", "path", virtual)

	for _, physical := range n.overlay.router.ShardPaths(virtual) {
		if err := syscall.Rmdir(physical); err != nil {
			return gofuse.ToErrno(err)
		}
	}
	return 0
}

// Statfs reports the aggregate declared capacity of all shards. Free
// space is reported as zero: capacity here is a configuration
// declaration, not a measurement.
func (n *overlayNode) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	total := n.overlay.router.Table().TotalCapacity()

	out.Bsize = blockSize
	out.Frsize = blockSize
	out.Blocks = uint64(total) / blockSize
	out.Bfree = 0
	out.Bavail = 0
	out.NameLen = 255
	return 0
}

// entryMode maps a directory entry's type to the stat mode bits FUSE
// expects in a directory listing.
func entryMode(entry os.DirEntry) uint32 {
	switch {
	case entry.IsDir():
		return syscall.S_IFDIR
	case entry.Type()&os.ModeSymlink != 0:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

// sliceDirStream implements fs.DirStream over a fixed entry slice.
type sliceDirStream struct {
	entries []fuse.DirEntry
	index   int
}

func (s *sliceDirStream) HasNext() bool {
	return s.index < len(s.entries)
}

func (s *sliceDirStream) Next() (fuse.DirEntry, syscall.Errno) {
	if s.index >= len(s.entries) {
		return fuse.DirEntry{}, syscall.EINVAL
	}
	entry := s.entries[s.index]
	s.index++
	return entry, 0
}

func (s *sliceDirStream) Close() {}
