package platform

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ShmDir is the POSIX shared-memory mount point. A real shm_open(3) would
// let the kernel pick the backing namespace; on Linux that namespace is
// exactly this tmpfs mount, so we address it directly the way the rest of
// this corpus's shared-memory code does.
const ShmDir = "/dev/shm"

// NamePrefix is prepended to every caller-supplied channel name before it
// touches the filesystem, so hub segments never collide with unrelated
// users of /dev/shm.
const NamePrefix = "pylabhub."

// ErrExists is returned by CreateSegment when a segment with that name is
// already present.
var ErrExists = errors.New("platform: segment already exists")

// ErrNotFound is returned by OpenSegment when no such segment exists.
var ErrNotFound = errors.New("platform: segment not found")

// Segment is a shared-memory mapping. All fields beyond Bytes are
// bookkeeping for Close/Unlink.
type Segment struct {
	Bytes []byte
	path  string
	file  *os.File
}

func sanitize(name string) string {
	return NamePrefix + name
}

// CreateSegment creates a new shared-memory segment of exactly size
// bytes, owned exclusively by the caller. It fails if the name is
// already taken — the producer must Unlink a stale segment before
// recreating it (recovery.ForceReset repairs a segment but does not
// remove it).
func CreateSegment(name string, size int) (*Segment, error) {
	path := ShmDir + "/" + sanitize(name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o666)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrExists
		}
		return nil, fmt.Errorf("platform: create %s: %w", path, err)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("platform: truncate %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("platform: mmap %s: %w", path, err)
	}

	return &Segment{Bytes: data, path: path, file: f}, nil
}

// OpenSegment maps an existing segment read-write (consumers only write
// their own heartbeat slot, readers counters, and the advisory hint —
// see spec §5 — everything else they treat as read-only by convention).
func OpenSegment(name string) (*Segment, error) {
	path := ShmDir + "/" + sanitize(name)

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("platform: open %s: %w", path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("platform: stat %s: %w", path, err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(fi.Size()), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("platform: mmap %s: %w", path, err)
	}

	return &Segment{Bytes: data, path: path, file: f}, nil
}

// Close unmaps the segment and closes its backing file descriptor. It
// does not unlink the segment from the filesystem.
func (s *Segment) Close() error {
	if err := unix.Munmap(s.Bytes); err != nil {
		return fmt.Errorf("platform: munmap %s: %w", s.path, err)
	}
	return s.file.Close()
}

// UnlinkSegment removes the named segment from the filesystem. Existing
// mappings of it remain valid until their holders Close; this is the
// same semantics as POSIX shm_unlink.
func UnlinkSegment(name string) error {
	path := ShmDir + "/" + sanitize(name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("platform: unlink %s: %w", path, err)
	}
	return nil
}

// Exists reports whether a segment of that name is currently present.
func Exists(name string) bool {
	_, err := os.Stat(ShmDir + "/" + sanitize(name))
	return err == nil
}
