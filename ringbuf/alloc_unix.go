//go:build unix

package ringbuf

import "golang.org/x/sys/unix"

// alloc obtains the arena backing. Anonymous private mappings are
// preferred so large arenas do not commit physical pages eagerly; on
// mmap failure a zeroed heap slice serves instead. The second result
// records which mechanism was used so release can match it.
func alloc(size uint64) ([]byte, bool) {
	data, err := unix.Mmap(-1, 0, int(size),
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return make([]byte, size), false
	}
	return data, true
}

func release(data []byte, mmapped bool) error {
	if mmapped {
		return unix.Munmap(data)
	}
	return nil
}
