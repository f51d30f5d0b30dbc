//go:build linux || darwin || freebsd

package diskguard

import "golang.org/x/sys/unix"

func statfs(path string) (Usage, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Usage{}, err
	}
	bsize := uint64(st.Bsize)
	total := uint64(st.Blocks) * bsize
	free := uint64(st.Bavail) * bsize
	used := (uint64(st.Blocks) - uint64(st.Bfree)) * bsize
	return Usage{Total: total, Free: free, Used: used}, nil
}
