package reconciler

import "syscall"

// freeDiskBytes reports free space on the filesystem backing dir, or -1
// if it cannot be determined. Used only to enrich the diagnostic dump
// logged after repeated consecutive reconciliation failures.
func freeDiskBytes(dir string) int64 {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return -1
	}
	return int64(stat.Bavail) * int64(stat.Bsize) //nolint:unconvert // Bsize's width varies by platform
}
