package ingest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/mountinfo"
)

const defaultMountInfoPath = "/proc/self/mountinfo"

// mountPoint returns where device is mounted according to the mountinfo table
// at path, or "" when it is not mounted.
func mountPoint(path, device string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	want := device
	if resolved, err := filepath.EvalSymlinks(device); err == nil {
		want = resolved
	}
	mounts, err := mountinfo.GetMountsFromReader(f, deviceFilter(device, want))
	if err != nil {
		return "", err
	}
	if len(mounts) == 0 {
		return "", nil
	}
	return mounts[0].Mountpoint, nil
}

// deviceFilter keeps the first mount whose source is device, following
// /dev symlinks such as /dev/disk/by-uuid entries.
func deviceFilter(device, resolved string) mountinfo.FilterFunc {
	return func(info *mountinfo.Info) (skip, stop bool) {
		source := info.Source
		if source == device || source == resolved {
			return false, true
		}
		if !strings.HasPrefix(source, "/dev/") {
			return true, false
		}
		if target, err := filepath.EvalSymlinks(source); err == nil && target == resolved {
			return false, true
		}
		return true, false
	}
}
