// Package storage locates the capture volume and mirrors saved captures to object storage.
package storage

import (
	"errors"
	"sort"
	"strings"

	"github.com/oszuidwest/gunshot-logger/internal/notify"
	"github.com/oszuidwest/gunshot-logger/internal/util"
	"github.com/shirou/gopsutil/v3/disk"
)

// ErrNoStorage is returned when neither a mounted volume nor a fallback directory is available.
var ErrNoStorage = errors.New("no storage volume available")

// Locator resolves the storage root for each capture. Removable media is
// looked up on every call so a volume plugged in after startup is picked up.
type Locator struct {
	mountPrefix string
	fallbackDir string
	notifier    notify.Notifier

	partitions    func() ([]disk.PartitionStat, error)
	checkWritable func(string) error
}

// NewLocator returns a Locator that prefers the first partition mounted under
// mountPrefix and otherwise uses fallbackDir. Either may be empty.
// Partition listing failures are reported through notifier.
func NewLocator(mountPrefix, fallbackDir string, notifier notify.Notifier) *Locator {
	return &Locator{
		mountPrefix: strings.TrimRight(mountPrefix, "/"),
		fallbackDir: fallbackDir,
		notifier:    notifier,
		partitions: func() ([]disk.PartitionStat, error) {
			return disk.Partitions(false)
		},
		checkWritable: util.CheckPathWritable,
	}
}

// Resolve returns the storage root for the next capture.
func (l *Locator) Resolve() (string, error) {
	if l.mountPrefix != "" {
		parts, err := l.partitions()
		if err != nil {
			l.notifier.Warn(notify.KeyPartitions, "failed to list partitions", "error", err)
		}
		mounts := make([]string, 0, len(parts))
		for _, p := range parts {
			if p.Mountpoint == l.mountPrefix || strings.HasPrefix(p.Mountpoint, l.mountPrefix+"/") {
				mounts = append(mounts, p.Mountpoint)
			}
		}
		if len(mounts) > 0 {
			sort.Strings(mounts)
			return mounts[0], nil
		}
	}

	if l.fallbackDir != "" {
		if err := l.checkWritable(l.fallbackDir); err != nil {
			return "", errors.Join(ErrNoStorage, err)
		}
		return l.fallbackDir, nil
	}

	return "", ErrNoStorage
}
