package storage

import (
	"context"
	"sort"

	"github.com/dustin/go-humanize"
)

const (
	nearLimitRatio = 0.8
	overLimitRatio = 1.0
)

// KeyUsage is the serialized size of one key.
type KeyUsage struct {
	Key   string `json:"key"`
	Bytes int64  `json:"bytes"`
}

// QuotaSnapshot is a derived, non-persisted view of storage usage. It is
// advisory: nothing in the store refuses writes because of it.
type QuotaSnapshot struct {
	TotalBytes int64      `json:"totalBytes"`
	QuotaBytes int64      `json:"quotaBytes"`
	Percent    float64    `json:"percent"`
	NearLimit  bool       `json:"nearLimit"`
	OverLimit  bool       `json:"overLimit"`
	Keys       []KeyUsage `json:"keys"`
}

// Snapshot computes usage per key, largest first. A quota <= 0 uses
// DefaultQuotaBytes.
func Snapshot(ctx context.Context, s Store, quota int64) (QuotaSnapshot, error) {
	if quota <= 0 {
		quota = DefaultQuotaBytes
	}
	sizes, err := sizesOf(ctx, s)
	if err != nil {
		return QuotaSnapshot{}, err
	}

	snap := QuotaSnapshot{QuotaBytes: quota, Keys: make([]KeyUsage, 0, len(sizes))}
	for k, n := range sizes {
		snap.TotalBytes += n
		snap.Keys = append(snap.Keys, KeyUsage{Key: k, Bytes: n})
	}
	sort.Slice(snap.Keys, func(i, j int) bool {
		if snap.Keys[i].Bytes != snap.Keys[j].Bytes {
			return snap.Keys[i].Bytes > snap.Keys[j].Bytes
		}
		return snap.Keys[i].Key < snap.Keys[j].Key
	})

	ratio := float64(snap.TotalBytes) / float64(quota)
	snap.Percent = ratio * 100
	snap.NearLimit = ratio >= nearLimitRatio
	snap.OverLimit = ratio >= overLimitRatio
	return snap, nil
}

func sizesOf(ctx context.Context, s Store) (map[string]int64, error) {
	if sz, ok := s.(Sizer); ok {
		return sz.Sizes(ctx)
	}
	keys, err := s.Keys(ctx)
	if err != nil {
		return nil, err
	}
	sizes := make(map[string]int64, len(keys))
	for _, k := range keys {
		v, err := s.GetItem(ctx, k)
		if err != nil {
			continue
		}
		sizes[k] = entrySize(k, v)
	}
	return sizes, nil
}

// Report logs total usage and the n largest keys.
func Report(log Logger, snap QuotaSnapshot, n int) {
	log.Infof("Storage usage: %s of %s (%.1f%%)", humanize.IBytes(uint64(snap.TotalBytes)), humanize.IBytes(uint64(snap.QuotaBytes)), snap.Percent)
	if snap.OverLimit {
		log.Errorf("Storage is over its quota")
	} else if snap.NearLimit {
		log.Warnf("Storage is near its quota")
	}
	for i, k := range snap.Keys {
		if i >= n {
			break
		}
		log.Infof("  %-40s %s", k.Key, humanize.IBytes(uint64(k.Bytes)))
	}
}
