package cloud

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log/slog"
	"sort"
	"time"
)

// Poll lists the store every interval and calls onChange with the listing
// whenever it differs from the previous one. The first successful listing
// always counts as a change. Poll blocks until ctx is cancelled.
func Poll(ctx context.Context, log *slog.Logger, s Store, interval time.Duration, onChange func([]Object)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last [sha256.Size]byte
	seeded := false

	check := func() {
		objects, err := s.List(ctx, "")
		if err != nil {
			if ctx.Err() == nil {
				log.Warn("cloud poll failed", "error", err)
			}
			return
		}
		fp := fingerprint(objects)
		if seeded && fp == last {
			return
		}
		seeded = true
		last = fp
		onChange(objects)
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

func fingerprint(objects []Object) [sha256.Size]byte {
	sorted := make([]Object, len(objects))
	copy(sorted, objects)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	h := sha256.New()
	var buf [16]byte
	for _, o := range sorted {
		h.Write([]byte(o.Key))
		binary.LittleEndian.PutUint64(buf[:8], uint64(o.Size))
		binary.LittleEndian.PutUint64(buf[8:], uint64(o.Updated.UnixNano()))
		h.Write(buf[:])
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}
