// Package correlate merges videos from disk and cloud storage into groups
// of points of view of the same activity.
package correlate

import (
	"sort"
	"time"

	"github.com/laurencee/wow-recorder/internal/video"
)

// Window is the largest start time difference at which two videos with the
// same hash are treated as the same activity.
const Window = 5 * time.Second

// Correlate adds v to list, either as a child of the first matching
// top-level entry or as a new top-level entry, and returns the list.
func Correlate(list []video.Video, v video.Video) []video.Video {
	if v.Hash == "" && v.Start == nil {
		return append(list, v)
	}
	for i := range list {
		parent := &list[i]
		if parent.Category.IsClip() != v.Category.IsClip() {
			continue
		}
		if parent.Start == nil || parent.Hash == "" || parent.Hash != v.Hash {
			continue
		}
		if !within(parent.Start, v.Start) {
			continue
		}
		parent.Children = append(parent.Children, v)
		return list
	}
	return append(list, v)
}

func within(a, b *time.Time) bool {
	if a == nil || b == nil {
		return false
	}
	d := a.Sub(*b)
	if d < 0 {
		d = -d
	}
	return d <= Window
}

// Sort orders top-level entries most recent first, entries without a start
// time last, and each entry's children by player name.
func Sort(list []video.Video) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i].Start, list[j].Start
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.After(*b)
	})
	for i := range list {
		children := list[i].Children
		sort.SliceStable(children, func(a, b int) bool {
			if children[a].Player != children[b].Player {
				return children[a].Player < children[b].Player
			}
			return children[a].Name < children[b].Name
		})
	}
}

// Merge correlates every video in order and sorts the result.
func Merge(videos ...[]video.Video) []video.Video {
	var out []video.Video
	for _, batch := range videos {
		for _, v := range batch {
			out = Correlate(out, v)
		}
	}
	Sort(out)
	return out
}
