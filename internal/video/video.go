// Package video holds the records shared by the storage backends, the save
// queue and the correlator.
package video

import (
	"strings"
	"time"
)

// Category is the kind of activity a video captured.
type Category string

const (
	CategoryTwoVTwo       Category = "2v2"
	CategoryThreeVThree   Category = "3v3"
	CategorySkirmish      Category = "Skirmish"
	CategorySoloShuffle   Category = "Solo Shuffle"
	CategoryMythicPlus    Category = "Mythic+"
	CategoryRaids         Category = "Raids"
	CategoryBattlegrounds Category = "Battlegrounds"
	CategoryManual        Category = "Manual"
	CategoryClips         Category = "Clips"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryTwoVTwo, CategoryThreeVThree, CategorySkirmish, CategorySoloShuffle,
	CategoryMythicPlus, CategoryRaids, CategoryBattlegrounds, CategoryManual, CategoryClips,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// IsClip reports whether c is the clip category. Correlation never links a
// clip to a non-clip video.
func (c Category) IsClip() bool { return c == CategoryClips }

// Origin says where a video was listed from.
type Origin string

const (
	OriginDisk  Origin = "disk"
	OriginCloud Origin = "cloud"
)

// Metadata is the JSON sidecar written next to every video file.
type Metadata struct {
	Category Category   `json:"category"`
	Start    *time.Time `json:"start,omitempty"`
	// UniqueHash is identical across independent recordings of the same
	// activity.
	UniqueHash string  `json:"uniqueHash,omitempty"`
	Player     string  `json:"player,omitempty"`
	Flavour    string  `json:"flavour,omitempty"`
	Encounter  string  `json:"encounter,omitempty"`
	Duration   float64 `json:"duration"`
	Success    bool    `json:"result"`
	Protected  bool    `json:"protected"`
	Tag        string  `json:"tag,omitempty"`
}

// Video is one physical video artifact, ready for display. Children holds
// alternate points of view of the same activity and never the video itself.
type Video struct {
	Name      string     `json:"name"`
	Origin    Origin     `json:"origin"`
	Start     *time.Time `json:"start,omitempty"`
	Hash      string     `json:"hash,omitempty"`
	Category  Category   `json:"category"`
	Protected bool       `json:"protected"`
	Size      int64      `json:"size"`
	Player    string     `json:"player,omitempty"`
	Flavour   string     `json:"flavour,omitempty"`
	Encounter string     `json:"encounter,omitempty"`
	Duration  float64    `json:"duration"`
	Tag       string     `json:"tag,omitempty"`
	// Location is the file path for disk videos and the object key for
	// cloud videos.
	Location string  `json:"location"`
	Children []Video `json:"children,omitempty"`
}

// FromMetadata builds a Video from its sidecar.
func FromMetadata(name string, origin Origin, location string, size int64, md Metadata) Video {
	return Video{
		Name:      name,
		Origin:    origin,
		Start:     md.Start,
		Hash:      md.UniqueHash,
		Category:  md.Category,
		Protected: md.Protected,
		Size:      size,
		Player:    md.Player,
		Flavour:   md.Flavour,
		Encounter: md.Encounter,
		Duration:  md.Duration,
		Tag:       md.Tag,
		Location:  location,
	}
}

const (
	// MediaExt is the extension of video files.
	MediaExt = ".mp4"
	// MetadataExt is the extension of metadata sidecars.
	MetadataExt = ".json"
)

// BaseName strips the media or metadata extension from a file name or key.
func BaseName(name string) string {
	for _, ext := range []string{MediaExt, MetadataExt} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

// FileName returns the media file name for a video recorded at start.
// The layout sorts lexically by time and stays unique per category.
func FileName(start time.Time, category Category, encounter string) string {
	stamp := start.Local().Format("2006-01-02 15-04-05")
	label := string(category)
	if encounter != "" {
		label += " - " + encounter
	}
	return sanitize(stamp + " - " + label)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}
