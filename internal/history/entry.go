package history

import "time"

// Segment is a recognized span of speech preserved alongside an Entry for
// display and re-export.
type Segment struct {
	Text       string  `json:"text"`
	StartSec   float64 `json:"start"`
	EndSec     float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Entry statuses. StatusCompleted is the default for a normal
// transcription; StatusFailed marks an entry recorded without
// transcription text, e.g. audio archived on daemon shutdown.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Entry is one recorded transcription.
type Entry struct {
	ID             int64
	Timestamp      time.Time
	Text           string
	Language       string
	Confidence     float64
	DurationSec    float64
	ProcessingTime float64
	Segments       []Segment
	AudioPath      string
	AudioHash      string
	Tags           []string
	Notes          string
	Favorite       bool
	SessionID      string
	Status         string
	FailReason     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Stats summarizes the contents of the store.
type Stats struct {
	TotalCount      int
	ByLanguage      map[string]int
	AvgConfidence   float64
	TotalDuration   float64
	FavoritesCount  int
	WithAudioCount  int
}
