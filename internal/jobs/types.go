package jobs

import (
	"encoding/json"
	"maps"
	"time"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusProcessed || s == StatusFailed
}

// NoEXIFData replaces the tag map in a result when the image carries no tags.
const NoEXIFData = "No EXIF data found"

// EXIF holds displayable tag values. An empty set encodes as NoEXIFData.
type EXIF map[string]string

func (e EXIF) MarshalJSON() ([]byte, error) {
	if len(e) == 0 {
		return json.Marshal(NoEXIFData)
	}
	return json.Marshal(map[string]string(e))
}

func (e *EXIF) UnmarshalJSON(data []byte) error {
	var sentinel string
	if err := json.Unmarshal(data, &sentinel); err == nil {
		*e = nil
		return nil
	}
	var tags map[string]string
	if err := json.Unmarshal(data, &tags); err != nil {
		return err
	}
	*e = tags
	return nil
}

type Metadata struct {
	Dimensions  [2]int    `json:"dimensions"`
	Format      string    `json:"format"`
	SizeBytes   int64     `json:"size_bytes"`
	ProcessedAt time.Time `json:"processed_at"`
}

type Result struct {
	Caption  string   `json:"caption"`
	Thumb200 string   `json:"thumbnail_size_200x200"`
	Thumb50  string   `json:"thumbnail_size_50x50"`
	Metadata Metadata `json:"metadata"`
	EXIF     EXIF     `json:"exif"`
}

// Job is one tracked upload. Result fields are flattened into the JSON
// record and only present once the job is processed.
type Job struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Status   Status `json:"status"`
	*Result
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func cloneJob(job *Job) *Job {
	if job == nil {
		return nil
	}
	tmp := *job
	if job.Result != nil {
		res := *job.Result
		res.EXIF = maps.Clone(job.Result.EXIF)
		tmp.Result = &res
	}
	return &tmp
}
