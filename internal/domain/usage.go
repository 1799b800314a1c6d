package domain

import "time"

type UsageLog struct {
	UserID          string
	JobID           string
	PixelsProcessed int64
	BytesSaved      int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}

type UsageSummary struct {
	UserID          string `json:"user_id"`
	Jobs            int64  `json:"jobs"`
	PixelsProcessed int64  `json:"pixels_processed"`
	BytesSaved      int64  `json:"bytes_saved"`
	ComputeTimeMS   int64  `json:"compute_time_ms"`
}

// NewUsageLog totals a finished job. Output larger than the source counts as
// zero bytes saved; compute time is at least 1ms.
func NewUsageLog(userID, jobID string, sourceBytes int, outputs []OutputSize, compute time.Duration) UsageLog {
	if userID == "" {
		userID = "anonymous"
	}
	var (
		pixels int64
		bytes  int
	)
	for _, o := range outputs {
		pixels += int64(o.Width) * int64(o.Height)
		bytes += o.Bytes
	}
	saved := int64(sourceBytes - bytes)
	if saved < 0 {
		saved = 0
	}
	ms := compute.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return UsageLog{
		UserID:          userID,
		JobID:           jobID,
		PixelsProcessed: pixels,
		BytesSaved:      saved,
		ComputeTimeMS:   ms,
		CreatedAt:       time.Now().UTC(),
	}
}

type OutputSize struct {
	Width  int
	Height int
	Bytes  int
}
