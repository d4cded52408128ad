package domain

import "time"

type TaskState string

const (
	TaskStateCreated   TaskState = "created"
	TaskStateReady     TaskState = "ready"
	TaskStateActive    TaskState = "active"
	TaskStateFinished  TaskState = "finished"
	TaskStateFailed    TaskState = "failed"
	TaskStateDiscarded TaskState = "discarded"
)

// Terminal reports whether a transfer in this state has no running work.
func (s TaskState) Terminal() bool {
	return s == TaskStateFinished || s == TaskStateFailed || s == TaskStateDiscarded
}

type SegmentState string

const (
	SegmentStatePending  SegmentState = "pending"
	SegmentStateActive   SegmentState = "active"
	SegmentStateFinished SegmentState = "finished"
	SegmentStateFailed   SegmentState = "failed"
)

// Snapshot is the durable projection of a transfer, enough to rebuild it
// without running discovery again.
type Snapshot struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	TotalSize int64             `json:"total_size"`
	Directory string            `json:"directory"`
	FileName  string            `json:"file_name"`
	CreatedAt time.Time         `json:"created_at"`
	Segments  []SegmentSnapshot `json:"segments"`
}

// SegmentSnapshot captures one segment's range and how much of it is on disk.
type SegmentSnapshot struct {
	Index    int   `json:"index"`
	Range    Range `json:"range"`
	Received int64 `json:"received"`
}

// Received sums the bytes recorded across all segments.
func (s Snapshot) Received() int64 {
	var n int64
	for _, seg := range s.Segments {
		n += seg.Received
	}
	return n
}
