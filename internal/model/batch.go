package model

import "time"

// Batch status (derived on every read, never stored)
type BatchStatus string

const (
	BatchStatusRunning   BatchStatus = "running"
	BatchStatusSucceeded BatchStatus = "succeeded"
	BatchStatusFailed    BatchStatus = "failed"
	BatchStatusPartial   BatchStatus = "partial"
)

// Batch failure policies
type BatchFailurePolicy string

const (
	// BatchPolicyStrict marks the batch failed if any member failed.
	BatchPolicyStrict BatchFailurePolicy = "strict"
	// BatchPolicyPartial reports partial success when at least one member
	// succeeded.
	BatchPolicyPartial BatchFailurePolicy = "partial"
)

// Batch groups jobs submitted together. The member set is fixed at
// creation; progress and aggregate status are derived by reading every
// member record, so there are no counters to drift.
type Batch struct {
	ID        string    `json:"id"`
	JobIDs    []string  `json:"jobIds"`
	CreatedAt time.Time `json:"createdAt"`
}

// Total returns the fixed member count.
func (b *Batch) Total() int {
	return len(b.JobIDs)
}

// AggregateStatus derives the batch status from its members' statuses
// under the given failure policy. completed counts terminal members.
func AggregateStatus(members []JobStatus, policy BatchFailurePolicy) (status BatchStatus, completed int) {
	succeeded := 0
	failed := 0
	for _, s := range members {
		if s.Terminal() {
			completed++
		}
		switch s {
		case JobStatusSucceeded:
			succeeded++
		case JobStatusFailed:
			failed++
		}
	}

	if completed < len(members) {
		return BatchStatusRunning, completed
	}

	switch {
	case failed == 0:
		return BatchStatusSucceeded, completed
	case policy == BatchPolicyPartial && succeeded > 0:
		return BatchStatusPartial, completed
	default:
		return BatchStatusFailed, completed
	}
}
