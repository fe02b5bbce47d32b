package consumer

import (
	"encoding/json"
	"maps"
	"slices"
)

// Record is one item of a batch as delivered by an upstream queue.
type Record struct {
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

// BatchResponse is the partial-failure report returned upstream. An id absent
// from FailedIDs was handled successfully.
type BatchResponse struct {
	FailedIDs []string `json:"failedIds"`
}

// BatchResult partitions a batch's item ids into succeeded and failed. The two
// sets are disjoint and together cover every item of the batch.
type BatchResult struct {
	Succeeded map[string]struct{}
	Failed    map[string]struct{}
}

func newBatchResult(n int) BatchResult {
	return BatchResult{
		Succeeded: make(map[string]struct{}, n),
		Failed:    make(map[string]struct{}),
	}
}

// record marks id. A failure for an id wins over a success for the same id,
// so a duplicated item is redelivered rather than lost.
func (r BatchResult) record(id string, err error) {
	if err != nil {
		delete(r.Succeeded, id)
		r.Failed[id] = struct{}{}
		return
	}
	if _, failed := r.Failed[id]; !failed {
		r.Succeeded[id] = struct{}{}
	}
}

// IsFailed reports whether id must be redelivered.
func (r BatchResult) IsFailed(id string) bool {
	_, ok := r.Failed[id]
	return ok
}

// FailedIDs returns the failed ids in sorted order.
func (r BatchResult) FailedIDs() []string {
	return slices.Sorted(maps.Keys(r.Failed))
}

// SucceededIDs returns the succeeded ids in sorted order.
func (r BatchResult) SucceededIDs() []string {
	return slices.Sorted(maps.Keys(r.Succeeded))
}

// Response renders the wire report. FailedIDs is never nil.
func (r BatchResult) Response() BatchResponse {
	ids := r.FailedIDs()
	if ids == nil {
		ids = []string{}
	}
	return BatchResponse{FailedIDs: ids}
}
