package domain

import "testing"

func TestBatchResultMerge(t *testing.T) {
	total := &BatchResult{}

	total.Merge(&BatchResult{Persisted: 50})
	total.Merge(&BatchResult{
		Persisted: 49,
		Rejected:  []RecordError{{ExternalID: "rec-42", Column: "name"}},
	})
	total.Merge(nil)

	if total.Persisted != 99 {
		t.Errorf("Persisted = %d, want 99", total.Persisted)
	}
	if len(total.Rejected) != 1 || total.Rejected[0].ExternalID != "rec-42" {
		t.Errorf("Rejected = %+v", total.Rejected)
	}
}
