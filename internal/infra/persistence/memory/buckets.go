package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// Snapshot buckets persisted by the durable stores, one row each.
const (
	BucketDocuments = "documents"
	BucketHistory   = "history"
	BucketCounters  = "counters"
)

// Buckets lists the persisted bucket names in write order.
func Buckets() []string {
	return []string{BucketDocuments, BucketHistory, BucketCounters}
}

// EncodeBuckets splits a snapshot into JSON payloads keyed by bucket.
func EncodeBuckets(s Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, 3)
	parts := map[string]any{
		BucketDocuments: s.Documents,
		BucketHistory:   s.History,
		BucketCounters:  s.Counters,
	}
	for bucket, value := range parts {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", bucket, err)
		}
		out[bucket] = data
	}
	return out, nil
}

// DecodeBucket merges one bucket payload into s. Unknown buckets are ignored.
func DecodeBucket(s *Snapshot, bucket string, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	var target any
	switch bucket {
	case BucketDocuments:
		target = &s.Documents
	case BucketHistory:
		target = &s.History
	case BucketCounters:
		target = &s.Counters
	default:
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

// Written remembers the payload last persisted per bucket so durable stores
// rewrite only the buckets a commit changed.
type Written struct {
	mu       sync.Mutex
	payloads map[string][]byte
}

// Changed lists, in write order, the buckets whose payload differs from the
// last one marked.
func (w *Written) Changed(payloads map[string][]byte) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []string
	for _, bucket := range Buckets() {
		prev, ok := w.payloads[bucket]
		if !ok || !bytes.Equal(prev, payloads[bucket]) {
			out = append(out, bucket)
		}
	}
	return out
}

// Mark records the given buckets of payloads as persisted.
func (w *Written) Mark(payloads map[string][]byte, buckets ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.payloads == nil {
		w.payloads = make(map[string][]byte, len(buckets))
	}
	for _, bucket := range buckets {
		w.payloads[bucket] = payloads[bucket]
	}
}
