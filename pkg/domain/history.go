package domain

import "time"

// HistoryRecord is an append-only audit entry for a document.
type HistoryRecord struct {
	ID         string    `json:"id"`
	Ref        Ref       `json:"ref"`
	Actor      string    `json:"actor"`
	Transition string    `json:"transition,omitempty"`
	FromStatus Status    `json:"from_status,omitempty"`
	ToStatus   Status    `json:"to_status,omitempty"`
	Comment    string    `json:"comment,omitempty"`
	Version    int64     `json:"version"`
	Timestamp  time.Time `json:"timestamp"`
}

// Meaningful reports whether the record changed status or carries a comment.
func (h HistoryRecord) Meaningful() bool {
	return h.FromStatus != h.ToStatus || h.Comment != ""
}

// FilterMeaningful keeps records that changed status or carry a comment.
func FilterMeaningful(records []HistoryRecord) []HistoryRecord {
	out := make([]HistoryRecord, 0, len(records))
	for _, r := range records {
		if r.Meaningful() {
			out = append(out, r)
		}
	}
	return out
}
