package artifacts

import (
	"github.com/yadra-ai/workspace-gateway/internal/store"
)

// Merge combines the stream-derived artifact projection with persisted
// records, deduplicating by artifact id.
//
// Conflict rule: while the projected artifact is still streaming, the
// live stream wins; once settled, the persisted record fills in fields
// the stream never carried (payload URL, backend metadata). Records with
// no projected counterpart become artifacts of their own. The result is
// eventually consistent between both sources.
func Merge(projected []store.Artifact, records []Record) []store.Artifact {
	if len(records) == 0 {
		return projected
	}

	out := make([]store.Artifact, len(projected))
	copy(out, projected)

	byID := make(map[string]int, len(out))
	for i := range out {
		byID[out[i].ID] = i
	}

	for _, rec := range records {
		idx, ok := byID[rec.ID]
		if !ok {
			out = append(out, fromRecord(rec))
			continue
		}
		a := &out[idx]
		if a.IsStreaming {
			continue
		}
		if rec.Mime != "" {
			a.MimeType = rec.Mime
		}
		if rec.Type != "" {
			a.Type = rec.Type
		}
		if a.Summary == "" && rec.Summary != "" {
			a.Summary = rec.Summary
		}
	}

	return out
}

func fromRecord(rec Record) store.Artifact {
	return store.Artifact{
		ID:        rec.ID,
		ThreadID:  rec.TraceID,
		Type:      rec.Type,
		MimeType:  rec.Mime,
		Title:     rec.NodeName,
		Summary:   rec.Summary,
		Content:   rec.PayloadURL,
		Agent:     rec.NodeName,
		CreatedAt: rec.CreatedAt,
	}
}
