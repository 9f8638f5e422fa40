package events

import (
	"time"

	"github.com/alertory/monitor/internal/types"
	"github.com/alertory/monitor/internal/util"
)

// Normalize converts a server record into its display form. The timestamp is
// rendered as a time of day in loc using the given locale.
func Normalize(rec EventRecord, loc *time.Location, locale string) types.DetectionRecord {
	return types.DetectionRecord{
		ID:         rec.ID,
		Type:       types.DetectionType(rec.EventType),
		Location:   rec.LocationLabel,
		Confidence: rec.Confidence,
		Timestamp:  util.FormatEventTime(rec.DetectedAt, loc, locale),
	}
}

// NormalizeAll converts records in order. The result is never nil.
func NormalizeAll(recs []EventRecord, loc *time.Location, locale string) []types.DetectionRecord {
	out := make([]types.DetectionRecord, 0, len(recs))
	for _, r := range recs {
		out = append(out, Normalize(r, loc, locale))
	}
	return out
}
