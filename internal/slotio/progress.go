package slotio

// ReportInterval is how many cumulative bytes pass between progress
// callbacks. Per-chunk reporting would flood the log and the MQTT uplink
// without improving anything.
const ReportInterval = 1 << 20 // 1 MiB

// Progress describes an in-flight transfer into one slot. It lives for a
// single session and is discarded when the session concludes.
type Progress struct {
	Slot    string `json:"slot"`
	Written uint64 `json:"written"`
	Total   uint64 `json:"total"`
}

// Percent returns the completed fraction as 0-100.
func (p Progress) Percent() int {
	if p.Total == 0 {
		return 0
	}
	return int(p.Written * 100 / p.Total)
}

// ProgressFunc receives progress callbacks at ReportInterval boundaries and
// once at completion.
type ProgressFunc func(Progress)
