package pipeline

import (
	"fmt"
	"sort"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/wagonid"
	"gonum.org/v1/gonum/stat"
)

// EntryStatus is the recognition outcome of one track in a report.
type EntryStatus string

const (
	StatusResolved      EntryStatus = "resolved"
	StatusPending       EntryStatus = "pending"
	StatusNotDispatched EntryStatus = "not_dispatched"
)

// Evidence holds the paths of the images saved for one wagon.
type Evidence struct {
	Original  string `json:"original,omitempty" yaml:"original,omitempty"`
	Deblurred string `json:"deblurred,omitempty" yaml:"deblurred,omitempty"`
	Number    string `json:"number,omitempty" yaml:"number,omitempty"`
}

// WagonRecord is created when a track is dispatched and filled in once when
// its recognition result arrives.
type WagonRecord struct {
	TrackID     int                 `json:"track_id" yaml:"track_id"`
	RawText     *string             `json:"raw_text" yaml:"raw_text"`
	Decoded     *wagonid.Identifier `json:"decoded,omitempty" yaml:"decoded,omitempty"`
	Confidence  float64             `json:"confidence" yaml:"confidence"`
	FirstSeenAt time.Time           `json:"first_seen_at" yaml:"first_seen_at"`
	FirstFrame  int                 `json:"first_frame" yaml:"first_frame"`
	RequestedAt time.Time           `json:"requested_at" yaml:"requested_at"`
	ResolvedAt  *time.Time          `json:"resolved_at,omitempty" yaml:"resolved_at,omitempty"`
	Latency     time.Duration       `json:"latency" yaml:"latency"`
	Sharpness   float64             `json:"sharpness" yaml:"sharpness"`
	Restored    bool                `json:"restored" yaml:"restored"`
	IsNight     bool                `json:"is_night" yaml:"is_night"`
	Enhanced    bool                `json:"enhanced" yaml:"enhanced"`
	Images      Evidence            `json:"images" yaml:"images"`
	Error       string              `json:"error,omitempty" yaml:"error,omitempty"`
}

// Resolved reports whether the record has received its result.
func (r *WagonRecord) Resolved() bool { return r != nil && r.ResolvedAt != nil }

// Entry is one line of the inventory.
type Entry struct {
	Index      int          `json:"index" yaml:"index"`
	TrackID    int          `json:"track_id" yaml:"track_id"`
	Identifier string       `json:"identifier" yaml:"identifier"`
	Status     EntryStatus  `json:"status" yaml:"status"`
	Record     *WagonRecord `json:"record,omitempty" yaml:"record,omitempty"`
}

// RunStats summarizes one inspection.
type RunStats struct {
	Frames         int           `json:"frames" yaml:"frames"`
	Tracks         int           `json:"tracks" yaml:"tracks"`
	Dispatched     int           `json:"dispatched" yaml:"dispatched"`
	Dropped        int           `json:"dropped" yaml:"dropped"`
	Resolved       int           `json:"resolved" yaml:"resolved"`
	WithText       int           `json:"with_text" yaml:"with_text"`
	Decoded        int           `json:"decoded" yaml:"decoded"`
	Pending        int           `json:"pending" yaml:"pending"`
	Restored       int           `json:"restored" yaml:"restored"`
	NightWagons    int           `json:"night_wagons" yaml:"night_wagons"`
	MeanConfidence float64       `json:"mean_confidence" yaml:"mean_confidence"`
	MeanLatency    time.Duration `json:"mean_latency" yaml:"mean_latency"`
}

// InspectionReport is the final inventory of one run. Every track id that was
// ever observed has an entry.
type InspectionReport struct {
	RunID          string               `json:"run_id" yaml:"run_id"`
	VideoName      string               `json:"video_name" yaml:"video_name"`
	UniqueTrackIDs []int                `json:"unique_track_ids" yaml:"unique_track_ids"`
	Records        map[int]*WagonRecord `json:"wagon_records" yaml:"wagon_records"`
	Entries        []Entry              `json:"entries" yaml:"entries"`
	FrameCount     int                  `json:"frame_count" yaml:"frame_count"`
	StartedAt      time.Time            `json:"started_at" yaml:"started_at"`
	FinishedAt     time.Time            `json:"finished_at" yaml:"finished_at"`
	Stats          RunStats             `json:"stats" yaml:"stats"`
}

// TotalWagons returns the number of unique tracks.
func (r *InspectionReport) TotalWagons() int { return len(r.UniqueTrackIDs) }

// Placeholder is the identifier shown for a track without recognized text.
func Placeholder(trackID int) string { return fmt.Sprintf("Track-%d", trackID) }

// DisplayIdentifier picks the best identifier for a record: the decoded
// number, the raw text, or the track placeholder.
func DisplayIdentifier(trackID int, rec *WagonRecord) string {
	switch {
	case rec == nil || rec.RawText == nil:
		return Placeholder(trackID)
	case rec.Decoded != nil:
		return rec.Decoded.Formatted()
	default:
		return *rec.RawText
	}
}

// snapshot builds the report from the current state.
func (s *state) snapshot(runID, video string, started, finished time.Time) *InspectionReport {
	rep := &InspectionReport{
		RunID:          runID,
		VideoName:      video,
		UniqueTrackIDs: make([]int, 0, len(s.order)),
		Records:        make(map[int]*WagonRecord, len(s.records)),
		Entries:        make([]Entry, 0, len(s.order)),
		FrameCount:     s.frames,
		StartedAt:      started,
		FinishedAt:     finished,
	}

	var confidences, latencies []float64
	for i, id := range s.order {
		rep.UniqueTrackIDs = append(rep.UniqueTrackIDs, id)
		entry := Entry{Index: i + 1, TrackID: id, Status: StatusNotDispatched}

		if rec, ok := s.records[id]; ok {
			cp := *rec
			rep.Records[id] = &cp
			entry.Record = &cp
			rep.Stats.Dispatched++
			if cp.Restored {
				rep.Stats.Restored++
			}
			if cp.IsNight {
				rep.Stats.NightWagons++
			}
			if cp.Resolved() {
				entry.Status = StatusResolved
				rep.Stats.Resolved++
				latencies = append(latencies, cp.Latency.Seconds())
				if cp.RawText != nil {
					rep.Stats.WithText++
					confidences = append(confidences, cp.Confidence)
				}
				if cp.Decoded != nil {
					rep.Stats.Decoded++
				}
			} else {
				entry.Status = StatusPending
				rep.Stats.Pending++
			}
		}
		entry.Identifier = DisplayIdentifier(id, entry.Record)
		rep.Entries = append(rep.Entries, entry)
	}
	sort.Ints(rep.UniqueTrackIDs)

	rep.Stats.Frames = s.frames
	rep.Stats.Tracks = len(s.order)
	rep.Stats.Dropped = s.drops
	if len(confidences) > 0 {
		rep.Stats.MeanConfidence = stat.Mean(confidences, nil)
	}
	if len(latencies) > 0 {
		rep.Stats.MeanLatency = time.Duration(stat.Mean(latencies, nil) * float64(time.Second))
	}
	return rep
}
