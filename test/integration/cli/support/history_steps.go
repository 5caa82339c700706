package support

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/pipeline"
	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/MeKo-Tech/rakescan/internal/wagonid"
	"github.com/cucumber/godog"
)

// readNumbers are the painted numbers given to the read wagons, in order.
var readNumbers = []string{"30014567891", "10051234567", "40081900423", "99992011110"}

// buildReport makes a report with wagons tracks, the first read of them
// carrying recognized numbers.
func buildReport(video string, wagons, read int) (*pipeline.InspectionReport, error) {
	if read > wagons || read > len(readNumbers) {
		return nil, fmt.Errorf("cannot read %d of %d wagons", read, wagons)
	}
	now := time.Now()
	rep := &pipeline.InspectionReport{
		RunID:      fmt.Sprintf("run-%d", now.UnixNano()),
		VideoName:  video,
		Records:    map[int]*pipeline.WagonRecord{},
		FrameCount: wagons * 30,
		StartedAt:  now.Add(-time.Minute),
		FinishedAt: now,
	}
	for i := 1; i <= wagons; i++ {
		rep.UniqueTrackIDs = append(rep.UniqueTrackIDs, i)
		entry := pipeline.Entry{Index: i, TrackID: i, Identifier: pipeline.Placeholder(i), Status: pipeline.StatusNotDispatched}
		if i <= read {
			text := readNumbers[i-1]
			resolved := now
			rec := &pipeline.WagonRecord{
				TrackID:     i,
				RawText:     &text,
				Decoded:     wagonid.Decode(text),
				Confidence:  0.9,
				RequestedAt: now.Add(-time.Second),
				ResolvedAt:  &resolved,
			}
			rep.Records[i] = rec
			entry.Identifier = pipeline.DisplayIdentifier(i, rec)
			entry.Status = pipeline.StatusResolved
			entry.Record = rec
		}
		rep.Entries = append(rep.Entries, entry)
	}
	return rep, nil
}

// anInspectionHistoryWith seeds a history database for the scenario.
func (testCtx *TestContext) anInspectionHistoryWith(wagons, read int) error {
	rep, err := buildReport("freight_train.mp4", wagons, read)
	if err != nil {
		return err
	}

	if testCtx.DBPath == "" {
		testCtx.DBPath = filepath.Join(testCtx.TempDir, "history.db")
		testCtx.AddEnvVar("RAKESCAN_STORE_PATH", testCtx.DBPath)
	}
	st, err := store.Open(testCtx.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = st.Close() }()

	id, err := st.SaveReport(context.Background(), rep)
	if err != nil {
		return fmt.Errorf("failed to seed history: %w", err)
	}
	testCtx.InspectionID = id
	return nil
}

// theHistoryShouldHoldInspections counts the stored runs.
func (testCtx *TestContext) theHistoryShouldHoldInspections(count int) error {
	if testCtx.DBPath == "" {
		return fmt.Errorf("no history database in this scenario")
	}
	st, err := store.Open(testCtx.DBPath)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	list, err := st.ListInspections(context.Background(), 0)
	if err != nil {
		return err
	}
	if len(list) != count {
		return fmt.Errorf("history holds %d inspections, expected %d", len(list), count)
	}
	return nil
}

// RegisterHistorySteps registers the history database steps.
func (testCtx *TestContext) RegisterHistorySteps(sc *godog.ScenarioContext) {
	sc.Step(`^an inspection history with (\d+) wagons? of which (\d+) (?:was|were) read$`, testCtx.anInspectionHistoryWith)
	sc.Step(`^the history should hold (\d+) inspections?$`, testCtx.theHistoryShouldHoldInspections)
}
