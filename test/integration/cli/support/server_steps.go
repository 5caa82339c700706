package support

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MeKo-Tech/rakescan/internal/batch"
	"github.com/MeKo-Tech/rakescan/internal/pipeline/pipelinetest"
	"github.com/MeKo-Tech/rakescan/internal/server"
	"github.com/MeKo-Tech/rakescan/internal/store"
	"github.com/MeKo-Tech/rakescan/internal/testutil"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

// HTTPTestServerWrapper wraps httptest.Server for integration tests. The
// inspection server runs with stub stages that see the same wagon in every
// frame and read it as ReadText.
type HTTPTestServerWrapper struct {
	Server     *httptest.Server
	TestServer *server.Server
	Store      *store.Store
	ReadText   string
}

// theInspectionServerIsRunning starts an in-process server whose stub
// recognizer reads text.
func (testCtx *TestContext) theInspectionServerIsRunning(text string) error {
	if testCtx.HTTPTestServer != nil {
		return nil
	}
	if testCtx.DBPath == "" {
		testCtx.DBPath = filepath.Join(testCtx.TempDir, "history.db")
	}
	st, err := store.Open(testCtx.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}

	srv, err := server.NewServer(server.Config{
		CORSOrigin:     "*",
		MaxInspections: 1,
		Store:          st,
		Batch: batch.Config{
			NewCoordinator: pipelinetest.Factory(text, pipelinetest.Wagon(1, 300)),
		},
	})
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	testCtx.HTTPTestServer = &HTTPTestServerWrapper{
		Server:     httptest.NewServer(mux),
		TestServer: srv,
		Store:      st,
		ReadText:   text,
	}
	return nil
}

func (testCtx *TestContext) stopTestHTTPServer() error {
	w := testCtx.HTTPTestServer
	testCtx.HTTPTestServer = nil
	w.Server.Close()
	err := w.TestServer.Close()
	if cerr := w.Store.Close(); err == nil {
		err = cerr
	}
	return err
}

// aRecordedClipOfFrames writes a frame sequence the server can inspect.
func (testCtx *TestContext) aRecordedClipOfFrames(frames int) error {
	dir := filepath.Join(testCtx.TempDir, "clip")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for i := range frames {
		path := filepath.Join(dir, fmt.Sprintf("frame_%05d.png", i))
		if err := imaging.Save(testutil.CheckerFrame(testutil.SmallSize, 2), path); err != nil {
			return fmt.Errorf("failed to write frame: %w", err)
		}
	}
	return nil
}

// iSendRequest issues method path with an optional JSON body.
func (testCtx *TestContext) iSendRequest(method, path, body string) error {
	if testCtx.HTTPTestServer == nil {
		return errors.New("no server running")
	}
	path = testCtx.substituteServerVariables(path)
	body = testCtx.substituteServerVariables(body)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, testCtx.HTTPTestServer.Server.URL+path, reader)
	if err != nil {
		return err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := testCtx.HTTPTestServer.Server.Client().Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(data)
	testCtx.LastHTTPHeaders = map[string]string{}
	for k := range resp.Header {
		testCtx.LastHTTPHeaders[k] = resp.Header.Get(k)
	}

	var run server.RunStatus
	if json.Unmarshal(data, &run) == nil && run.RunID != "" {
		testCtx.LastRunID = run.RunID
	}
	return nil
}

func (testCtx *TestContext) iSendGET(path string) error {
	return testCtx.iSendRequest(http.MethodGet, path, "")
}

func (testCtx *TestContext) iSendDELETE(path string) error {
	return testCtx.iSendRequest(http.MethodDelete, path, "")
}

func (testCtx *TestContext) iStartAnInspectionOfTheClip() error {
	return testCtx.iSendRequest(http.MethodPost, "/inspect", `{"video":"{clip}","mode":"wagon_box"}`)
}

func (testCtx *TestContext) iStartAnInspectionOf(video string) error {
	body, err := json.Marshal(server.InspectRequest{Video: video})
	if err != nil {
		return err
	}
	return testCtx.iSendRequest(http.MethodPost, "/inspect", string(body))
}

func (testCtx *TestContext) substituteServerVariables(s string) string {
	s = strings.ReplaceAll(s, "{clip}", filepath.Join(testCtx.TempDir, "clip"))
	s = strings.ReplaceAll(s, "{run}", testCtx.LastRunID)
	return testCtx.substituteCommandVariables(s)
}

func (testCtx *TestContext) theResponseStatusShouldBe(code int) error {
	if testCtx.LastHTTPStatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain %q: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

func (testCtx *TestContext) theResponseHeaderShouldBe(name, value string) error {
	if got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]; got != value {
		return fmt.Errorf("header %s is %q, expected %q", name, got, value)
	}
	return nil
}

func (testCtx *TestContext) theResponseJSONFieldShouldBe(path, expected string) error {
	var data any
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &data); err != nil {
		return fmt.Errorf("response is not valid JSON: %w", err)
	}
	value, err := lookupJSON(data, path)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(value); got != expected {
		return fmt.Errorf("response field %s is %q, expected %q", path, got, expected)
	}
	return nil
}

// theInspectionShouldCompleteWithWagons polls the run until it finishes.
func (testCtx *TestContext) theInspectionShouldCompleteWithWagons(wagons int) error {
	if testCtx.LastRunID == "" {
		return errors.New("no inspection was started")
	}
	runID := testCtx.LastRunID
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		if err := testCtx.iSendGET("/inspect/" + runID); err != nil {
			return err
		}
		var run server.RunStatus
		if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &run); err != nil {
			return fmt.Errorf("invalid run status: %w", err)
		}
		switch run.Status {
		case server.RunCompleted:
			if run.Wagons != wagons {
				return fmt.Errorf("inspection counted %d wagons, expected %d", run.Wagons, wagons)
			}
			testCtx.InspectionID = run.InspectionID
			return nil
		case server.RunFailed:
			return fmt.Errorf("inspection failed: %s", run.Error)
		}
		time.Sleep(50 * time.Millisecond)
	}
	return fmt.Errorf("inspection %s did not finish in time", runID)
}

// RegisterServerSteps registers the HTTP server steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the inspection server is running and reads "([^"]*)"$`, testCtx.theInspectionServerIsRunning)
	sc.Step(`^a recorded clip of (\d+) frames$`, testCtx.aRecordedClipOfFrames)
	sc.Step(`^I start an inspection of the clip$`, testCtx.iStartAnInspectionOfTheClip)
	sc.Step(`^I start an inspection of "([^"]*)"$`, testCtx.iStartAnInspectionOf)
	sc.Step(`^I send a GET request to "([^"]*)"$`, testCtx.iSendGET)
	sc.Step(`^I send a DELETE request to "([^"]*)"$`, testCtx.iSendDELETE)
	sc.Step(`^I send a POST request to "([^"]*)" with body '([^']*)'$`,
		func(path, body string) error { return testCtx.iSendRequest(http.MethodPost, path, body) })
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)
	sc.Step(`^the inspection should complete with (\d+) wagons?$`, testCtx.theInspectionShouldCompleteWithWagons)
}
