package support

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cucumber/godog"
)

// commandTimeout bounds every CLI invocation.
const commandTimeout = 30 * time.Second

// iRunCommand executes a command and stores the result.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substituteCommandVariables(command)

	testCtx.LastCommand = command
	testCtx.LastStartTime = time.Now()

	parts, err := splitCommand(command)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, parts[0], parts[1:]...)
	cmd.Dir = testCtx.WorkingDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	var stdout bytes.Buffer
	var combined lockedBuffer
	cmd.Stdout = io.MultiWriter(&stdout, &combined)
	cmd.Stderr = &combined
	err = cmd.Run()
	testCtx.LastOutput = combined.String()
	testCtx.LastStdout = stdout.String()
	testCtx.LastError = err
	testCtx.LastDuration = time.Since(testCtx.LastStartTime)

	if err != nil {
		exitError := &exec.ExitError{}
		if errors.As(err, &exitError) {
			testCtx.LastExitCode = exitError.ExitCode()
		} else {
			testCtx.LastExitCode = -1
		}
	} else {
		testCtx.LastExitCode = 0
	}

	return nil
}

// lockedBuffer lets the stdout and stderr copiers share one buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// splitCommand splits a command line on spaces, keeping double-quoted
// arguments together.
func splitCommand(command string) ([]string, error) {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
		started bool
	)
	for _, r := range command {
		switch {
		case r == '"':
			quoted = !quoted
			started = true
		case r == ' ' && !quoted:
			if started {
				parts = append(parts, current.String())
				current.Reset()
				started = false
			}
		default:
			current.WriteRune(r)
			started = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated quote in %q", command)
	}
	if started {
		parts = append(parts, current.String())
	}
	return parts, nil
}

// substituteCommandVariables replaces {db}, {id} and {tmp} in command strings.
func (testCtx *TestContext) substituteCommandVariables(command string) string {
	if testCtx.DBPath != "" {
		command = strings.ReplaceAll(command, "{db}", testCtx.DBPath)
	}
	if testCtx.InspectionID != 0 {
		command = strings.ReplaceAll(command, "{id}", strconv.FormatInt(testCtx.InspectionID, 10))
	}
	return strings.ReplaceAll(command, "{tmp}", testCtx.TempDir)
}

// theCommandShouldSucceed verifies the command succeeded.
func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastExitCode != 0 {
		return fmt.Errorf("command failed with exit code %d: %w\nOutput: %s",
			testCtx.LastExitCode, testCtx.LastError, testCtx.LastOutput)
	}
	return nil
}

// theCommandShouldFail verifies the command failed.
func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastExitCode == 0 {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldContain verifies the output contains specific text.
func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

// theOutputShouldBeValidJSON verifies stdout is valid JSON.
func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	doc := jsonDocument(testCtx.LastStdout)
	if doc == "" || !json.Valid([]byte(doc)) {
		return fmt.Errorf("output is not valid JSON\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

// theJSONFieldShouldBe checks a dotted path such as "0.identifier.type".
func (testCtx *TestContext) theJSONFieldShouldBe(path, expected string) error {
	var data any
	if err := json.Unmarshal([]byte(jsonDocument(testCtx.LastStdout)), &data); err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}
	value, err := lookupJSON(data, path)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(value); got != expected {
		return fmt.Errorf("field %s is %q, expected %q", path, got, expected)
	}
	return nil
}

func jsonDocument(output string) string {
	output = strings.TrimSpace(output)
	for i, r := range output {
		if r == '{' || r == '[' {
			return output[i:]
		}
	}
	return ""
}

func lookupJSON(data any, path string) (any, error) {
	current := data
	for _, part := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[part]
			if !ok {
				return nil, fmt.Errorf("field %q not found in %s", part, path)
			}
			current = next
		case []any:
			i, err := strconv.Atoi(part)
			if err != nil || i < 0 || i >= len(node) {
				return nil, fmt.Errorf("index %q out of range in %s", part, path)
			}
			current = node[i]
		default:
			return nil, fmt.Errorf("cannot descend into %s at %q", path, part)
		}
	}
	return current, nil
}

// theOutputShouldBeValidCSVWithRows parses stdout as CSV with a header row.
func (testCtx *TestContext) theOutputShouldBeValidCSVWithRows(rows int) error {
	records, err := csv.NewReader(strings.NewReader(testCtx.LastStdout)).ReadAll()
	if err != nil {
		return fmt.Errorf("output is not valid CSV: %w\nOutput: %s", err, testCtx.LastStdout)
	}
	if len(records)-1 != rows {
		return fmt.Errorf("expected %d data rows, got %d", rows, len(records)-1)
	}
	return nil
}

// theFileShouldExist checks a file relative to the scenario temp dir.
func (testCtx *TestContext) theFileShouldExist(filename string) error {
	path := testCtx.substituteCommandVariables(filename)
	if !filepath.IsAbs(path) {
		path = filepath.Join(testCtx.TempDir, path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("file %s does not exist", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file %s is empty", path)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldStartWith(filename, prefix string) error {
	path := testCtx.substituteCommandVariables(filename)
	if !filepath.IsAbs(path) {
		path = filepath.Join(testCtx.TempDir, path)
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: path under the scenario temp dir
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !strings.HasPrefix(string(data), prefix) {
		return fmt.Errorf("file %s does not start with %q", path, prefix)
	}
	return nil
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(name, value string) error {
	testCtx.AddEnvVar(name, testCtx.substituteCommandVariables(value))
	return nil
}

// RegisterCommonSteps registers all common step definitions.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)
	sc.Step(`^I run '([^']*)'$`, testCtx.iRunCommand)
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the output should be CSV with (\d+) rows?$`, testCtx.theOutputShouldBeValidCSVWithRows)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should start with "([^"]*)"$`, testCtx.theFileShouldStartWith)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)
}
