package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WagonNumberCase is one recognized text and the identifier it decodes to.
// Invalid cases must not decode.
type WagonNumberCase struct {
	Raw        string `json:"raw"`
	Invalid    bool   `json:"invalid,omitempty"`
	Formatted  string `json:"formatted,omitempty"`
	Type       string `json:"type,omitempty"`
	Authority  string `json:"authority,omitempty"`
	Year       string `json:"year,omitempty"`
	Serial     string `json:"serial,omitempty"`
	CheckDigit string `json:"check_digit,omitempty"`
}

// WagonNumberFixture groups decode cases.
type WagonNumberFixture struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Cases       []WagonNumberCase `json:"cases"`
}

// LoadWagonNumbers loads testdata/fixtures/<name>.json.
func LoadWagonNumbers(t *testing.T, name string) WagonNumberFixture {
	t.Helper()

	path := filepath.Join(GetFixturesDir(t), name+".json")
	data, err := os.ReadFile(path) //nolint:gosec // G304: Reading test fixture files with controlled paths
	require.NoError(t, err, "Failed to read fixture file: %s", path)

	var fixture WagonNumberFixture
	require.NoError(t, json.Unmarshal(data, &fixture), "Failed to unmarshal fixture JSON")
	return fixture
}
