package recognizer

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/rakescan/internal/onnx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ctcModel emits one-hot logits for a fixed class sequence, laid out [1, T, C].
type ctcModel struct {
	classes  int
	sequence []int
	prob     float32
	err      error
	inputs   [][]int64
}

func (m *ctcModel) Run(in onnx.Tensor) (onnx.Tensor, error) {
	m.inputs = append(m.inputs, in.Shape)
	if m.err != nil {
		return onnx.Tensor{}, m.err
	}
	data := make([]float32, len(m.sequence)*m.classes)
	rest := (1 - m.prob) / float32(m.classes-1)
	for t, c := range m.sequence {
		for k := range m.classes {
			data[t*m.classes+k] = rest
		}
		data[t*m.classes+c] = m.prob
	}
	return onnx.Tensor{Data: data, Shape: []int64{1, int64(len(m.sequence)), int64(m.classes)}}, nil
}

func (m *ctcModel) Close() error { return nil }

// classOf maps a digit or space to its class under DigitCharset.
func classOf(r rune) int {
	if r == ' ' {
		return 11
	}
	return int(r-'0') + 1
}

func sequence(s string) []int {
	var out []int
	for _, r := range s {
		out = append(out, classOf(r), 0)
	}
	return out
}

func crop() image.Image { return image.NewNRGBA(image.Rect(0, 0, 200, 40)) }

func TestReadTextSplitsFragments(t *testing.T) {
	m := &ctcModel{classes: 12, sequence: sequence("3001 4567891"), prob: 0.9}
	r := NewWithModel(DefaultConfig(), m, nil)

	frags, err := r.ReadText(crop())
	require.NoError(t, err)
	require.Len(t, frags, 2)
	assert.Equal(t, "3001", frags[0].Text)
	assert.Equal(t, "4567891", frags[1].Text)
	assert.InDelta(t, 0.9, frags[0].Confidence, 1e-6)

	require.Len(t, m.inputs, 1)
	assert.Equal(t, int64(48), m.inputs[0][2])
	assert.Zero(t, m.inputs[0][3]%8)
}

func TestReadTextRepeatedDigits(t *testing.T) {
	// "11" needs a blank between the two ones.
	m := &ctcModel{classes: 12, sequence: []int{2, 2, 0, 2, 0}, prob: 0.8}
	frags, err := NewWithModel(DefaultConfig(), m, nil).ReadText(crop())
	require.NoError(t, err)
	require.Len(t, frags, 1)
	assert.Equal(t, "11", frags[0].Text)
}

func TestReadTextBlankOnly(t *testing.T) {
	m := &ctcModel{classes: 12, sequence: []int{0, 0, 0}, prob: 0.99}
	frags, err := NewWithModel(DefaultConfig(), m, nil).ReadText(crop())
	require.NoError(t, err)
	assert.Empty(t, frags)
}

func TestReadTextErrors(t *testing.T) {
	r := NewWithModel(DefaultConfig(), &ctcModel{classes: 12, err: errors.New("boom")}, nil)
	_, err := r.ReadText(crop())
	require.Error(t, err)

	_, err = r.ReadText(nil)
	require.Error(t, err)

	require.NoError(t, r.Close())
	_, err = r.ReadText(crop())
	require.Error(t, err)
}

func TestNewRecognizerErrors(t *testing.T) {
	_, err := NewRecognizer(Config{})
	require.Error(t, err)

	_, err = NewRecognizer(Config{ModelPath: filepath.Join(t.TempDir(), "rec.onnx")})
	require.Error(t, err)

	_, err = NewRecognizer(Config{ModelPath: "x.onnx", DictPath: filepath.Join(t.TempDir(), "missing.txt")})
	require.Error(t, err)
}

func TestOpenBackends(t *testing.T) {
	_, err := Open("paddle", DefaultConfig(), DefaultTesseractConfig())
	require.Error(t, err)

	reader, err := Open(BackendONNX, Config{}, DefaultTesseractConfig())
	require.Error(t, err)
	assert.Nil(t, reader)
}

func TestLoadCharset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dict.txt")
	require.NoError(t, os.WriteFile(path, []byte("\uFEFF0\n1\n\n2\n \n1\n"), 0o600))

	cs, err := LoadCharset(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "1", "2", " ", "1"}, cs.Tokens)
	assert.Equal(t, 1, cs.LookupIndex("1"))
	assert.Equal(t, -1, cs.LookupIndex("x"))
	assert.Equal(t, "0", cs.LookupClass(1))
	assert.Equal(t, "", cs.LookupClass(0))
	assert.Equal(t, "", cs.LookupClass(99))
	assert.Equal(t, 6, cs.Classes())

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n\n"), 0o600))
	_, err = LoadCharset(empty)
	require.Error(t, err)

	_, err = LoadCharset("")
	require.Error(t, err)
}

func TestDigitCharset(t *testing.T) {
	cs := DigitCharset()
	assert.Equal(t, 11, cs.Size())
	assert.Equal(t, "0", cs.LookupClass(1))
	assert.Equal(t, "9", cs.LookupClass(10))
	assert.Equal(t, " ", cs.LookupClass(11))
}

func TestDecodeCTCGreedyClassesFirst(t *testing.T) {
	// [1, C=3, T=4]: classes over time 1,1,0,2
	logits := []float32{
		0, 0, 5, 0, // class 0
		5, 5, 0, 0, // class 1
		0, 0, 0, 5, // class 2
	}
	seq, ok := DecodeCTCGreedy(logits, []int64{1, 3, 4}, 0, true)
	require.True(t, ok)
	assert.Equal(t, []int{1, 1, 0, 2}, seq.Indices)
	assert.Equal(t, []int{1, 2}, seq.Collapsed)
	assert.Greater(t, seq.CollapsedProb[0], 0.9)

	_, ok = DecodeCTCGreedy(logits, []int64{1, 3}, 0, false)
	assert.False(t, ok)
	_, ok = DecodeCTCGreedy(logits[:5], []int64{1, 3, 4}, 0, false)
	assert.False(t, ok)
}

func TestClassesFirst(t *testing.T) {
	assert.False(t, ClassesFirst([]int64{1, 40, 12}, 12))
	assert.True(t, ClassesFirst([]int64{1, 12, 40}, 12))
	assert.False(t, ClassesFirst([]int64{1, 12}, 12))
}

func TestCTCCollapse(t *testing.T) {
	idx, probs := CTCCollapse([]int{0, 3, 3, 0, 3, 4, 4}, []float64{1, .5, .6, 1, .7, .8, .9}, 0)
	assert.Equal(t, []int{3, 3, 4}, idx)
	assert.Equal(t, []float64{.5, .7, .8}, probs)
}

func TestSoftmaxProbOfIndex(t *testing.T) {
	assert.InDelta(t, 0.7, softmaxProbOfIndex([]float32{0.1, 0.7, 0.2}, 1), 1e-6)
	assert.InDelta(t, 0.5, softmaxProbOfIndex([]float32{2, 2}, 0), 1e-9)
	assert.Equal(t, 0.0, softmaxProbOfIndex(nil, 0))
	assert.Equal(t, 0.0, SequenceConfidence(nil))
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "30 01", CleanText("  30\u200B\t01\u00a0 "))
	assert.Equal(t, "", CleanText("\x00\x01"))
	assert.Equal(t, "", CleanText(""))
}

func TestResizeForRecognition(t *testing.T) {
	out, err := ResizeForRecognition(image.NewNRGBA(image.Rect(0, 0, 100, 20)), 48, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, 48, out.Bounds().Dy())
	assert.Equal(t, 240, out.Bounds().Dx())

	out, err = ResizeForRecognition(image.NewNRGBA(image.Rect(0, 0, 1000, 10)), 48, 320, 7)
	require.NoError(t, err)
	assert.Equal(t, 322, out.Bounds().Dx())

	_, err = ResizeForRecognition(nil, 48, 0, 0)
	require.Error(t, err)
	_, err = ResizeForRecognition(image.NewNRGBA(image.Rect(0, 0, 5, 5)), 0, 0, 0)
	require.Error(t, err)
}
