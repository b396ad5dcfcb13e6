package moderation

import (
	"chat-hub/errors"
	"fmt"
	"log/slog"
	"testing"
	"testing/fstest"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

const replacementChar = '*'

// TestModerator_Censor
// The dictionary uses specific words to avoid partial collisions (e.g., "he" inside "The")
func TestModerator_Censor(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	dictionary := []string{"badger", "snake", "mushroom"}
	mod, err := NewModerator(dictionary, replacementChar, log)
	req.NoError(err)

	tests := []struct {
		name     string
		input    string
		expected string
		words    []string
	}{
		{
			name:     "Simple word and space preservation",
			input:    "The badger is here",
			expected: "The ****** is here",
			words:    []string{"badger"},
		},
		{
			name:     "Multiple occurrences and preserved spacing",
			input:    "badger badger badger",
			expected: "****** ****** ******",
			words:    []string{"badger", "badger", "badger"},
		},
		{
			name: "Leet speak and internal punctuation",
			// B (index 9) . 4 . d . g . € r (index 20) -> 10 characters
			input:    "Look at B.4.d.g.€r !",
			expected: "Look at ********** !",
			words:    []string{"badger"},
		},
		{
			name:     "Uppercase and extreme noise",
			input:    "S-N-A-K-E is a B.A.D.G.E.R",
			expected: "********* is a ***********",
			words:    []string{"snake", "badger"},
		},
		{
			name:     "Accents and special characters (UTF-8)",
			input:    "Un été avec un badger",
			expected: "Un été avec un ******",
			words:    []string{"badger"},
		},
		{
			name:     "Word adjacent to trailing punctuation",
			input:    "I love badger!",
			expected: "I love ******!",
			words:    []string{"badger"},
		},
		{
			name:     "Nothing to censor",
			input:    "Chat-Hub is amazing",
			expected: "Chat-Hub is amazing",
			words:    nil,
		},
		{
			name:     "Empty string",
			input:    "",
			expected: "",
			words:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, words := mod.Censor(tt.input)
			req.Equal(tt.expected, content, "test=%s,", tt.name)
			req.Equal(tt.words, words, "expected=%s,words=%s", tt.expected, words)
		})
	}
}

func TestModerator_CornerCases(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	// Given real noise and not Leet Speak associated
	dictionary := []string{"...", ",,,", "", "badger"}

	mod, err := NewModerator(dictionary, replacementChar, log)
	req.NoError(err)

	// Then the sentence is censored
	input := "The badger is safe"
	expected := "The ****** is safe"
	content, words := mod.Censor(input)
	req.Equal(expected, content)
	req.Equal([]string{"badger"}, words)

	// Then real noise is uncensored
	input = "Hello ..."
	expected = "Hello ..."
	content, words = mod.Censor(input)
	req.Equal(expected, content)
	req.Nil(words)
}

func TestModerator_Only_Noise_Is_Rejected(t *testing.T) {
	req := require.New(t)

	_, err := NewModerator([]string{"...", " ", ""}, replacementChar, logs.GetLoggerFromLevel(slog.LevelDebug))

	req.ErrorIs(err, errors.ErrEmptyWords)
}

func TestModerator_Review(t *testing.T) {
	req := require.New(t)
	mod, err := NewModerator([]string{"badger"}, replacementChar, logs.GetLoggerFromLevel(slog.LevelDebug))
	req.NoError(err)

	// When a sentence with a censored word is reviewed
	verdict := mod.Review("Yesterday evening the b4dger walked slowly across the garden behind our house")

	// Then the text is masked and the words are reported
	req.Equal("Yesterday evening the ****** walked slowly across the garden behind our house", verdict.Text)
	req.Equal([]string{"badger"}, verdict.Censored)

	// And clean text goes through untouched
	clean := mod.Review("hello")
	req.Equal("hello", clean.Text)
	req.Empty(clean.Censored)
}

func TestCensoredLoader_LoadAll(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{
		"lists/en.txt":       {Data: []byte("badger\r\nsnake\n\n# comment\n")},
		"lists/fr.txt":       {Data: []byte("blaireau\nbadger\n")},
		"lists/readme.md":    {Data: []byte("not a list")},
		"lists/nested/x.txt": {Data: []byte("ignored")},
	}

	data, err := NewCensoredLoader(fsys).LoadAll("lists")

	req.NoError(err)
	req.Equal([]string{"badger", "blaireau", "snake"}, data.Words)
	req.ElementsMatch([]string{"en", "fr"}, data.Languages)
}

func TestCensoredLoader_Default_Lists(t *testing.T) {
	req := require.New(t)
	loader, dir := DefaultLoader()

	data, err := loader.LoadAll(dir)

	req.NoError(err)
	req.Contains(data.Words, "badger")
	req.ElementsMatch([]string{"en", "fr"}, data.Languages)
}

func TestCensoredLoader_Empty_Directory(t *testing.T) {
	req := require.New(t)
	fsys := fstest.MapFS{"lists/en.txt": {Data: []byte("\n\n")}}

	_, err := NewCensoredLoader(fsys).LoadAll("lists")
	req.ErrorIs(err, errors.ErrEmptyWords)

	_, err = NewCensoredLoader(fstest.MapFS{"lists/a.md": {Data: []byte("x")}}).LoadAll("lists")
	req.ErrorIs(err, errors.ErrOnlyCensoredFiles)
}

func BenchmarkModerator_Censor(b *testing.B) {
	words := make([]string, 0, 100_000)
	for i := 0; i < 100_000; i++ {
		words = append(words, fmt.Sprintf("word%dx", i))
	}
	mod, err := NewModerator(words, replacementChar, slog.Default())
	require.NoError(b, err)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		mod.Censor("a perfectly ordinary message mentioning word42x once")
	}
}
