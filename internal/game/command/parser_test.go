package command

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestParse_Empty(t *testing.T) {
	assert.Equal(t, ParseResult{}, Parse("   "))
}

func TestParse_SingleWord(t *testing.T) {
	result := Parse("LOOK")
	assert.Equal(t, "look", result.Command)
	assert.Nil(t, result.Args)
	assert.Empty(t, result.RawArgs)
	assert.Empty(t, result.Target)
}

func TestParse_MultiWordTarget(t *testing.T) {
	result := Parse("  take   Rusted\tKey  ")
	assert.Equal(t, "take", result.Command)
	assert.Equal(t, []string{"Rusted", "Key"}, result.Args)
	assert.Equal(t, "Rusted\tKey", result.RawArgs)
	assert.Equal(t, "Rusted Key", result.Target)
}

func TestParse_TabAfterCommand(t *testing.T) {
	result := Parse("go\tnorth")
	assert.Equal(t, "go", result.Command)
	assert.Equal(t, []string{"north"}, result.Args)
}

func TestParse_DropsLeadingArticle(t *testing.T) {
	assert.Equal(t, "dire wolf", Parse("attack the dire wolf").Target)
	assert.Equal(t, "lantern", Parse("take A lantern").Target)
	// A lone article is the target itself.
	assert.Equal(t, "a", Parse("take a").Target)
}

// Property: the command is always lowercase and non-empty for non-blank
// input, and the target never carries doubled spaces.
func TestPropertyParseNormalizes(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		verb := rapid.StringMatching(`[A-Za-z]{1,12}`).Draw(rt, "verb")
		words := rapid.SliceOfN(rapid.StringMatching(`[A-Za-z]{1,8}`), 0, 4).Draw(rt, "words")
		sep := rapid.SampledFrom([]string{" ", "  ", "\t", " \t "}).Draw(rt, "sep")
		result := Parse(verb + sep + strings.Join(words, sep))

		if result.Command != strings.ToLower(verb) {
			rt.Fatalf("command %q from verb %q", result.Command, verb)
		}
		if len(result.Args) != len(words) {
			rt.Fatalf("got %d args, want %d", len(result.Args), len(words))
		}
		if strings.Contains(result.Target, "  ") || strings.ContainsRune(result.Target, '\t') {
			rt.Fatalf("target %q not normalized", result.Target)
		}
	})
}
