package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmbedder maps texts onto fixed three-dimensional axes by keyword so
// cosine ranking is deterministic.
type fakeEmbedder struct{}

func (fakeEmbedder) Dimension() int { return 3 }

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		lower := strings.ToLower(text)
		vec := []float32{0.01, 0.01, 0.01}
		if strings.Contains(lower, "churn") {
			vec[0] = 1
		}
		if strings.Contains(lower, "pricing") {
			vec[1] = 1
		}
		if strings.Contains(lower, "onboarding") {
			vec[2] = 1
		}
		out[i] = vec
	}
	return out, nil
}

func writeSkill(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestLibrary(t *testing.T, embedder Embedder) (*Library, string) {
	t.Helper()

	dir := t.TempDir()
	writeSkill(t, dir, "winback.md", "# Churn win-back\nLead with the member's visit history when reaching out about churn.")
	writeSkill(t, dir, "pricing.md", "# Pricing objections\nOffer a downgrade before any discount when pricing comes up.")
	writeSkill(t, dir, "onboarding.md", "# New member onboarding\nBook the first three onboarding sessions up front.")

	lib, err := NewLibrary(Config{
		Dir:      dir,
		DBPath:   filepath.Join(t.TempDir(), "skills.db"),
		Logger:   zerolog.New(os.Stdout).Level(zerolog.Disabled),
		Embedder: embedder,
	})
	require.NoError(t, err)
	t.Cleanup(func() { lib.Close() })

	return lib, dir
}

func TestParseSkillFile(t *testing.T) {
	t.Run("should use the first heading as title", func(t *testing.T) {
		sf := parseSkillFile("/skills/winback.md", []byte("# Win-back outreach\n\nBe specific."))
		assert.Equal(t, "Win-back outreach", sf.title)
		assert.Equal(t, "Be specific.", sf.guidance)
	})

	t.Run("should fall back to the file name", func(t *testing.T) {
		sf := parseSkillFile("/skills/no-heading.md", []byte("Just guidance text."))
		assert.Equal(t, "no-heading", sf.title)
		assert.Equal(t, "Just guidance text.", sf.guidance)
	})
}

func TestVectorSelect(t *testing.T) {
	lib, _ := newTestLibrary(t, fakeEmbedder{})

	skills, err := lib.Select(context.Background(), "stop churn among lapsed members", "", 2)
	require.NoError(t, err)
	require.Len(t, skills, 2)
	assert.Equal(t, "Churn win-back", skills[0].Title)
	assert.Contains(t, skills[0].Guidance, "visit history")
}

func TestKeywordFallback(t *testing.T) {
	lib, _ := newTestLibrary(t, nil)

	skills, err := lib.Select(context.Background(), "handle pricing objections from members", "", 2)
	require.NoError(t, err)
	require.NotEmpty(t, skills)
	assert.Equal(t, "Pricing objections", skills[0].Title)
}

func TestSelectCaps(t *testing.T) {
	lib, _ := newTestLibrary(t, fakeEmbedder{})

	skills, err := lib.Select(context.Background(), "churn pricing onboarding", "", 1)
	require.NoError(t, err)
	assert.Len(t, skills, 1)

	skills, err = lib.Select(context.Background(), "churn", "", 0)
	require.NoError(t, err)
	assert.Empty(t, skills)
}

func TestSyncPicksUpChanges(t *testing.T) {
	lib, dir := newTestLibrary(t, nil)

	// Initial sync.
	_, err := lib.Select(context.Background(), "pricing", "", 3)
	require.NoError(t, err)

	writeSkill(t, dir, "referrals.md", "# Referral pushes\nAsk happy members for referrals after a milestone.")
	require.NoError(t, os.Remove(filepath.Join(dir, "pricing.md")))
	lib.MarkDirty()

	skills, err := lib.Select(context.Background(), "referral milestone members", "", 5)
	require.NoError(t, err)

	titles := make([]string, 0, len(skills))
	for _, s := range skills {
		titles = append(titles, s.Title)
	}
	assert.Contains(t, titles, "Referral pushes")
	assert.NotContains(t, titles, "Pricing objections")
}
