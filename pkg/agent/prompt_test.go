package agent

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/pulsefit/retain/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBase struct {
	text string
	err  error
}

func (s *stubBase) BaseContext(ctx context.Context) (string, error) { return s.text, s.err }

type stubSkills struct {
	skills []Skill
	err    error
	gotMax int
}

func (s *stubSkills) Select(ctx context.Context, goal, typeHint string, max int) ([]Skill, error) {
	s.gotMax = max
	return s.skills, s.err
}

type stubMemory struct {
	digest string
	err    error
}

func (s *stubMemory) Digest(ctx context.Context, accountID string) (string, error) {
	return s.digest, s.err
}

func testAssembler(base BaseContextSource, skills SkillSource, memory MemorySource) *Assembler {
	return &Assembler{
		Base:   base,
		Skills: skills,
		Memory: memory,
		Logger: zerolog.New(os.Stdout).Level(zerolog.Disabled),
	}
}

func TestAssemblerBuild(t *testing.T) {
	spec := PromptSpec{
		Goal:      "Reduce churn among lapsed members",
		AccountID: "acct-1",
		Mode:      session.ModeSemiAuto,
	}

	t.Run("should join all layers in order", func(t *testing.T) {
		a := testAssembler(
			&stubBase{text: "You help gym owners retain members."},
			&stubSkills{skills: []Skill{{Title: "Win-back outreach", Guidance: "Lead with the member's history."}}},
			&stubMemory{digest: "Owner prefers email over SMS."},
		)

		s := spec
		s.Override = "Never offer more than 10% off."
		prompt := a.Build(context.Background(), s)

		layers := strings.Split(prompt, layerSeparator)
		require.Len(t, layers, 5)
		assert.Equal(t, "You help gym owners retain members.", layers[0])
		assert.Contains(t, layers[1], "Win-back outreach")
		assert.Contains(t, layers[2], "Owner prefers email over SMS.")
		assert.Contains(t, layers[3], "Never offer more than 10% off.")
		assert.Contains(t, layers[4], "# Operating mode")
	})

	t.Run("should omit failed layers without failing the build", func(t *testing.T) {
		a := testAssembler(
			&stubBase{err: errors.New("config missing")},
			&stubSkills{err: errors.New("index offline")},
			&stubMemory{err: errors.New("db locked")},
		)

		prompt := a.Build(context.Background(), spec)

		layers := strings.Split(prompt, layerSeparator)
		require.Len(t, layers, 1)
		assert.Contains(t, layers[0], "# Tools")
	})

	t.Run("should omit empty layers", func(t *testing.T) {
		a := testAssembler(&stubBase{text: ""}, &stubSkills{}, &stubMemory{digest: ""})

		prompt := a.Build(context.Background(), spec)
		assert.Len(t, strings.Split(prompt, layerSeparator), 1)
	})

	t.Run("should cap skill selection", func(t *testing.T) {
		skills := &stubSkills{}
		a := testAssembler(nil, skills, nil)
		a.MaxSkills = 2

		a.Build(context.Background(), spec)
		assert.Equal(t, 2, skills.gotMax)

		a.MaxSkills = 0
		a.Build(context.Background(), spec)
		assert.Equal(t, 3, skills.gotMax)
	})
}

func TestAutonomyInstructions(t *testing.T) {
	full := autonomyInstructions(session.ModeFullAuto, nil)
	semi := autonomyInstructions(session.ModeSemiAuto, nil)
	turn := autonomyInstructions(session.ModeTurnBased, nil)

	assert.Contains(t, full, "unattended")
	assert.Contains(t, semi, "approval pauses")
	assert.Contains(t, turn, "turn-by-turn")

	assert.NotEqual(t, full, semi)
	assert.NotEqual(t, semi, turn)
	assert.NotEqual(t, full, turn)
}
