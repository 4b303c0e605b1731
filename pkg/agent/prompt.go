package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pulsefit/retain/pkg/session"
	"github.com/pulsefit/retain/pkg/tools"
	"github.com/rs/zerolog"
)

// layerSeparator joins prompt layers so each remains visually distinct.
const layerSeparator = "\n\n---\n\n"

// Skill is one piece of selected guidance for the session goal.
type Skill struct {
	Title    string `json:"title"`
	Guidance string `json:"guidance"`
}

// BaseContextSource provides the base operating context text.
type BaseContextSource interface {
	BaseContext(ctx context.Context) (string, error)
}

// StaticBase serves a fixed base context string, typically loaded from
// configuration.
type StaticBase string

func (s StaticBase) BaseContext(ctx context.Context) (string, error) {
	return string(s), nil
}

// SkillSource selects ranked skill guidance for a goal.
type SkillSource interface {
	Select(ctx context.Context, goal, typeHint string, max int) ([]Skill, error)
}

// MemorySource produces an account memory digest.
type MemorySource interface {
	Digest(ctx context.Context, accountID string) (string, error)
}

// Assembler composes the immutable system prompt once, at session creation,
// from five ordered layers. Each content layer is independently best-effort:
// a provider failure omits the layer rather than failing creation.
type Assembler struct {
	Base      BaseContextSource
	Skills    SkillSource
	Memory    MemorySource
	MaxSkills int
	Logger    zerolog.Logger
}

// PromptSpec carries the inputs the assembler needs.
type PromptSpec struct {
	Goal      string
	TypeHint  string
	AccountID string
	Override  string
	Mode      session.Mode
	Tools     []*tools.Definition
}

// Build assembles the system prompt.
func (a *Assembler) Build(ctx context.Context, spec PromptSpec) string {
	maxSkills := a.MaxSkills
	if maxSkills <= 0 {
		maxSkills = 3
	}

	var layers []string

	// Layer 1: base operating context.
	if a.Base != nil {
		base, err := a.Base.BaseContext(ctx)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Base context unavailable, omitting layer")
		} else if base != "" {
			layers = append(layers, base)
		}
	}

	// Layer 2: skill guidance selected for the goal, capped small.
	if a.Skills != nil {
		skills, err := a.Skills.Select(ctx, spec.Goal, spec.TypeHint, maxSkills)
		if err != nil {
			a.Logger.Warn().Err(err).Msg("Skill selection failed, omitting layer")
		} else if len(skills) > 0 {
			var b strings.Builder
			b.WriteString("# Relevant skills\n")
			for _, s := range skills {
				fmt.Fprintf(&b, "\n## %s\n%s\n", s.Title, s.Guidance)
			}
			layers = append(layers, strings.TrimSpace(b.String()))
		}
	}

	// Layer 3: account memory digest.
	if a.Memory != nil && spec.AccountID != "" {
		digest, err := a.Memory.Digest(ctx, spec.AccountID)
		if err != nil {
			a.Logger.Warn().Err(err).Str("account_id", spec.AccountID).Msg("Memory digest failed, omitting layer")
		} else if digest != "" {
			layers = append(layers, "# Account memory\n\n"+digest)
		}
	}

	// Layer 4: optional owner override.
	if strings.TrimSpace(spec.Override) != "" {
		layers = append(layers, "# Owner instructions\n\n"+strings.TrimSpace(spec.Override))
	}

	// Layer 5: generated tool and autonomy instructions.
	layers = append(layers, autonomyInstructions(spec.Mode, spec.Tools))

	return strings.Join(layers, layerSeparator)
}

// autonomyInstructions renders the tool list and the behavioral contract for
// the session's autonomy mode. The text differs materially per mode.
func autonomyInstructions(mode session.Mode, defs []*tools.Definition) string {
	var b strings.Builder

	b.WriteString("# Tools\n\n")
	if len(defs) == 0 {
		b.WriteString("No tools are available this session.\n")
	} else {
		for _, def := range defs {
			fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
		}
	}

	b.WriteString("\n# Operating mode\n\n")
	switch mode {
	case session.ModeFullAuto:
		b.WriteString("You are running unattended. No human is watching this session. " +
			"Work the goal to completion on your own judgment; do not ask the owner " +
			"questions, and when you are done, state a concise summary of what you did. " +
			"Sensitive actions have already been cleared for autonomous use.")
	case session.ModeTurnBased:
		b.WriteString("You are in a turn-by-turn review session. After each of your turns " +
			"the owner reviews what happened before you continue, so keep each turn " +
			"small and narrate what you intend to do next. Sensitive actions require " +
			"the owner's explicit approval before they run.")
	default:
		b.WriteString("You are working alongside an owner who approves sensitive actions. " +
			"Proceed autonomously on safe work, but expect approval pauses on outbound " +
			"messages and similar side effects, and surface anything the owner should " +
			"know. Ask for input only when genuinely blocked.")
	}

	return b.String()
}
