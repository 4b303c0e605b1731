package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandWiring(t *testing.T) {
	names := map[string]bool{}
	for _, c := range GetRootCmd().Commands() {
		names[c.Name()] = true
	}

	for _, want := range []string{"start", "resume", "run", "sessions", "serve"} {
		assert.True(t, names[want], "command %s not registered", want)
	}
}

func TestStartFlags(t *testing.T) {
	assert.NotNil(t, startCmd.Flags().Lookup("mode"))
	assert.NotNil(t, startCmd.Flags().Lookup("budget-cents"))
	assert.NotNil(t, resumeCmd.Flags().Lookup("approve"))
	assert.NotNil(t, resumeCmd.Flags().Lookup("token"))
}
