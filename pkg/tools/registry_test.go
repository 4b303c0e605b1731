package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoTool(name string) Definition {
	return Definition{
		Name:        name,
		Description: "Echo a value back",
		Parameters: []Parameter{
			{Name: "value", Type: "string", Description: "Value to echo", Required: true},
		},
		Approval: AutoApprove(),
		Handler: func(ctx context.Context, input map[string]interface{}, tc *Context) (interface{}, error) {
			return input["value"], nil
		},
	}
}

func TestRegister(t *testing.T) {
	t.Run("should reject incomplete definitions", func(t *testing.T) {
		r := NewRegistry()
		assert.Error(t, r.Register(Definition{Description: "x", Handler: func(ctx context.Context, input map[string]interface{}, tc *Context) (interface{}, error) { return nil, nil }}))
		assert.Error(t, r.Register(Definition{Name: "x", Handler: func(ctx context.Context, input map[string]interface{}, tc *Context) (interface{}, error) { return nil, nil }}))
		assert.Error(t, r.Register(Definition{Name: "x", Description: "x"}))
	})

	t.Run("should reject duplicates", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoTool("echo")))
		assert.Error(t, r.Register(echoTool("echo")))
	})

	t.Run("should list in name order", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(echoTool("zebra")))
		require.NoError(t, r.Register(echoTool("alpha")))

		defs := r.List()
		require.Len(t, defs, 2)
		assert.Equal(t, "alpha", defs[0].Name)
		assert.Equal(t, "zebra", defs[1].Name)
	})
}

func TestExecute(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))
	require.NoError(t, r.Register(Definition{
		Name:        "boom",
		Description: "Always panics",
		Approval:    AutoApprove(),
		Handler: func(ctx context.Context, input map[string]interface{}, tc *Context) (interface{}, error) {
			panic("kaboom")
		},
	}))
	require.NoError(t, r.Register(Definition{
		Name:        "fail",
		Description: "Always errors",
		Approval:    AutoApprove(),
		Handler: func(ctx context.Context, input map[string]interface{}, tc *Context) (interface{}, error) {
			return nil, errors.New("backend offline")
		},
	}))

	ctx := context.Background()

	t.Run("should execute and stringify", func(t *testing.T) {
		res := r.Execute(ctx, "echo", map[string]interface{}{"value": "hi"}, nil)
		assert.False(t, res.IsError)
		assert.Equal(t, "hi", res.Content)
	})

	t.Run("should surface unknown tools as error results", func(t *testing.T) {
		res := r.Execute(ctx, "missing", nil, nil)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content, "tool not found")
	})

	t.Run("should validate required parameters", func(t *testing.T) {
		res := r.Execute(ctx, "echo", map[string]interface{}{}, nil)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content, "invalid input")
	})

	t.Run("should convert handler errors to error results", func(t *testing.T) {
		res := r.Execute(ctx, "fail", nil, nil)
		assert.True(t, res.IsError)
		assert.Equal(t, "backend offline", res.Content)
	})

	t.Run("should recover from panics", func(t *testing.T) {
		res := r.Execute(ctx, "boom", nil, nil)
		assert.True(t, res.IsError)
		assert.Contains(t, res.Content, "panicked")
	})
}

func TestApprovalPolicy(t *testing.T) {
	t.Run("static policies", func(t *testing.T) {
		assert.False(t, AutoApprove().RequiresApproval(nil, nil))
		assert.True(t, RequireApproval().RequiresApproval(nil, nil))
	})

	t.Run("predicate policy sees input and context", func(t *testing.T) {
		policy := ApproveWhen(func(input map[string]interface{}, tc *Context) bool {
			amount, _ := input["amount_cents"].(float64)
			return amount > 2000
		})

		assert.False(t, policy.RequiresApproval(map[string]interface{}{"amount_cents": float64(500)}, nil))
		assert.True(t, policy.RequiresApproval(map[string]interface{}{"amount_cents": float64(5000)}, nil))
	})

	t.Run("zero value requires approval", func(t *testing.T) {
		var policy ApprovalPolicy
		assert.True(t, policy.RequiresApproval(nil, nil))
	})
}
