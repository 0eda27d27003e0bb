package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupMapValue(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`lookup(properties, "provider") == "sendgrid"`)
	require.NoError(t, err)

	activation := map[string]any{
		VarProperties: map[string]any{"provider": "sendgrid"},
	}
	matched, err := program.EvalBool(activation)
	require.NoError(t, err)
	require.True(t, matched)

	missing, err := env.Compile(`lookup(properties, "missing") == "sendgrid"`)
	require.NoError(t, err)
	matched, err = missing.EvalBool(activation)
	require.NoError(t, err)
	require.False(t, matched, "missing keys resolve to null")
}

func TestCompileValue(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.CompileValue(`input.user_point_id + ":" + properties["suffix"]`)
	require.NoError(t, err)

	result, err := program.Eval(map[string]any{
		VarInput:      map[string]any{"user_point_id": "up-1"},
		VarProperties: map[string]any{"suffix": "vip"},
	})
	require.NoError(t, err)
	require.Equal(t, "up-1:vip", result)

	_, err = program.EvalBool(nil)
	require.Error(t, err, "value programs cannot be evaluated as booleans")
}

func TestCompileRejectsInvalidExpressions(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	tests := map[string]struct {
		expression string
		wantErr    string
	}{
		"blank":       {expression: "  ", wantErr: "expression required"},
		"syntax":      {expression: "input.", wantErr: "compile"},
		"undeclared":  {expression: "request.method == 'GET'", wantErr: "compile"},
		"non boolean": {expression: "1 + 2", wantErr: "must return bool"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := env.Compile(tc.expression)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestMissingBindingsDefaultToEmpty(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	program, err := env.Compile(`size(properties) == 0 && now == 0`)
	require.NoError(t, err)
	ok, err := program.EvalBool(map[string]any{VarInput: map[string]any{}})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestProgramsAreMemoized(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	first, err := env.Compile(`  true `)
	require.NoError(t, err)
	require.Equal(t, "true", first.Source())
	_, err = env.Compile("true")
	require.NoError(t, err)
	_, err = env.CompileValue("true")
	require.NoError(t, err)
	require.Equal(t, 2, env.Cached(), "bool and value compilations are cached separately")
}

func TestEvalJSON(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	tests := map[string]struct {
		expression string
		vars       map[string]any
		want       any
	}{
		"map literal": {
			expression: `{"count": has(state.count) ? state.count + 1.0 : 1.0, "last": input.event}`,
			vars: map[string]any{
				VarState: map[string]any{"count": float64(2)},
				VarInput: map[string]any{"event": "purchase"},
			},
			want: map[string]any{"count": float64(3), "last": "purchase"},
		},
		"missing state starts over": {
			expression: `{"count": has(state.count) ? state.count + 1.0 : 1.0}`,
			want:       map[string]any{"count": float64(1)},
		},
		"ints become numbers": {
			expression: `[1, 2, now]`,
			vars:       map[string]any{VarNow: int64(3)},
			want:       []any{float64(1), float64(2), float64(3)},
		},
		"null": {
			expression: `null`,
			want:       nil,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			program, err := env.CompileValue(tc.expression)
			require.NoError(t, err)
			got, err := program.EvalJSON(tc.vars)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestZeroProgram(t *testing.T) {
	var program Program
	_, err := program.Eval(nil)
	require.Error(t, err)
	_, err = program.EvalJSON(nil)
	require.Error(t, err)
	_, err = program.EvalBool(nil)
	require.Error(t, err)
}
