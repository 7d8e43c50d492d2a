package core_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workflowci/internal/core"
)

func exprContext(headRef string) *core.ExprContext {
	return &core.ExprContext{Contexts: map[string]any{
		"github": map[string]any{
			"event_name": "pull_request",
			"head_ref":   headRef,
			"event":      map[string]any{"action": "opened"},
		},
		"env": map[string]any{"RUST_BACKTRACE": "short", "CARGO_INCREMENTAL": "0"},
		"steps": map[string]any{
			"build": map[string]any{"outcome": "success"},
			"test":  map[string]any{"outcome": "failure"},
		},
	}}
}

func TestExprEval(t *testing.T) {
	ctx := exprContext("ci-parser")

	for src, want := range map[string]any{
		"startsWith(github.head_ref, 'ci-')":           true,
		"startsWith(github.head_ref, 'CI-')":           true,
		"${{ startsWith(github.head_ref, 'ci-') }}":    true,
		"endsWith(github.head_ref, 'parser')":          true,
		"contains(github.head_ref, 'PARS')":            true,
		"github.event_name == 'PULL_REQUEST'":          true,
		"github.event_name != 'push'":                  true,
		"github.event.action":                          "opened",
		"github['head_ref']":                           "ci-parser",
		"GITHUB.HEAD_REF":                              "ci-parser",
		"github.missing.deeper":                        nil,
		"env.CARGO_INCREMENTAL == 0":                   true,
		"env.CARGO_INCREMENTAL < 1":                    true,
		"!startsWith(github.head_ref, 'feature/')":     true,
		"github.head_ref && 'yes' || 'no'":             "yes",
		"format('{0}-{1}', env.RUST_BACKTRACE, 1.5)":   "short-1.5",
		"format('{{literal}} {0}', 'x')":               "{literal} x",
		"(1 < 2) && (2 <= 2) && (3 > 2) && (3 >= 4)":   false,
		"null == null":                                 true,
		"'abc' < 'ABD'":                                true,
		"0x10 == 16":                                   true,
		"contains(steps.*.outcome, 'failure')":         true,
		"contains(steps.*.outcome, 'cancelled')":       false,
		"steps.*.outcome[0]":                           "success",
	} {
		t.Run(src, func(t *testing.T) {
			expr, err := core.ParseExpr(src)
			require.NoError(t, err)

			got, err := expr.Eval(ctx)

			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestExprParseErrors(t *testing.T) {
	for _, src := range []string{
		"startsWith(github.head_ref, 'ci-'",
		"github.",
		"unknownFn()",
		"'unterminated",
		"a == ",
		"1 2",
		"",
		"github.head_ref ==",
	} {
		t.Run(src, func(t *testing.T) {
			_, err := core.ParseExpr(src)
			require.ErrorIs(t, err, core.ErrExpression)
		})
	}
}

func TestExprArgumentErrors(t *testing.T) {
	expr, err := core.ParseExpr("startsWith('a')")
	require.NoError(t, err)

	_, err = expr.Eval(exprContext(""))

	require.ErrorIs(t, err, core.ErrExpression)
}
