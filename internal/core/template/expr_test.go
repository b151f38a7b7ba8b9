package template

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/coalton-labs/ledgerd/internal/ledgererr"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestEvaluateArithmetic(t *testing.T) {
	env := Env{"amount": dec("100"), "rate": dec("0.13")}

	cases := []struct {
		src  string
		want string
	}{
		{"amount", "100"},
		{"amount * rate", "13"},
		{"amount * (1 + rate)", "113"},
		{"round(amount * rate, 2)", "13"},
		{"round(amount / 3, 2)", "33.33"},
		{"abs(0 - amount)", "100"},
		{"-amount + 150", "50"},
		{"if(amount > 50, amount, 0)", "100"},
		{"if(amount > 500, amount, 1)", "1"},
		{"if(amount >= 100 and rate < 1, 1, 0)", "1"},
		{"if(amount = 100 or rate > 9, 7, 0)", "7"},
		{"if(amount != 100, 1, 2)", "2"},
	}
	for _, tc := range cases {
		got, err := Evaluate(tc.src, env)
		require.NoError(t, err, tc.src)
		require.True(t, got.Equal(dec(tc.want)), "%s => %s, want %s", tc.src, got, tc.want)
	}
}

func TestEvaluateErrors(t *testing.T) {
	env := Env{"amount": dec("100")}

	for _, src := range []string{
		"amount +",            // dangling operator
		"unknown_fn(amount)",  // not whitelisted
		"amount > 50",         // bare boolean result
		"missing_field * 2",   // unbound identifier
		"amount / 0",          // division by zero
		"(amount",             // unclosed paren
		"round(amount)",       // arity
	} {
		_, err := Evaluate(src, env)
		require.Error(t, err, src)
		require.Equal(t, ledgererr.CodeTemplateInvalid, ledgererr.CodeOf(err), src)
	}
}

func TestParseOnceEvalMany(t *testing.T) {
	expr, err := Parse("round(amount * rate, 2)")
	require.NoError(t, err)

	got, err := expr.Eval(Env{"amount": dec("200"), "rate": dec("0.06")})
	require.NoError(t, err)
	require.True(t, got.Equal(dec("12")))

	got, err = expr.Eval(Env{"amount": dec("17"), "rate": dec("0.13")})
	require.NoError(t, err)
	require.True(t, got.Equal(dec("2.21")))
}
