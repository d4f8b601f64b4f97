package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Null compared with any operator yields false, both ways. A missing field
// must never trigger a rule, not even through !=.
func TestCompareNullAbsorption(t *testing.T) {
	t.Parallel()

	operands := []Value{
		Null(),
		Bool(true),
		Number(1500),
		String("US"),
		List(Number(1)),
		Object(map[string]Value{"a": Number(1)}),
	}
	for _, op := range CompareOps {
		for _, v := range operands {
			assert.False(t, Compare(Null(), op, v), "null %s %s", op, v)
			assert.False(t, Compare(v, op, Null()), "%s %s null", v, op)
		}
	}
}

func TestCompare(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    Value
		op   CompareOp
		b    Value
		want bool
	}{
		{"eqNumber", Number(1), OpEq, Number(1), true},
		{"eqKindMismatch", Number(1), OpEq, String("1"), false},
		{"neNumber", Number(1), OpNe, Number(2), true},
		{"gtNumber", Number(2), OpGt, Number(1), true},
		{"geEqual", Number(2), OpGe, Number(2), true},
		{"ltString", String("a"), OpLt, String("b"), true},
		{"leString", String("b"), OpLe, String("a"), false},
		{"orderedKindMismatch", Number(1), OpGt, String("a"), false},
		{"orderedBool", Bool(true), OpGt, Bool(false), false},
		{"inList", String("XX"), OpIn, List(String("XX"), String("YY")), true},
		{"inListMiss", String("ZZ"), OpIn, List(String("XX")), false},
		{"notInList", String("ZZ"), OpNotIn, List(String("XX")), true},
		{"inString", String("ev"), OpIn, String("device"), true},
		{"inObjectKey", String("country"), OpIn, Object(map[string]Value{"country": Null()}), true},
		{"stringContains", String("new_device"), OpContains, String("device"), true},
		{"listContains", List(String("fraud"), String("velocity")), OpContains, String("fraud"), true},
		{"startsWith", String("tx_123"), OpStartsWith, String("tx_"), true},
		{"endsWith", String("tx_123"), OpEndsWith, String("123"), true},
		{"endsWithMiss", String("tx_123"), OpEndsWith, String("tx_"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, Compare(tc.a, tc.op, tc.b))
		})
	}
}

func TestArith(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a    Value
		op   ArithOp
		b    Value
		want Value
	}{
		{"add", Number(1), OpAdd, Number(2), Number(3)},
		{"sub", Number(5), OpSub, Number(2), Number(3)},
		{"mul", Number(4), OpMul, Number(2.5), Number(10)},
		{"div", Number(9), OpDiv, Number(3), Number(3)},
		{"mod", Number(9), OpMod, Number(4), Number(1)},
		{"concat", String("tx_"), OpAdd, String("123"), String("tx_123")},
		{"nullLeft", Null(), OpAdd, Number(1), Null()},
		{"nullRight", Number(1), OpMul, Null(), Null()},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Arith(tc.a, tc.op, tc.b)
			require.NoError(t, err)
			assert.True(t, got.Equal(tc.want), "got %s, want %s", got, tc.want)
		})
	}
}

func TestArithDivisionByZero(t *testing.T) {
	t.Parallel()

	_, err := Arith(Number(1), OpDiv, Number(0))
	require.ErrorIs(t, err, ErrDivisionByZero)

	_, err = Arith(Number(1), OpMod, Number(0))
	require.ErrorIs(t, err, ErrDivisionByZero)
}

func TestArithTypeError(t *testing.T) {
	t.Parallel()

	_, err := Arith(String("a"), OpSub, Number(1))
	var typeErr *TypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "-", typeErr.Op)
	assert.Equal(t, KindString, typeErr.Left)
	assert.Equal(t, KindNumber, typeErr.Right)
}
