package jsonstream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertValueEqual(t *testing.T, want, got *Value) {
	t.Helper()
	require.Equal(t, want.Kind, got.Kind)
	switch want.Kind {
	case KindBool:
		assert.Equal(t, want.Bool, got.Bool)
	case KindNumber:
		assert.InDelta(t, want.Num, got.Num, 1e-9)
	case KindString:
		assert.Equal(t, want.Str, got.Str)
	case KindObject:
		require.Equal(t, len(want.Obj), len(got.Obj))
		for k, v := range want.Obj {
			gv, ok := got.Obj[k]
			require.True(t, ok, "missing key %s", k)
			assertValueEqual(t, v, gv)
		}
	}
}

func parseBothWays(t *testing.T, raw string) *Value {
	t.Helper()
	viaStream, err := ParseStream(raw)
	require.NoError(t, err)

	p := New()
	for _, c := range raw {
		require.NoError(t, p.AddChar(c))
	}
	assertValueEqual(t, viaStream, p.Result())
	return p.Result()
}

func TestParser_Scalars(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want *Value
	}{
		{"null", `null`, newNull()},
		{"true", `true`, newBool(true)},
		{"false", `false`, newBool(false)},
		{"empty string", `""`, newString("")},
		{"single char string", `"a"`, newString("a")},
		{"string with spaces", `"a b c"`, newString("a b c")},
		{"string with trailing space", `"a b c "`, newString("a b c ")},
		{"string with leading space", `" a b c"`, newString(" a b c")},
		{"number", `1234567890`, newNumber(1234567890)},
		{"single digit", `1`, newNumber(1)},
		{"number leading space", ` 1234567890`, newNumber(1234567890)},
		{"number trailing space", `1234567890 `, newNumber(1234567890)},
		{"negative number", `-1234567890`, newNumber(-1234567890)},
		{"negative single digit", `-1`, newNumber(-1)},
		{"zero", `0`, newNumber(0)},
		{"float", `123.456`, newNumber(123.456)},
		{"negative float", `-123.456`, newNumber(-123.456)},
		{"escaped quotes", `"he said \"hello\""`, newString(`he said "hello"`)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseBothWays(t, tc.raw)
			assertValueEqual(t, tc.want, got)
		})
	}
}

func TestParser_ObjectSingleKeyValue(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want *Value
	}{
		{"null", `null`, newNull()},
		{"true", `true`, newBool(true)},
		{"number", `42`, newNumber(42)},
		{"float", `1.5`, newNumber(1.5)},
		{"string", `"hi"`, newString("hi")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw := fmt.Sprintf(`{"key": %s}`, tc.raw)
			want := newObject()
			want.Obj["key"] = tc.want

			got := parseBothWays(t, raw)
			assertValueEqual(t, want, got)
		})
	}
}

func TestParser_ObjectMultipleKeyValue(t *testing.T) {
	raw := `{"key1": 1, "key2": "two"}`
	want := newObject()
	want.Obj["key1"] = newNumber(1)
	want.Obj["key2"] = newString("two")

	got := parseBothWays(t, raw)
	assertValueEqual(t, want, got)
}

func TestParser_ObjectWithBlanksAndNewlines(t *testing.T) {
	raw := "{ \n  \"key1\": 1 , \n   \"key2\": 2 \n}"
	want := newObject()
	want.Obj["key1"] = newNumber(1)
	want.Obj["key2"] = newNumber(2)

	got := parseBothWays(t, raw)
	assertValueEqual(t, want, got)
}

func TestParser_EscapedQuotesInKeyAndValue(t *testing.T) {
	raw := `{"key with \"quotes\"": "value with \"quotes\""}`
	want := newObject()
	want.Obj[`key with "quotes"`] = newString(`value with "quotes"`)

	got := parseBothWays(t, raw)
	assertValueEqual(t, want, got)
}

func TestParser_PartialReadIsConsistentAtEveryPrefix(t *testing.T) {
	raw := `{"key1": 1, "key2": "two"}`
	p := New()
	for _, c := range raw {
		err := p.AddChar(c)
		require.NoError(t, err)
		// Every intermediate state must stay a well-formed Value: the
		// object is always valid to read even mid-stream.
		assert.Equal(t, KindObject, p.Result().Kind)
	}
}
