package obfuscate_test

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifcvalidation/internal/obfuscate"
)

var allKinds = []obfuscate.Kind{
	obfuscate.Model, obfuscate.Instance, obfuscate.Request,
	obfuscate.Task, obfuscate.Outcome, obfuscate.ActorKind,
}

func TestEncodeKnownValues(t *testing.T) {
	o := obfuscate.Default()
	cases := []struct {
		kind obfuscate.Kind
		id   int64
		want string
	}{
		{obfuscate.Request, 0, "r0"},
		{obfuscate.Request, 1, "r383446691"},
		{obfuscate.Model, 2, "m766893382"},
		{obfuscate.Task, 3, "t150340073"},
	}
	for _, tc := range cases {
		got, err := o.Encode(tc.kind, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		kind, id, err := o.Decode(got)
		require.NoError(t, err)
		assert.Equal(t, tc.kind, kind)
		assert.Equal(t, tc.id, id)
	}
}

func TestRoundTripSampled(t *testing.T) {
	o := obfuscate.Default()
	rng := rand.New(rand.NewSource(42))
	ids := []int64{0, 1, 999_999_999, 500_000_000}
	for i := 0; i < 2000; i++ {
		ids = append(ids, rng.Int63n(int64(obfuscate.DefaultModulus)))
	}
	for _, k := range allKinds {
		for _, id := range ids {
			public, err := o.Encode(k, id)
			require.NoError(t, err)
			got, err := o.DecodeAs(k, public)
			require.NoError(t, err)
			if got != id {
				t.Fatalf("round trip %v %d -> %s -> %d", k, id, public, got)
			}
		}
	}
}

func TestBijectionSmallModulus(t *testing.T) {
	o, err := obfuscate.New(1000, 7)
	require.NoError(t, err)
	seen := make(map[string]int64, 1000)
	for id := int64(0); id < 1000; id++ {
		public, err := o.Encode(obfuscate.Outcome, id)
		require.NoError(t, err)
		if prev, dup := seen[public]; dup {
			t.Fatalf("ids %d and %d both encode to %s", prev, id, public)
		}
		seen[public] = id
		back, err := o.DecodeAs(obfuscate.Outcome, public)
		require.NoError(t, err)
		require.Equal(t, id, back)
	}
}

func TestEncodeRejectsOutOfDomain(t *testing.T) {
	o := obfuscate.Default()
	_, err := o.Encode(obfuscate.Model, -1)
	assert.ErrorIs(t, err, obfuscate.ErrInvalidArgument)
	_, err = o.Encode(obfuscate.Model, int64(obfuscate.DefaultModulus))
	assert.ErrorIs(t, err, obfuscate.ErrInvalidArgument)
	_, err = o.Encode(obfuscate.Kind('z'), 1)
	assert.ErrorIs(t, err, obfuscate.ErrInvalidArgument)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	o := obfuscate.Default()
	for _, in := range []string{
		"", "r", "z123", "r12a", "r-1", "r 12", "r1000000000", "r99999999999999999999999", "r007",
	} {
		_, _, err := o.Decode(in)
		assert.ErrorIs(t, err, obfuscate.ErrDecode, "input %q", in)
	}
}

func TestDecodeAsChecksKind(t *testing.T) {
	o := obfuscate.Default()
	public, err := o.Encode(obfuscate.Model, 12)
	require.NoError(t, err)
	_, err = o.DecodeAs(obfuscate.Request, public)
	assert.ErrorIs(t, err, obfuscate.ErrDecode)
}

func TestNewRejectsNonCoprimeSecret(t *testing.T) {
	_, err := obfuscate.New(1_000_000_000, 2)
	assert.ErrorIs(t, err, obfuscate.ErrInvalidArgument)
	_, err = obfuscate.New(1_000_000_000, 0)
	assert.ErrorIs(t, err, obfuscate.ErrInvalidArgument)
	_, err = obfuscate.New(1, 1)
	assert.ErrorIs(t, err, obfuscate.ErrInvalidArgument)
}

func TestParseKind(t *testing.T) {
	k, err := obfuscate.ParseKind("r")
	require.NoError(t, err)
	assert.Equal(t, obfuscate.Request, k)
	k, err = obfuscate.ParseKind("validation_task")
	require.NoError(t, err)
	assert.Equal(t, obfuscate.Task, k)
	_, err = obfuscate.ParseKind("nope")
	assert.ErrorIs(t, err, obfuscate.ErrInvalidArgument)
}

func TestCatalogKinds(t *testing.T) {
	o := obfuscate.Default()
	for _, k := range []obfuscate.Kind{obfuscate.Company, obfuscate.Tool} {
		public, err := o.Encode(k, 1)
		require.NoError(t, err)
		assert.Equal(t, string(rune(k))+"383446691", public)
		id, err := o.DecodeAs(k, public)
		require.NoError(t, err)
		assert.Equal(t, int64(1), id)
	}
	k, err := obfuscate.ParseKind("authoring_tool")
	require.NoError(t, err)
	assert.Equal(t, obfuscate.Tool, k)
	_, err = o.DecodeAs(obfuscate.Company, "a383446691")
	assert.ErrorIs(t, err, obfuscate.ErrDecode)
}
