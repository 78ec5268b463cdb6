package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/snip/internal/errx"
)

const testToken = "abababababababababababababababababababababababababababababababab"

func TestDeriveSeed(t *testing.T) {
	seed, err := DeriveSeed(testToken)
	require.NoError(t, err)
	assert.Equal(t, "GSOMtZUm", seed)
	assert.NoError(t, ValidateSeed(seed))

	again, err := DeriveSeed(testToken)
	require.NoError(t, err)
	assert.Equal(t, seed, again, "derivation must be deterministic")

	other, err := DeriveSeed(strings.Repeat("cd", 32))
	require.NoError(t, err)
	assert.NotEqual(t, seed, other)
}

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name  string
		token string
		ok    bool
	}{
		{"canonical", testToken, true},
		{"empty", "", false},
		{"too short", testToken[:63], false},
		{"uppercase", strings.ToUpper(testToken), false},
		{"non hex", strings.Repeat("zz", 32), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateToken(tt.token)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidToken)
			assert.Equal(t, errx.Unauthorized, errx.KindOf(err))
		})
	}
}

func TestValidateSeed(t *testing.T) {
	for _, seed := range []string{"GSOMtZUm", "a-b_c-d1", "--------"} {
		assert.NoError(t, ValidateSeed(seed), seed)
	}
	for _, seed := range []string{"", "short", "toolongseed", "abc+defg", "abc/defg"} {
		assert.ErrorIs(t, ValidateSeed(seed), ErrInvalidSeed, seed)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	for _, plain := range []string{"https://example.com", "", strings.Repeat("x", 16), "https://例え.jp/パス"} {
		ct, err := Encrypt(plain, testToken)
		require.NoError(t, err)
		assert.True(t, IsCiphertext(ct), ct)

		got, err := Decrypt(ct, testToken)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestEncrypt_FreshIV(t *testing.T) {
	a, err := Encrypt("https://example.com", testToken)
	require.NoError(t, err)
	b, err := Encrypt("https://example.com", testToken)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecrypt_Failures(t *testing.T) {
	ct, err := Encrypt("https://example.com/some/long/path", testToken)
	require.NoError(t, err)

	tests := []struct {
		name    string
		value   string
		token   string
		wantErr error
	}{
		{"wrong token", ct, strings.Repeat("cd", 32), ErrDecrypt},
		{"no separator", strings.ReplaceAll(ct, ":", ""), testToken, ErrDecrypt},
		{"truncated body", ct[:len(ct)-2], testToken, ErrDecrypt},
		{"plain url", "https://example.com", testToken, ErrDecrypt},
		{"bad token", ct, "nope", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decrypt(tt.value, tt.token)
			// a wrong key can still unpad into garbage; it must never yield the plaintext
			if err == nil {
				assert.NotEqual(t, "https://example.com/some/long/path", got)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestSign(t *testing.T) {
	sig := Sign("hello", "secret")
	assert.Equal(t, "88aab3ede8d3adf94d26ab90d3bafd4a2083070c3bcce9c014ee04a443847c0b", sig)
	assert.True(t, Verify("hello", sig, "secret"))
	assert.False(t, Verify("hello!", sig, "secret"))
	assert.False(t, Verify("hello", sig, "other"))
	assert.False(t, Verify("hello", "not-hex", "secret"))
}

func TestSignDataRoundTrip(t *testing.T) {
	signed := SignData("a.b.c", "secret")

	data, ok := VerifyAndExtract(signed, "secret")
	require.True(t, ok)
	assert.Equal(t, "a.b.c", data)

	_, ok = VerifyAndExtract(signed, "other")
	assert.False(t, ok)

	_, ok = VerifyAndExtract("nodot", "secret")
	assert.False(t, ok)
}

func TestDecrypt_WrongTokenAlwaysFails(t *testing.T) {
	other := strings.Repeat("cd", 32)
	for i := 0; i < 2000; i++ {
		ct, err := Encrypt("https://example.com/some/path", testToken)
		require.NoError(t, err)
		_, err = Decrypt(ct, other)
		require.ErrorIs(t, err, ErrDecrypt, "iteration %d", i)
	}
}
