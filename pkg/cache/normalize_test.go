package cache

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Summarize the news today", "summarize the news today"},
		{"  summarize THE news today  ", "summarize the news today"},
		{"summarize\tthe\n\nnews   today", "summarize the news today"},
		{"", ""},
		{" \t\n ", ""},
		{"STRASSE", "strasse"},
		{"Straße", "straße"},
		{"ᏣᎳᎩ", "ꮳꮃꭹ"},
		{"ꮳꮃꭹ", "ꮳꮃꭹ"},
		{"Café", "café"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Hello   World",
		"  ÅNGSTRÖM\tunits ",
		"Ǆemal",
		"İstanbul",
		"ΣΊΣΥΦΟΣ",
		"mixed   spaces here",
	}
	for _, s := range inputs {
		once := Normalize(s)
		assert.Equal(t, once, Normalize(once), "input %q", s)
	}
}

func TestNormalizeIdempotentEveryRune(t *testing.T) {
	for r := rune(0); r <= 0x30000; r++ {
		if !utf8.ValidRune(r) {
			continue
		}
		s := string(r)
		once := Normalize(s)
		if twice := Normalize(once); twice != once {
			t.Fatalf("rune %U: Normalize(%q) = %q, Normalize(%q) = %q", r, s, once, once, twice)
		}
	}
}

func TestNormalizeCherokeeCaseInsensitive(t *testing.T) {
	upper := "ᏣᎳᎩ ᎦᏬᏂᎯᏍᏗ"
	lower := "ꮳꮃꭹ ꭶꮼꮒꭿꮝꮧ"
	assert.Equal(t, Normalize(upper), Normalize(lower))
	assert.Equal(t, DeriveKey(Normalize(upper)), DeriveKey(Normalize(lower)))
}

func FuzzNormalize(f *testing.F) {
	for _, seed := range []string{
		"Hello   World",
		"ᏣᎳᎩ",
		"Straße\tİstanbul",
		"ΣΊΣΥΦΟΣ ",
		"e\u0301\u0323",
		"",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, s string) {
		if !utf8.ValidString(s) {
			t.Skip()
		}
		once := Normalize(s)
		require.Equal(t, once, Normalize(once))
		require.Equal(t, strings.TrimSpace(once), once)
		require.NotContains(t, once, "  ")
	})
}

func TestDeriveKey(t *testing.T) {
	a := DeriveKey(Normalize("What is Go?"))
	b := DeriveKey(Normalize("  what IS   go? "))
	c := DeriveKey(Normalize("What is Rust?"))

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	// sha256("")
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", DeriveKey(""))
}
