package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlbumName(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"Darkthrone - Transilvanian Hunger LP", "Darkthrone"},
		{"Mayhem CD", "Mayhem"},
		{"Emperor EP", "Emperor"},
		{"Burzum / Filosofem Digipak", "Burzum"},
		{"Filosofem Digipak CD", "Filosofem"},
		{"Hvis Lyset Tar Oss Musiccassette", "Hvis Lyset Tar Oss"},
		{"Nattens Madrigal Gatefold LP", "Nattens"},
		{"Under a Funeral Moon", "Under a Funeral Moon"},
		{"  In the Nightside Eclipse  ", "In the Nightside Eclipse"},
		{"De Mysteriis Dom Sathanas - Reissue", "De Mysteriis Dom Sathanas - Reissue"},
		{"Mayhem CD EP", "Mayhem"},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, AlbumName(tc.in))
		})
	}
}

// TestAlbumNameIdempotent ensures a second application changes nothing.
func TestAlbumNameIdempotent(t *testing.T) {
	t.Parallel()

	for _, in := range []string{
		"Pure Holocaust EP CD",
		"Blood Fire Death - Black Vinyl LP + Poster",
		"Demo Tape CD EP",
		"A/B",
		"   ",
	} {
		once := AlbumName(in)
		assert.Equal(t, once, AlbumName(once), in)
	}
}

func TestRulesOrder(t *testing.T) {
	t.Parallel()

	rules := Rules()
	names := make([]string, 0, len(rules))
	for _, r := range rules {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{
		"separator-media-suffix",
		"packaging-suffix",
		"descriptor-media-suffix",
		"trailing-cd",
		"trailing-ep",
	}, names)

	rules[0] = Rule{}
	assert.Equal(t, "separator-media-suffix", Rules()[0].Name, "Rules returns a copy")
}

func TestText(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", Text(""))
	assert.Equal(t, "Caf\u00e9", Text("Cafe\u0301"))
	assert.Equal(t, "12,99 EUR", Text(" 12,99\u00a0EUR\n"))
	assert.Equal(t, "a b", Text("a\t\x00  b"))
}

func FuzzAlbumNameIdempotent(f *testing.F) {
	for _, seed := range []string{
		"Darkthrone - Transilvanian Hunger LP",
		"Mayhem CD",
		"Emperor EP",
		"x / y Tape",
		"",
	} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		once := AlbumName(in)
		if twice := AlbumName(once); twice != once {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	})
}
