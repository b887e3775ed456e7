package clock

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRelative_Success(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		token string
		want  time.Time
	}{
		{"+3d", now.Add(3 * 24 * time.Hour)},
		{"-2h", now.Add(-2 * time.Hour)},
		{"+1w", now.Add(7 * 24 * time.Hour)},
		{"+30m", now.Add(30 * time.Minute)},
		{"-1d", now.Add(-24 * time.Hour)},
	}

	for _, c := range cases {
		got, err := ResolveRelative(c.token, now)
		require.NoError(t, err, c.token)
		assert.Equal(t, c.want, got, c.token)
	}
}

func TestResolveRelative_Invalid(t *testing.T) {
	now := time.Now().UTC()

	for _, token := range []string{"", "3d", "+d", "+3x", "+3", "abc", "+ 3d"} {
		_, err := ResolveRelative(token, now)
		assert.Error(t, err, token)
	}
}

func TestIsRelative(t *testing.T) {
	assert.True(t, IsRelative("+3d"))
	assert.True(t, IsRelative("-12h"))
	assert.False(t, IsRelative("2024-06-01"))
	assert.False(t, IsRelative("true"))
	assert.False(t, IsRelative(""))
}

func TestFake_Advance(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := NewFake(base)

	assert.Equal(t, base, fake.Now())

	fake.Advance(90 * time.Minute)
	assert.Equal(t, base.Add(90*time.Minute), fake.Now())
}

func TestPickWeighted_Distribution(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	choices := []Weighted{
		{Item: "a", Weight: 1},
		{Item: "b", Weight: 0},
		{Item: "c", Weight: 9},
	}

	counts := map[string]int{}
	for i := 0; i < 1000; i++ {
		item, err := PickWeighted(choices, r)
		require.NoError(t, err)
		counts[item]++
	}

	assert.Zero(t, counts["b"])
	assert.Greater(t, counts["c"], counts["a"])
}

func TestPickWeighted_Invalid(t *testing.T) {
	r := rand.New(rand.NewSource(1))

	_, err := PickWeighted(nil, r)
	assert.Error(t, err)

	_, err = PickWeighted([]Weighted{{Item: "a", Weight: 0}}, r)
	assert.Error(t, err)

	_, err = PickWeighted([]Weighted{{Item: "a", Weight: -1}}, r)
	assert.Error(t, err)
}
