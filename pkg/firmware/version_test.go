package firmware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	v, ok := Parse("v1.2.3")
	require.True(t, ok)
	assert.Equal(t, Version{Major: 1, Minor: 2, Patch: 3}, v)
}

func TestParseDefaultsMinorPatch(t *testing.T) {
	v, ok := Parse("5")
	require.True(t, ok)
	assert.Equal(t, Version{Major: 5}, v)

	v, ok = Parse("5.1")
	require.True(t, ok)
	assert.Equal(t, Version{Major: 5, Minor: 1}, v)
}

func TestParseLabelAndNum(t *testing.T) {
	v, ok := Parse("2.0.0RC3")
	require.True(t, ok)
	assert.Equal(t, Version{Major: 2, Minor: 0, Patch: 0, Label: "rc", Num: 3}, v)
}

func TestParseLabelDefaultsNum(t *testing.T) {
	v, ok := Parse("1beta")
	require.True(t, ok)
	assert.Equal(t, Version{Major: 1, Label: "beta"}, v)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, ok := Parse("not-a-version")
	assert.False(t, ok)

	_, ok = Parse("")
	assert.False(t, ok)
}

func TestLessMajorMinorPatch(t *testing.T) {
	a, _ := Parse("1.2.3")
	b, _ := Parse("1.2.4")
	assert.True(t, Less(a, b))
	assert.False(t, Less(b, a))
}

func TestLessLabelRank(t *testing.T) {
	release, _ := Parse("1.0.0")
	rc, _ := Parse("1.0.0rc1")
	beta, _ := Parse("1.0.0beta1")
	alpha, _ := Parse("1.0.0alpha1")
	dev, _ := Parse("1.0.0dev1")

	assert.True(t, Less(rc, release))
	assert.True(t, Less(beta, rc))
	assert.True(t, Less(alpha, beta))
	assert.False(t, Less(alpha, dev))
	assert.False(t, Less(dev, alpha))
}

func TestLessLabelNumTiebreak(t *testing.T) {
	rc1, _ := Parse("1.0.0rc1")
	rc2, _ := Parse("1.0.0rc2")
	assert.True(t, Less(rc1, rc2))
}

func TestCompareUnparseableSortsFirst(t *testing.T) {
	assert.Equal(t, -1, Compare("garbage", "1.0.0"))
	assert.Equal(t, 1, Compare("1.0.0", "garbage"))
	assert.Equal(t, 0, Compare("garbage", "also-garbage"))
	assert.Equal(t, 0, Compare("1.0.0", "1.0.0"))
}

func TestMax(t *testing.T) {
	versions := []Version{}
	for _, s := range []string{"1.0.0", "2.1.0", "2.1.0rc1", "1.9.9"} {
		v, ok := Parse(s)
		require.True(t, ok)
		versions = append(versions, v)
	}
	best, ok := Max(versions)
	require.True(t, ok)
	assert.Equal(t, Version{Major: 2, Minor: 1, Patch: 0}, best)
}

func TestMaxEmpty(t *testing.T) {
	_, ok := Max(nil)
	assert.False(t, ok)
}
