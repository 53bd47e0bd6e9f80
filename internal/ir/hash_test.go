package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDigestOrderIndependent(t *testing.T) {
	a := Models{
		"Todo": {
			{ID: "a", Data: IRObject{"title": IRString("x")}},
			{ID: "b", Data: IRObject{"title": IRString("y")}},
		},
		"Tag": {{ID: "t1", Data: IRString("red")}},
	}
	b := Models{
		"Tag": {{ID: "t1", Data: IRString("red")}},
		"Todo": {
			{ID: "b", Data: IRObject{"title": IRString("y")}},
			{ID: "a", Data: IRObject{"title": IRString("x")}},
		},
		"Empty": {},
	}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)

	assert.Equal(t, da, db)
	assert.Len(t, da, 64)
}

func TestDigestDetectsChange(t *testing.T) {
	base := Models{"Todo": {{ID: "a", Data: IRObject{"title": IRString("x")}}}}
	changed := Models{"Todo": {{ID: "a", Data: IRObject{"title": IRString("z")}}}}

	d1, err := Digest(base)
	require.NoError(t, err)
	d2, err := Digest(changed)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestDigestEmpty(t *testing.T) {
	d1, err := Digest(nil)
	require.NoError(t, err)
	d2, err := Digest(Models{"Todo": nil})
	require.NoError(t, err)
	assert.Equal(t, d1, d2)
}

func TestHashWithDomainSeparation(t *testing.T) {
	data := []byte(`{}`)
	assert.NotEqual(t, hashWithDomain(DomainModels, data), hashWithDomain("other/v1", data))
}
