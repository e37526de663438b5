package timezone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	loc, err := Load(DefaultName, DefaultOffset)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", loc.String())

	at := time.Date(2024, 1, 15, 22, 0, 0, 0, loc)
	assert.Equal(t, 19, at.UTC().Hour())
}

func TestLoadFallsBackToOffset(t *testing.T) {
	loc, err := Load("Mars/Olympus_Mons", 3)
	assert.Error(t, err)
	require.NotNil(t, loc)
	assert.Equal(t, "UTC+3", loc.String())

	loc, err = Load("", -5)
	require.NoError(t, err)
	_, off := time.Date(2024, 7, 1, 12, 0, 0, 0, loc).Zone()
	assert.Equal(t, -5*3600, off)
	assert.Equal(t, "UTC-5", loc.String())

	assert.Equal(t, "UTC", Fixed(0).String())
}
