package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLocations(t *testing.T) {
	in := "code,name,active\nA-01,Aisle one,\nB-02, Bulk ,false\n"
	locs, err := readLocations(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, locs, 2)

	assert.Equal(t, "A-01", locs[0].Code)
	assert.True(t, locs[0].Active)
	assert.Equal(t, "Bulk", locs[1].Name)
	assert.False(t, locs[1].Active)
	assert.NotEqual(t, locs[0].ID, locs[1].ID)
}

func TestReadLocationsRejectsDuplicates(t *testing.T) {
	_, err := readLocations(strings.NewReader("code,name\nA,x\nA,y\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestReadLocationsRequiresName(t *testing.T) {
	_, err := readLocations(strings.NewReader("code,name\nA\n"))
	require.Error(t, err)
}
