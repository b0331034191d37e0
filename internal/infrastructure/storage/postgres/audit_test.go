package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditCompressesLargePayloads(t *testing.T) {
	s, err := NewAuditService(nil)
	require.NoError(t, err)

	small := []byte(`{"quantity":3}`)
	changes, compressed, algo := s.encode(small)
	assert.Equal(t, CompressionNone, algo)
	assert.Nil(t, compressed)
	assert.JSONEq(t, string(small), string(changes))

	large := []byte(`{"notes":"` + strings.Repeat("pallet ", 4000) + `"}`)
	changes, compressed, algo = s.encode(large)
	assert.Equal(t, CompressionZstd, algo)
	assert.Nil(t, changes)
	assert.Less(t, len(compressed), len(large))

	row := AuditRecord{EntityType: "movement", Action: "receive", ChangesCompressed: compressed, CompressionAlgo: algo}
	entry, err := s.toEntry(&row)
	require.NoError(t, err)
	assert.Equal(t, string(large), string(entry.Changes))
	assert.Equal(t, "receive", entry.Action)
	assert.Nil(t, row.ChangesCompressed)
}
