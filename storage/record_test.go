package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordJSON(t *testing.T) {
	type entry struct {
		ID     string `json:"id"`
		Action string `json:"action"`
	}
	rec, err := EncodeJSON(entry{ID: "1", Action: "client_issued"}, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Ver)
	assert.Equal(t, SchemeJSON, rec.Scheme)
	assert.Equal(t, uint64(3), rec.Version)

	var got entry
	require.NoError(t, DecodeJSON(rec, &got))
	assert.Equal(t, "client_issued", got.Action)

	bad := rec.Clone()
	bad.Scheme = "aes256gcm"
	assert.Error(t, DecodeJSON(bad, &got))
	bad.Scheme = SchemeJSON
	bad.Ver = 2
	assert.Error(t, DecodeJSON(bad, &got))
}

func TestRecordClone(t *testing.T) {
	rec := &Record{Ver: 1, Scheme: SchemeJSON, Data: []byte("{}"), Version: 1}
	cp := rec.Clone()
	cp.Data[0] = 'X'
	assert.Equal(t, byte('{'), rec.Data[0])
	assert.Nil(t, (*Record)(nil).Clone())
}
