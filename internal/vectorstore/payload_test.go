package vectorstore

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_ReservedKeysWinOverMetadata(t *testing.T) {
	p := Payload{
		Text:     "hello",
		DocID:    "d1",
		Date:     time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Metadata: map[string]string{"doc_id": "spoofed", "team": "search"},
	}
	m := p.Map()
	assert.Equal(t, "d1", m[KeyDocID])
	assert.Equal(t, "search", m["team"])
	assert.NotContains(t, m, KeyFileName)
}

func TestPayload_SurvivesJSON(t *testing.T) {
	p := Payload{
		Text:           "hello world",
		SourceIdentity: "file://notes.pdf",
		CallName:       "notes",
		DocID:          "d1",
		ChunkID:        2,
		Date:           time.Date(2025, 3, 1, 12, 0, 0, 500, time.UTC),
		TotalChunks:    3,
		FileName:       "notes.pdf",
		FileType:       "pdf",
		Metadata:       map[string]string{"team": "search"},
	}
	raw, err := json.Marshal(p.Map())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	got, err := PayloadFromMap(m)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestPayloadFromMap_BadChunkID(t *testing.T) {
	_, err := PayloadFromMap(map[string]any{KeyChunkID: []int{1}})
	assert.Error(t, err)
}
