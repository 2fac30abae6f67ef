package vectorstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Payload keys as stored in the index.
const (
	KeyText        = "text"
	KeyURL         = "url"
	KeyCallName    = "call_name"
	KeyDocID       = "doc_id"
	KeyChunkID     = "chunk_id"
	KeyDate        = "date"
	KeyTotalChunks = "total_chunks"
	KeyFileName    = "file_name"
	KeyFileType    = "file_type"
)

var reservedKeys = map[string]bool{
	KeyText: true, KeyURL: true, KeyCallName: true, KeyDocID: true, KeyChunkID: true,
	KeyDate: true, KeyTotalChunks: true, KeyFileName: true, KeyFileType: true,
}

// IsReservedKey reports whether key is owned by the pipeline and cannot be
// set through caller metadata.
func IsReservedKey(key string) bool { return reservedKeys[key] }

// Payload is the metadata stored alongside each vector. SourceIdentity is
// persisted under the "url" key for both web pages and file:// identities.
type Payload struct {
	Text           string
	SourceIdentity string
	CallName       string
	DocID          string
	ChunkID        int
	Date           time.Time
	TotalChunks    int
	FileName       string
	FileType       string
	Metadata       map[string]string
}

// Map flattens the payload into index fields. Metadata entries are written
// first so that reserved keys always carry pipeline values.
func (p Payload) Map() map[string]any {
	m := make(map[string]any, len(p.Metadata)+9)
	for k, v := range p.Metadata {
		m[k] = v
	}
	m[KeyText] = p.Text
	m[KeyURL] = p.SourceIdentity
	m[KeyCallName] = p.CallName
	m[KeyDocID] = p.DocID
	m[KeyChunkID] = p.ChunkID
	m[KeyDate] = p.Date.UTC().Format(time.RFC3339Nano)
	m[KeyTotalChunks] = p.TotalChunks
	if p.FileName != "" {
		m[KeyFileName] = p.FileName
	}
	if p.FileType != "" {
		m[KeyFileType] = p.FileType
	}
	return m
}

// PayloadFromMap reverses Map. Unknown keys land in Metadata.
func PayloadFromMap(m map[string]any) (Payload, error) {
	var p Payload
	for k, v := range m {
		switch k {
		case KeyText:
			p.Text = asString(v)
		case KeyURL:
			p.SourceIdentity = asString(v)
		case KeyCallName:
			p.CallName = asString(v)
		case KeyDocID:
			p.DocID = asString(v)
		case KeyFileName:
			p.FileName = asString(v)
		case KeyFileType:
			p.FileType = asString(v)
		case KeyChunkID:
			n, err := asInt(v)
			if err != nil {
				return Payload{}, fmt.Errorf("decoding %s: %w", k, err)
			}
			p.ChunkID = n
		case KeyTotalChunks:
			n, err := asInt(v)
			if err != nil {
				return Payload{}, fmt.Errorf("decoding %s: %w", k, err)
			}
			p.TotalChunks = n
		case KeyDate:
			s := asString(v)
			if s == "" {
				continue
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return Payload{}, fmt.Errorf("decoding %s: %w", k, err)
			}
			p.Date = t
		default:
			if p.Metadata == nil {
				p.Metadata = make(map[string]string)
			}
			p.Metadata[k] = asString(v)
		}
	}
	return p, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func asInt(v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		return int(n), err
	case string:
		return strconv.Atoi(t)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
