package btpwire

import (
	"bytes"
	"reflect"
	"testing"
)

// TestParseSideData asserts the flat to structured mapping: the ilp entry
// lands in Ilp, everything else in Custom decoded by content type, and Map
// preserves every entry.
func TestParseSideData(t *testing.T) {
	t.Parallel()

	entries := []ProtocolData{
		{
			Name:        "ilp",
			ContentType: ContentTypeOctetStream,
			Data:        []byte{0xde, 0xad},
		},
		{
			Name:        "memo",
			ContentType: ContentTypeTextPlain,
			Data:        []byte("hello"),
		},
		{
			Name:        "info",
			ContentType: ContentTypeJSON,
			Data:        []byte(`{"prefix":"g.crypto."}`),
		},
		{
			Name:        "blob",
			ContentType: ContentTypeOctetStream,
			Data:        []byte{0x01},
		},
	}

	data, err := ParseSideData(entries)
	if err != nil {
		t.Fatalf("unable to parse side data: %v", err)
	}

	if !bytes.Equal(data.Ilp, []byte{0xde, 0xad}) {
		t.Fatalf("ilp entry not extracted: %x", data.Ilp)
	}
	if _, ok := data.Custom["ilp"]; ok {
		t.Fatalf("ilp entry leaked into custom data")
	}

	if memo, ok := data.Custom["memo"].(string); !ok || memo != "hello" {
		t.Fatalf("text entry decoded wrong: %v", data.Custom["memo"])
	}
	info, ok := data.Custom["info"].(map[string]interface{})
	if !ok || info["prefix"] != "g.crypto." {
		t.Fatalf("json entry decoded wrong: %v", data.Custom["info"])
	}
	if blob, ok := data.Custom["blob"].([]byte); !ok ||
		!bytes.Equal(blob, []byte{0x01}) {

		t.Fatalf("octet entry decoded wrong: %v", data.Custom["blob"])
	}

	if len(data.Map) != 4 {
		t.Fatalf("map should preserve all entries, has %d",
			len(data.Map))
	}
	if !bytes.Equal(data.Map["ilp"], []byte{0xde, 0xad}) {
		t.Fatalf("map lost the ilp entry")
	}
}

// TestParseSideDataBadJSON asserts malformed JSON entries are rejected.
func TestParseSideDataBadJSON(t *testing.T) {
	t.Parallel()

	_, err := ParseSideData([]ProtocolData{{
		Name:        "info",
		ContentType: ContentTypeJSON,
		Data:        []byte(`{`),
	}})
	if err == nil {
		t.Fatalf("expected error for malformed json entry")
	}
}

// TestMarshalSideData asserts the structured to flat mapping: the ilp entry
// comes first as an octet stream, vouch is forced to octet stream, strings
// become text and other values JSON.
func TestMarshalSideData(t *testing.T) {
	t.Parallel()

	entries, err := MarshalSideData([]byte{0xbe, 0xef},
		map[string]interface{}{
			"memo":  "hi",
			"vouch": "example.alice",
			"raw":   []byte{0x02},
			"meta":  map[string]interface{}{"n": float64(1)},
		})
	if err != nil {
		t.Fatalf("unable to marshal side data: %v", err)
	}

	if entries[0].Name != "ilp" ||
		entries[0].ContentType != ContentTypeOctetStream {

		t.Fatalf("ilp entry must lead as octet stream, got %v",
			entries[0])
	}

	byName := make(map[string]ProtocolData)
	for _, entry := range entries {
		byName[entry.Name] = entry
	}

	if byName["memo"].ContentType != ContentTypeTextPlain {
		t.Fatalf("string entry should be text, got %v",
			byName["memo"].ContentType)
	}
	if byName["vouch"].ContentType != ContentTypeOctetStream {
		t.Fatalf("vouch must always be octet stream, got %v",
			byName["vouch"].ContentType)
	}
	if byName["raw"].ContentType != ContentTypeOctetStream {
		t.Fatalf("byte entry should be octet stream")
	}
	if byName["meta"].ContentType != ContentTypeJSON {
		t.Fatalf("composite entry should be json")
	}

	// The mapping should survive a round trip through ParseSideData.
	data, err := ParseSideData(entries)
	if err != nil {
		t.Fatalf("unable to parse marshalled entries: %v", err)
	}
	if !bytes.Equal(data.Ilp, []byte{0xbe, 0xef}) {
		t.Fatalf("ilp lost in round trip")
	}
	meta, ok := data.Custom["meta"].(map[string]interface{})
	if !ok || !reflect.DeepEqual(meta["n"], float64(1)) {
		t.Fatalf("json value lost in round trip: %v",
			data.Custom["meta"])
	}
}
