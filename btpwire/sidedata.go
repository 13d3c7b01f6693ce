package btpwire

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SideData is the structured view of a message's sub-protocol entries. The
// flat wire representation is convenient for dispatch, this view is what the
// application layers actually want to work with.
type SideData struct {
	// Ilp is the raw interledger packet carried by the "ilp" entry, if
	// any.
	Ilp []byte

	// Custom maps every other entry's name to its decoded value: a parsed
	// JSON document, a string, or raw bytes depending on the entry's
	// content type.
	Custom map[string]interface{}

	// Map preserves the raw bytes of every entry, including "ilp", keyed
	// by name. Primary protocol dispatch reads from here.
	Map map[string][]byte
}

// ParseSideData converts the flat entry list of a message into its structured
// view.
func ParseSideData(entries []ProtocolData) (*SideData, error) {
	data := &SideData{
		Custom: make(map[string]interface{}),
		Map:    make(map[string][]byte),
	}

	for _, entry := range entries {
		data.Map[entry.Name] = entry.Data

		if entry.Name == "ilp" {
			data.Ilp = entry.Data
			continue
		}

		switch entry.ContentType {
		case ContentTypeJSON:
			var value interface{}
			if err := json.Unmarshal(entry.Data, &value); err != nil {
				return nil, fmt.Errorf("unable to parse json "+
					"entry %q: %v", entry.Name, err)
			}
			data.Custom[entry.Name] = value

		case ContentTypeTextPlain:
			data.Custom[entry.Name] = string(entry.Data)

		case ContentTypeOctetStream:
			data.Custom[entry.Name] = entry.Data

		default:
			return nil, fmt.Errorf("unknown content type %d for "+
				"entry %q", entry.ContentType, entry.Name)
		}
	}

	return data, nil
}

// MarshalSideData performs the reverse mapping of ParseSideData: an optional
// ilp packet plus a set of custom values become a flat entry list. The ilp
// entry always comes first so it is the primary protocol whenever present.
// The ilp packet and byte values are carried as octet streams, strings as
// text (a "vouch" string as an octet stream) and everything else as JSON.
func MarshalSideData(ilp []byte, custom map[string]interface{}) (
	[]ProtocolData, error) {

	var entries []ProtocolData
	if len(ilp) > 0 {
		entries = append(entries, ProtocolData{
			Name:        "ilp",
			ContentType: ContentTypeOctetStream,
			Data:        ilp,
		})
	}

	// Sort the custom names so encoding is deterministic.
	names := make([]string, 0, len(custom))
	for name := range custom {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := custom[name]

		switch v := value.(type) {
		case []byte:
			entries = append(entries, ProtocolData{
				Name:        name,
				ContentType: ContentTypeOctetStream,
				Data:        v,
			})

		case string:
			if name == "vouch" {
				entries = append(entries, ProtocolData{
					Name:        name,
					ContentType: ContentTypeOctetStream,
					Data:        []byte(v),
				})
				continue
			}
			entries = append(entries, ProtocolData{
				Name:        name,
				ContentType: ContentTypeTextPlain,
				Data:        []byte(v),
			})

		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("unable to encode "+
					"entry %q: %v", name, err)
			}
			entries = append(entries, ProtocolData{
				Name:        name,
				ContentType: ContentTypeJSON,
				Data:        encoded,
			})
		}
	}

	return entries, nil
}
