package transcode

// Metadata holds container-level key/value metadata.
type Metadata map[string]string

// Clone returns a copy of the metadata.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Keys stripped when copying metadata to an output container. These identify
// the producing tool and creation moment of the source and would be stale or
// misleading on the transcoded result.
var volatileMetadataKeys = []string{
	"creation_time",
	"company_name",
	"product_name",
	"product_version",
}

// StripVolatile returns a copy of the metadata without the volatile
// source-identifying keys.
func (m Metadata) StripVolatile() Metadata {
	out := m.Clone()
	for _, k := range volatileMetadataKeys {
		delete(out, k)
	}
	return out
}
