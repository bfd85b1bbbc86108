package builder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/xekr/packsmith/internal/domain"
	"github.com/xekr/packsmith/internal/version"
)

// PackMetaFile is the pack metadata file name at the archive root
const PackMetaFile = "pack.mcmeta"

// Schema numbers from which pack.mcmeta declares min_format/max_format instead of pack_format
const (
	DataRangedThreshold     = 82
	ResourceRangedThreshold = 65
)

type textComponent struct {
	Text string `json:"text"`
}

// UsesRangedFormat reports whether the target expects [major, minor] format ranges
func UsesRangedFormat(entry version.Entry, t domain.PackType) bool {
	if t == domain.PackTypeData {
		return entry.DataVersion >= DataRangedThreshold
	}
	return entry.ResourceVersion >= ResourceRangedThreshold
}

// PackMeta rewrites the format fields of existing pack metadata, or synthesizes
// new metadata from cfg when existing is nil. Unrelated fields are preserved.
func PackMeta(existing []byte, cfg *domain.PackConfig, entry version.Entry, t domain.PackType) ([]byte, error) {
	doc := make(map[string]json.RawMessage)
	pack := make(map[string]json.RawMessage)

	if existing != nil {
		if err := json.Unmarshal(existing, &doc); err != nil {
			return nil, metaError(err)
		}
		if raw, ok := doc["pack"]; ok {
			if err := json.Unmarshal(raw, &pack); err != nil {
				return nil, metaError(err)
			}
		}
		// a literal null decodes to a nil map
		if doc == nil {
			doc = make(map[string]json.RawMessage)
		}
		if pack == nil {
			pack = make(map[string]json.RawMessage)
		}
	} else {
		description, err := encode([]textComponent{
			{Text: fmt.Sprintf("§6§l%s v%s\n", cfg.Description, cfg.Version)},
			{Text: fmt.Sprintf("§a§lby §6§l%s", cfg.Author)},
		}, "")
		if err != nil {
			return nil, err
		}
		pack["description"] = description
	}

	schema := entry.SchemaFor(t)
	if UsesRangedFormat(entry, t) {
		format, err := json.Marshal(version.SplitSchema(schema))
		if err != nil {
			return nil, err
		}
		pack["min_format"] = format
		pack["max_format"] = format
		delete(pack, "pack_format")
		delete(pack, "supported_formats")
	} else {
		pack["pack_format"] = json.RawMessage(strconv.FormatFloat(schema, 'f', -1, 64))
		delete(pack, "min_format")
		delete(pack, "max_format")
	}

	packRaw, err := encode(pack, "")
	if err != nil {
		return nil, err
	}
	doc["pack"] = packRaw

	return encode(doc, "    ")
}

func metaError(err error) error {
	return domain.NewAppErrorWithCause(domain.ErrTranslateFailed, "pack.mcmeta is not valid JSON", http.StatusUnprocessableEntity, err, map[string]any{"path": PackMetaFile})
}

func encode(v any, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
