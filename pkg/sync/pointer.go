package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/loomctx/loomctx/pkg/knowledge"
	"github.com/loomctx/loomctx/pkg/memory"
)

// Pointer is the knowledge_pointer metadata value (§3.7) a synced memory
// entry carries, linking it back to the knowledge entry it mirrors.
type Pointer struct {
	SourceType  knowledge.Kind  `json:"source_type"`
	SourceID    string          `json:"source_id"`
	ContentHash string          `json:"content_hash"`
	SourceLayer knowledge.Layer `json:"source_layer"`
	SyncedAt    time.Time       `json:"synced_at"`
	IsOrphaned  bool            `json:"is_orphaned"`
}

// EncodePointer converts p into the map[string]any form stored under
// [memory.MetaKnowledgePointer] in an Entry's Metadata.
func EncodePointer(p Pointer) (map[string]any, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodePointer extracts a [Pointer] from an Entry's Metadata, if present.
func DecodePointer(metadata map[string]any) (Pointer, bool) {
	raw, ok := metadata[memory.MetaKnowledgePointer]
	if !ok {
		return Pointer{}, false
	}
	asMap, ok := raw.(map[string]any)
	if !ok {
		return Pointer{}, false
	}
	encoded, err := json.Marshal(asMap)
	if err != nil {
		return Pointer{}, false
	}
	var p Pointer
	if err := json.Unmarshal(encoded, &p); err != nil {
		return Pointer{}, false
	}
	return p, true
}

// ContentHash returns the SHA-256 hash of content, hex-encoded, matching
// §3.7's "content_hash equals the SHA-256 of the referenced knowledge
// entry's content" invariant.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// MapLayer maps a knowledge layer to the memory layer that mirrors it. The
// two hierarchies share the same four names at this end of the precedence
// scale.
func MapLayer(l knowledge.Layer) memory.Layer {
	switch l {
	case knowledge.LayerCompany:
		return memory.LayerCompany
	case knowledge.LayerOrg:
		return memory.LayerOrg
	case knowledge.LayerTeam:
		return memory.LayerTeam
	default:
		return memory.LayerProject
	}
}

// knowledgeID is the stable key used for State's path-keyed maps.
func knowledgeID(layer knowledge.Layer, path string) string {
	return layer.String() + "/" + path
}

// pointerMemoryID is the memory entry id a knowledge path maps to.
func pointerMemoryID(path string) string {
	return "ptr_" + path
}
