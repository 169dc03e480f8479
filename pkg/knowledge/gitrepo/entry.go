package gitrepo

import (
	"encoding/json"
	"path"
	"strings"

	"github.com/loomctx/loomctx/pkg/knowledge"
)

// metaSuffix names the sidecar file carrying everything about an entry that
// isn't raw content: the fields a hash-of-content pointer (see §3.7 of the
// platform's knowledge pointer model) must not see.
const metaSuffix = ".meta.json"

type entryMeta struct {
	Kind      knowledge.Kind      `json:"kind"`
	Status    knowledge.Status    `json:"status"`
	Metadata  map[string]any      `json:"metadata,omitempty"`
	Summaries []knowledge.Summary `json:"summaries,omitempty"`
}

// contentPath returns the file path, relative to the repository root, that
// holds an entry's raw content for layer/p.
func contentPath(layer knowledge.Layer, p string) string {
	return path.Join(layer.String(), p)
}

// metaPath returns the sidecar path for the same entry.
func metaPath(layer knowledge.Layer, p string) string {
	return contentPath(layer, p) + metaSuffix
}

// splitLayerPath reverses contentPath, recovering the layer and the
// within-layer path from a full repository path. Returns false if full does
// not start with a recognized layer directory, or names a meta sidecar.
func splitLayerPath(full string) (knowledge.Layer, string, bool) {
	if strings.HasSuffix(full, metaSuffix) {
		return 0, "", false
	}
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	layer, ok := knowledge.ParseLayer(parts[0])
	if !ok {
		return 0, "", false
	}
	return layer, parts[1], true
}

func marshalMeta(m entryMeta) ([]byte, error) {
	return json.Marshal(m)
}

func unmarshalMeta(data []byte) (entryMeta, error) {
	var m entryMeta
	if len(data) == 0 {
		return m, nil
	}
	err := json.Unmarshal(data, &m)
	return m, err
}
