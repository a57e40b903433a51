package suggestions

import "github.com/nodalink/scenariod/internal/model"

// Source supplies the unmatched records Derive groups over. The API and
// MCP server pass the Shared Store, so suggestions come from its
// in-memory ring; the on-disk unmatched log is not read as a fallback.
type Source interface {
	Unmatched() []model.UnmatchedRecord
}

// FromSource derives suggestions straight from a Source.
func FromSource(src Source, topN int) []Suggestion {
	return Derive(src.Unmatched(), topN)
}
