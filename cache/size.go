package cache

import (
	"image"

	"github.com/saiset-co/sai-resource/types"
)

// DefaultEntrySize is charged against the budget when no estimator can
// handle a value. The estimate is only used for accounting, never for
// correctness.
const DefaultEntrySize = 1024

type bounded interface {
	Bounds() image.Rectangle
}

// estimateSize resolves the budget charge for a value: caller-registered
// estimators first, then built-in rules for blobs and pixel buffers.
func estimateSize(value interface{}, estimators []types.SizeEstimator) int64 {
	for _, estimator := range estimators {
		if size, ok := estimator(value); ok && size > 0 {
			return size
		}
	}

	switch v := value.(type) {
	case []byte:
		return int64(len(v))
	case string:
		return int64(len(v))
	case bounded:
		b := v.Bounds()
		return int64(b.Dx()) * int64(b.Dy()) * 4
	default:
		return DefaultEntrySize
	}
}
