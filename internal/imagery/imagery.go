// Package imagery finds satellite scenes covering a geometry on a date.
package imagery

import (
	"context"
	"sort"
	"time"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// Provider searches an imagery archive for scenes acquired on a given date
// over a given geometry. Results are ordered best-first: lowest cloud cover,
// most recent acquisition on ties.
type Provider interface {
	FindScenes(ctx context.Context, geom types.Geometry, date time.Time, maxCloudCover int) ([]types.SceneRef, error)
}

// SortScenes orders scenes best-first in place.
func SortScenes(scenes []types.SceneRef) {
	sort.SliceStable(scenes, func(i, j int) bool {
		if scenes[i].CloudCover != scenes[j].CloudCover {
			return scenes[i].CloudCover < scenes[j].CloudCover
		}
		return scenes[i].AcquiredAt.After(scenes[j].AcquiredAt)
	})
}
