package engine

import (
	"context"
	"path"
	"strings"

	pipelineerrors "github.com/sparkify/datalake/internal/errors"
	"github.com/sparkify/datalake/internal/storage"
)

// SplitGlob splits a slash-separated pattern into the literal directory
// prefix before the first wildcard segment and the remaining pattern.
// "song_data/*/*/*/*.json" splits into "song_data" and "*/*/*/*.json".
func SplitGlob(pattern string) (prefix, rest string) {
	segments := strings.Split(strings.Trim(pattern, "/"), "/")
	for i, seg := range segments {
		if strings.ContainsAny(seg, `*?[\`) {
			return strings.Join(segments[:i], "/"), strings.Join(segments[i:], "/")
		}
	}
	return strings.Join(segments[:len(segments)-1], "/"), segments[len(segments)-1]
}

// MatchGlob reports whether key matches pattern segment by segment. A
// wildcard never crosses a '/', so the key must have exactly as many
// segments as the pattern.
func MatchGlob(pattern, key string) (bool, error) {
	pSegs := strings.Split(strings.Trim(pattern, "/"), "/")
	kSegs := strings.Split(strings.Trim(key, "/"), "/")
	if len(pSegs) != len(kSegs) {
		return false, nil
	}
	for i := range pSegs {
		ok, err := path.Match(pSegs[i], kSegs[i])
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// ExpandGlob lists the objects under the pattern's literal prefix and keeps
// those matching the pattern. The pattern is relative to the location. Keys
// come back sorted, since every connector lists in key order.
func ExpandGlob(ctx context.Context, store storage.ObjectStorage, loc storage.Location, pattern string) ([]string, error) {
	full := loc.Key(pattern)
	prefix, _ := SplitGlob(full)

	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}
	keys, err := store.ListObjects(ctx, listPrefix)
	if err != nil {
		return nil, pipelineerrors.NewStorageError(pipelineerrors.CodeListFailed,
			"failed to list "+loc.String()+" under "+prefix, err)
	}

	var matched []string
	for _, k := range keys {
		ok, err := MatchGlob(full, k)
		if err != nil {
			return nil, pipelineerrors.NewConfigError(pipelineerrors.CodeInvalidConfig,
				"invalid input pattern "+pattern, err)
		}
		if ok {
			matched = append(matched, k)
		}
	}
	return matched, nil
}
