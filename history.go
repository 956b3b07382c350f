package chronicle

import (
	"sort"

	"github.com/emberforge/chronicle/adapters"
)

// mergeHistory places archived events in front of the hot events. An event
// present in both (a crash between archive write and hot delete) is taken
// from the hot store.
func mergeHistory(archived []adapters.ArchivedEvent, hot []StoredEvent) []StoredEvent {
	if len(archived) == 0 {
		return hot
	}

	firstHot := int64(-1)
	if len(hot) > 0 {
		firstHot = hot[0].Version
	}

	history := make([]StoredEvent, 0, len(archived)+len(hot))
	for _, a := range archived {
		if firstHot > 0 && a.Version >= firstHot {
			break
		}
		history = append(history, a.StoredEvent)
	}
	return append(history, hot...)
}

// mergeByVersion combines event sources into one version-ordered sequence.
// Earlier sources win when two events share a version.
func mergeByVersion(sources ...[]StoredEvent) []StoredEvent {
	seen := make(map[int64]struct{})
	var merged []StoredEvent
	for _, source := range sources {
		for _, e := range source {
			if _, ok := seen[e.Version]; ok {
				continue
			}
			seen[e.Version] = struct{}{}
			merged = append(merged, e)
		}
	}

	sort.Slice(merged, func(i, j int) bool { return merged[i].Version < merged[j].Version })
	return merged
}
