package detections

import (
	"regexp"
	"sort"
	"strconv"
)

// maxEmbeddedClasses bounds the label table when the model's class count is
// unknown.
const maxEmbeddedClasses = 4096

var namesEntry = regexp.MustCompile(`(\d+)\s*:\s*(?:'([^']*)'|"([^"]*)")`)

// parseNames decodes the class map exporters embed as custom metadata, e.g.
// "{0: 'person', 1: 'bicycle'}". Gaps in the id sequence become empty labels.
// Ids at or above numClasses are ignored; numClasses <= 0 falls back to
// maxEmbeddedClasses.
func parseNames(raw string, numClasses int) []string {
	if numClasses <= 0 || numClasses > maxEmbeddedClasses {
		numClasses = maxEmbeddedClasses
	}
	matches := namesEntry.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}

	byID := make(map[int]string, len(matches))
	ids := make([]int, 0, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil || id >= numClasses {
			continue
		}
		name := m[2]
		if name == "" {
			name = m[3]
		}
		if _, seen := byID[id]; !seen {
			ids = append(ids, id)
		}
		byID[id] = name
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Ints(ids)

	labels := make([]string, ids[len(ids)-1]+1)
	for id, name := range byID {
		labels[id] = name
	}
	return labels
}
