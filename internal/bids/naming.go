package bids

import (
	"sort"
	"strings"
)

// entityOrder is the BIDS order for the entities a run carries.
var entityOrder = []string{"subject", "session", "task", "run"}

var entityKeys = map[string]string{
	"subject": "sub",
	"session": "ses",
	"task":    "task",
	"run":     "run",
}

// FileName builds a BIDS-style file name from entities. Known entities are
// written in BIDS order; any others follow sorted by key.
func FileName(entities map[string]string, suffix, ext string) string {
	var parts []string
	for _, key := range entityOrder {
		if v := entities[key]; v != "" {
			parts = append(parts, entityKeys[key]+"-"+v)
		}
	}
	var extra []string
	for key, v := range entities {
		if _, known := entityKeys[key]; !known && v != "" {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		parts = append(parts, key+"-"+entities[key])
	}
	parts = append(parts, suffix)
	return strings.Join(parts, "_") + "." + ext
}
