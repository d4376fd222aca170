package cluster

import (
	"sort"
	"time"

	"github.com/thebtf/sitrep/pkg/models"
)

// Severity and confidence formula constants.
const (
	severityPerSource    = 15
	severitySourceCap    = 60
	severityFreshness    = 40
	severityDecayPerDay  = 10
	confidenceBase       = 30
	confidencePerMember  = 10
	confidencePerSource  = 5
	scoreCeiling         = 100
)

// ComputeClusterFields derives a cluster's fields from its member articles.
// Pure and deterministic for a fixed now: member order does not affect the
// result. Returns models.ErrEmptyMembers for an empty member set.
//
// Members without a publication time contribute now, so a cluster of
// undated articles gets a zero-length window at processing time.
func ComputeClusterFields(members []*models.Article, now time.Time) (*models.ClusterFields, error) {
	if len(members) == 0 {
		return nil, models.ErrEmptyMembers
	}

	canonical := members[0]
	canonicalTime := canonical.PublishedOr(now)
	windowStart := canonicalTime
	windowEnd := canonicalTime

	sources := make(map[string]bool, len(members))
	countries := make(map[string]bool)
	topics := make(map[string]bool)

	for _, member := range members {
		ts := member.PublishedOr(now)
		if ts.Before(windowStart) {
			windowStart = ts
		}
		if ts.After(windowEnd) {
			windowEnd = ts
		}

		// Canonical title comes from the earliest member, ties broken by
		// smallest ID so reordering the input cannot change the pick.
		if ts.Before(canonicalTime) || (ts.Equal(canonicalTime) && member.ID < canonical.ID) {
			canonical = member
			canonicalTime = ts
		}

		sources[member.SourceID] = true
		for _, c := range member.Countries {
			countries[c] = true
		}
		for _, t := range member.Topics {
			topics[t] = true
		}
	}

	uniqueSources := len(sources)

	sourceScore := uniqueSources * severityPerSource
	if sourceScore > severitySourceCap {
		sourceScore = severitySourceCap
	}

	daysStale := int(now.Sub(windowEnd).Hours() / 24)
	if daysStale < 0 {
		daysStale = 0
	}
	freshness := severityFreshness - daysStale*severityDecayPerDay
	if freshness < 0 {
		freshness = 0
	}

	severity := sourceScore + freshness
	if severity > scoreCeiling {
		severity = scoreCeiling
	}

	confidence := confidenceBase + len(members)*confidencePerMember + uniqueSources*confidencePerSource
	if confidence > scoreCeiling {
		confidence = scoreCeiling
	}

	return &models.ClusterFields{
		CanonicalTitle: canonical.Title,
		WindowStart:    windowStart,
		WindowEnd:      windowEnd,
		Countries:      sortedKeys(countries),
		Topics:         sortedKeys(topics),
		ArticleCount:   len(members),
		SourceCount:    uniqueSources,
		Severity:       severity,
		Confidence:     confidence,
	}, nil
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
