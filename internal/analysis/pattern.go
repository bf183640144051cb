package analysis

import (
	"fmt"
	"math"
	"strings"
)

// PatternOptions configures DiscoverPatterns.
type PatternOptions struct {
	MaxPatternLength int
	MinSupport       float64
}

func (o PatternOptions) withDefaults() PatternOptions {
	if o.MaxPatternLength <= 0 {
		o.MaxPatternLength = 10
	}
	if o.MinSupport <= 0 {
		o.MinSupport = 0.01
	}
	return o
}

type occurrence struct {
	session  *Session
	startIdx int
	endIdx   int
}

// DiscoverPatterns enumerates contiguous endpoint subsequences of length
// 2..MaxPatternLength across sessions, retaining those whose distinct
// session support meets the min-support threshold.
func DiscoverPatterns(sessions []Session, opts PatternOptions) []WorkflowPattern {
	opts = opts.withDefaults()
	if len(sessions) == 0 {
		return nil
	}

	occurrences := make(map[string][]occurrence)
	sessionSeen := make(map[string]map[string]bool)

	for i := range sessions {
		s := &sessions[i]
		steps := make([]string, len(s.Requests))
		for j, r := range s.Requests {
			steps[j] = r.Endpoint
		}

		seen := sessionSeen[s.SessionID]
		if seen == nil {
			seen = make(map[string]bool)
			sessionSeen[s.SessionID] = seen
		}

		maxLen := opts.MaxPatternLength
		if maxLen > len(steps) {
			maxLen = len(steps)
		}
		for length := 2; length <= maxLen; length++ {
			for start := 0; start+length <= len(steps); start++ {
				key := strings.Join(steps[start:start+length], " -> ")
				if seen[key] {
					continue
				}
				seen[key] = true
				occurrences[key] = append(occurrences[key], occurrence{session: s, startIdx: start, endIdx: start + length - 1})
			}
		}
	}

	minCount := int(math.Floor(float64(len(sessions)) * opts.MinSupport))

	var patterns []WorkflowPattern
	for key, occs := range occurrences {
		if len(occs) < minCount || minCount < 1 && len(occs) < 1 {
			if len(occs) < 1 {
				continue
			}
		}
		if len(occs) < max(minCount, 1) {
			continue
		}

		steps := strings.Split(key, " -> ")
		var totalDuration float64
		var successCount int
		uaBuckets := make(map[UserAgentCategory]int)

		for _, occ := range occs {
			start := occ.session.Requests[occ.startIdx].Timestamp
			end := occ.session.Requests[occ.endIdx].Timestamp
			totalDuration += end.Sub(start).Seconds() * 1000
			if occ.session.ErrorCount == 0 {
				successCount++
			}
			ua := ""
			if occ.startIdx < len(occ.session.Requests) {
				ua = occ.session.Requests[occ.startIdx].UserAgent
			}
			uaBuckets[CategorizeUserAgent(ua)]++
		}

		patterns = append(patterns, WorkflowPattern{
			ID:               fmt.Sprintf("pattern-%d-%s", len(steps), hashKey(key)),
			Steps:            steps,
			Frequency:        len(occs),
			SupportSessions:  len(occs),
			AvgDurationMs:    totalDuration / float64(len(occs)),
			SuccessRate:      float64(successCount) / float64(len(occs)),
			UserAgentBuckets: uaBuckets,
		})
	}

	return patterns
}

func hashKey(s string) string {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return fmt.Sprintf("%x", h)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// BuildTransitionMatrix computes next-endpoint probabilities and average
// inter-request time from session sequences.
func BuildTransitionMatrix(sessions []Session) TransitionMatrix {
	counts := make(map[string]map[string]int)
	gapSums := make(map[string]map[string]float64)
	total := make(map[string]int)

	for _, s := range sessions {
		for i := 0; i+1 < len(s.Requests); i++ {
			from := s.Requests[i].Endpoint
			to := s.Requests[i+1].Endpoint
			if counts[from] == nil {
				counts[from] = make(map[string]int)
				gapSums[from] = make(map[string]float64)
			}
			counts[from][to]++
			gapSums[from][to] += s.Requests[i+1].Timestamp.Sub(s.Requests[i].Timestamp).Seconds() * 1000
			total[from]++
		}
	}

	matrix := TransitionMatrix{
		Transitions: make(map[string]map[string]float64),
		AvgGapMs:    make(map[string]map[string]float64),
	}
	for from, tos := range counts {
		matrix.Transitions[from] = make(map[string]float64)
		matrix.AvgGapMs[from] = make(map[string]float64)
		for to, n := range tos {
			matrix.Transitions[from][to] = float64(n) / float64(total[from])
			matrix.AvgGapMs[from][to] = gapSums[from][to] / float64(n)
		}
	}
	return matrix
}

// EntryExitEndpoints returns the distinct first and last endpoints across
// sessions.
func EntryExitEndpoints(sessions []Session) (entries, exits []string) {
	entrySeen := make(map[string]bool)
	exitSeen := make(map[string]bool)
	for _, s := range sessions {
		if len(s.Requests) == 0 {
			continue
		}
		first := s.Requests[0].Endpoint
		last := s.Requests[len(s.Requests)-1].Endpoint
		if !entrySeen[first] {
			entrySeen[first] = true
			entries = append(entries, first)
		}
		if !exitSeen[last] {
			exitSeen[last] = true
			exits = append(exits, last)
		}
	}
	return entries, exits
}

// DropOffPoints identifies endpoints with >=10 occurrences and an exit
// rate above 0.1.
func DropOffPoints(sessions []Session) []DropOffPoint {
	occurrences := make(map[string]int)
	exits := make(map[string]int)
	continuations := make(map[string]map[string]int)
	durations := make(map[string]float64)

	for _, s := range sessions {
		for i, r := range s.Requests {
			occurrences[r.Endpoint]++
			if i == len(s.Requests)-1 {
				exits[r.Endpoint]++
			} else {
				next := s.Requests[i+1].Endpoint
				if continuations[r.Endpoint] == nil {
					continuations[r.Endpoint] = make(map[string]int)
				}
				continuations[r.Endpoint][next]++
				durations[r.Endpoint] += s.Requests[i+1].Timestamp.Sub(r.Timestamp).Seconds() * 1000
			}
		}
	}

	var points []DropOffPoint
	for endpoint, total := range occurrences {
		if total < 10 {
			continue
		}
		rate := float64(exits[endpoint]) / float64(total)
		if rate <= 0.1 {
			continue
		}
		cont := make(map[string]float64)
		sum := 0
		for _, n := range continuations[endpoint] {
			sum += n
		}
		for next, n := range continuations[endpoint] {
			cont[next] = float64(n) / float64(sum)
		}
		avgTime := 0.0
		if sum > 0 {
			avgTime = durations[endpoint] / float64(sum)
		}
		points = append(points, DropOffPoint{
			Endpoint:       endpoint,
			Occurrences:    total,
			DropOffRate:    rate,
			AvgTimeSpentMs: avgTime,
			Continuation:   cont,
		})
	}
	return points
}
