// Package pattern implements retrieval-based speaker estimation over a
// bounded memory of past labeled frames.
package pattern

import (
	"math"
	"sort"
	"time"

	"github.com/lokutor-ai/lokutor-diarizer/pkg/speaker"
)

// Pattern is one remembered labeled frame.
type Pattern struct {
	ID          string
	Embedding   []float64
	Speaker     speaker.Speaker
	Context     string
	Confidence  float64
	UsageCount  int
	SuccessRate float64
	CreatedAt   time.Time
	LastUsed    time.Time
}

// EvictionPolicy weighs what keeps a pattern in memory.
type EvictionPolicy struct {
	HalfLife        time.Duration
	RecencyWeight   float64
	SuccessWeight   float64
	UsageWeight     float64
	UsageSaturation int
}

func DefaultEvictionPolicy() EvictionPolicy {
	return EvictionPolicy{
		HalfLife:        10 * time.Minute,
		RecencyWeight:   0.4,
		SuccessWeight:   0.4,
		UsageWeight:     0.2,
		UsageSaturation: 10,
	}
}

// Recency decays from 1 with the policy half-life since the last use.
func Recency(p *Pattern, now time.Time, halfLife time.Duration) float64 {
	last := p.LastUsed
	if last.IsZero() {
		last = p.CreatedAt
	}
	age := now.Sub(last)
	if age <= 0 || halfLife <= 0 {
		return 1
	}
	return math.Pow(0.5, age.Seconds()/halfLife.Seconds())
}

// EvictionScore rates how worth keeping a pattern is; the lowest score in a
// full partition is evicted first.
func EvictionScore(p *Pattern, now time.Time, policy EvictionPolicy) float64 {
	usage := 0.0
	if policy.UsageSaturation > 0 {
		usage = math.Min(1, float64(p.UsageCount)/float64(policy.UsageSaturation))
	}
	return policy.RecencyWeight*Recency(p, now, policy.HalfLife) +
		policy.SuccessWeight*p.SuccessRate +
		policy.UsageWeight*usage
}

// Match is a retrieved pattern with its similarity to the query.
type Match struct {
	Pattern    *Pattern
	Similarity float64
}

// Arena is a per-speaker partitioned pattern store with a fixed capacity
// per partition. It is not safe for concurrent use.
type Arena struct {
	capacity   int
	policy     EvictionPolicy
	partitions speaker.Pair[[]*Pattern]
	byID       map[string]*Pattern
}

func NewArena(capacity int, policy EvictionPolicy) *Arena {
	if capacity <= 0 {
		capacity = 1
	}
	return &Arena{
		capacity: capacity,
		policy:   policy,
		byID:     make(map[string]*Pattern),
	}
}

// Add stores p in its speaker's partition, evicting the lowest scoring
// pattern when the partition is full. Returns the evicted pattern, if any.
func (a *Arena) Add(p *Pattern, now time.Time) *Pattern {
	if !p.Speaker.IsParty() {
		return nil
	}
	part := a.partitions.Get(p.Speaker)

	var evicted *Pattern
	if len(part) >= a.capacity {
		worst := 0
		worstScore := math.Inf(1)
		for i, q := range part {
			if s := EvictionScore(q, now, a.policy); s < worstScore {
				worst, worstScore = i, s
			}
		}
		evicted = part[worst]
		delete(a.byID, evicted.ID)
		part = append(part[:worst], part[worst+1:]...)
	}

	part = append(part, p)
	a.partitions.Set(p.Speaker, part)
	a.byID[p.ID] = p
	return evicted
}

// Get looks a pattern up by id.
func (a *Arena) Get(id string) (*Pattern, bool) {
	p, ok := a.byID[id]
	return p, ok
}

// Len returns the number of patterns stored for a speaker.
func (a *Arena) Len(s speaker.Speaker) int {
	return len(a.partitions.Get(s))
}

// Search returns up to k patterns across both partitions whose similarity
// to the query is at least threshold, best first.
func (a *Arena) Search(query []float64, k int, threshold float64) []Match {
	var out []Match
	for _, part := range a.partitions {
		for _, p := range part {
			if sim := cosine(query, p.Embedding); sim >= threshold {
				out = append(out, Match{Pattern: p, Similarity: sim})
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Similarity > out[j].Similarity
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}

// Clear removes every pattern.
func (a *Arena) Clear() {
	a.partitions = speaker.Pair[[]*Pattern]{}
	a.byID = make(map[string]*Pattern)
}
