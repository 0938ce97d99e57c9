package repository

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/unclebandit/communitybot-admin/internal/model"
)

// predicates collects WHERE clauses written with "?" placeholders and numbers
// them as $1..$n. Clauses are constants in this package; values only ever
// travel as arguments.
type predicates struct {
	clauses []string
	args    []any
}

func (p *predicates) add(clause string, args ...any) {
	p.clauses = append(p.clauses, clause)
	p.args = append(p.args, args...)
}

// arg appends a trailing argument (LIMIT, OFFSET) and returns its placeholder.
func (p *predicates) arg(v any) string {
	p.args = append(p.args, v)
	return "$" + strconv.Itoa(len(p.args))
}

func (p *predicates) where() string {
	if len(p.clauses) == 0 {
		return ""
	}
	var b strings.Builder
	n := 0
	for i, c := range p.clauses {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		for _, r := range c {
			if r == '?' {
				n++
				b.WriteString("$" + strconv.Itoa(n))
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// BroadcastFilter selects broadcasts for List.
type BroadcastFilter struct {
	States        []model.BroadcastState
	ExcludeStates []model.BroadcastState
	DueBy         *time.Time
	// OldestFirst orders by scheduled_time ascending; default is newest first.
	OldestFirst bool
	Limit       int
}

func (f BroadcastFilter) predicates() *predicates {
	p := &predicates{}
	if len(f.States) > 0 {
		p.add("sm.status = ANY(?)", pq.Array(stateArray(f.States)))
	}
	if len(f.ExcludeStates) > 0 {
		p.add("NOT (sm.status = ANY(?))", pq.Array(stateArray(f.ExcludeStates)))
	}
	if f.DueBy != nil {
		p.add("sm.scheduled_time <= ?", *f.DueBy)
	}
	return p
}

// Matches applies the filter in memory; used by fakes.
func (f BroadcastFilter) Matches(b *model.Broadcast) bool {
	if len(f.States) > 0 && !containsState(f.States, b.Status) {
		return false
	}
	if containsState(f.ExcludeStates, b.Status) {
		return false
	}
	if f.DueBy != nil && b.ScheduledTime.After(*f.DueBy) {
		return false
	}
	return true
}

func containsState(states []model.BroadcastState, s model.BroadcastState) bool {
	for _, st := range states {
		if st == s {
			return true
		}
	}
	return false
}

func stateArray(states []model.BroadcastState) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

// encodeIDs returns JSON text; lib/pq would send a []byte as bytea.
func encodeIDs(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	b, err := json.Marshal(ids)
	return string(b), err
}

func decodeIDs(raw []byte) ([]int64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}
