// Package pool partitions a professional's cases into the five named pools
// shown on the dashboard.
package pool

import (
	"casedesk/cases"
	"casedesk/matching"
)

// Name identifies one of the mutually exclusive pools.
type Name string

const (
	Discovery      Name = "discovery"
	DirectRequests Name = "direct_requests"
	Pipeline       Name = "pipeline"
	Active         Name = "active"
	History        Name = "history"
)

// Names lists every pool in display order.
var Names = []Name{Discovery, DirectRequests, Pipeline, Active, History}

// IDSet is a set of case ids.
type IDSet map[int64]struct{}

// Has reports whether id is in the set. A nil set contains nothing.
func (s IDSet) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

// assignedPool maps a canonical status onto the pool it belongs to once the
// case is assigned to the professional.
func assignedPool(status cases.Status) (Name, bool) {
	switch status {
	case cases.StatusPendingApproval:
		return DirectRequests, true
	case cases.StatusUnderReview, cases.StatusPaymentPending:
		return Pipeline, true
	case cases.StatusInProgress:
		return Active, true
	case cases.StatusClosed:
		return History, true
	default:
		return "", false
	}
}

// ClassifyAssigned partitions the professional's assigned case list by exact
// status membership. Cases that are not assigned to professionalID, or whose
// status has no pool, are skipped. Input order is preserved and the first
// occurrence of a duplicated id wins.
func ClassifyAssigned(professionalID int64, list []cases.Case) Set {
	var (
		out  Set
		seen = make(IDSet, len(list))
	)
	for _, c := range list {
		if seen.Has(c.ID) || !c.AssignedTo(professionalID) {
			continue
		}
		name, ok := assignedPool(c.Status)
		if !ok {
			continue
		}
		seen[c.ID] = struct{}{}
		out = out.appendTo(name, c)
	}
	return out
}

// ClassifyDiscovery filters the recommended list down to open, unassigned,
// relevant cases that are not in exclude.
func ClassifyDiscovery(recommended []cases.Case, specializations []string, exclude IDSet) []cases.Case {
	var (
		out  []cases.Case
		seen = make(IDSet, len(recommended))
	)
	for _, c := range recommended {
		if seen.Has(c.ID) || exclude.Has(c.ID) {
			continue
		}
		if c.Status != cases.StatusPublished || !c.Unassigned() {
			continue
		}
		if !matching.Relevant(specializations, c.Category) {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Input carries everything Classify needs.
type Input struct {
	ProfessionalID  int64
	Specializations []string
	Assigned        []cases.Case
	Recommended     []cases.Case
	// Exclude removes ids from every pool (deleted cases).
	Exclude IDSet
	// ExcludeDiscovery removes ids from Discovery only (cases the
	// professional is no longer eligible for).
	ExcludeDiscovery IDSet
}

// Classify builds the complete pool set. It is a pure function of its input.
func Classify(in Input) Set {
	assigned := make([]cases.Case, 0, len(in.Assigned))
	for _, c := range in.Assigned {
		if !in.Exclude.Has(c.ID) {
			assigned = append(assigned, c)
		}
	}
	set := ClassifyAssigned(in.ProfessionalID, assigned)

	exclude := make(IDSet, set.Len()+len(in.Exclude)+len(in.ExcludeDiscovery))
	for id := range in.Exclude {
		exclude[id] = struct{}{}
	}
	for id := range in.ExcludeDiscovery {
		exclude[id] = struct{}{}
	}
	set.each(func(_ Name, c cases.Case) {
		exclude[c.ID] = struct{}{}
	})

	set.Discovery = ClassifyDiscovery(in.Recommended, in.Specializations, exclude)
	return set
}
