package pool

import "casedesk/cases"

// Set holds the five pools. Values are treated as immutable: every mutating
// helper returns a fresh Set and leaves the receiver untouched, so a Set can
// be shared with readers without copying.
type Set struct {
	Discovery      []cases.Case
	DirectRequests []cases.Case
	Pipeline       []cases.Case
	Active         []cases.Case
	History        []cases.Case
}

// Pool returns the cases in the named pool.
func (s Set) Pool(name Name) []cases.Case {
	switch name {
	case Discovery:
		return s.Discovery
	case DirectRequests:
		return s.DirectRequests
	case Pipeline:
		return s.Pipeline
	case Active:
		return s.Active
	case History:
		return s.History
	default:
		return nil
	}
}

func (s Set) withPool(name Name, list []cases.Case) Set {
	switch name {
	case Discovery:
		s.Discovery = list
	case DirectRequests:
		s.DirectRequests = list
	case Pipeline:
		s.Pipeline = list
	case Active:
		s.Active = list
	case History:
		s.History = list
	}
	return s
}

func (s Set) appendTo(name Name, c cases.Case) Set {
	return s.withPool(name, append(s.Pool(name), c))
}

func (s Set) each(fn func(Name, cases.Case)) {
	for _, name := range Names {
		for _, c := range s.Pool(name) {
			fn(name, c)
		}
	}
}

// Lookup returns the pool holding id.
func (s Set) Lookup(id int64) (Name, bool) {
	for _, name := range Names {
		for _, c := range s.Pool(name) {
			if c.ID == id {
				return name, true
			}
		}
	}
	return "", false
}

// Find returns the case with id and its pool.
func (s Set) Find(id int64) (cases.Case, Name, bool) {
	for _, name := range Names {
		for _, c := range s.Pool(name) {
			if c.ID == id {
				return c, name, true
			}
		}
	}
	return cases.Case{}, "", false
}

// Len returns the number of cases across all pools.
func (s Set) Len() int {
	n := 0
	for _, name := range Names {
		n += len(s.Pool(name))
	}
	return n
}

// IDs returns every pooled id.
func (s Set) IDs() IDSet {
	out := make(IDSet, s.Len())
	s.each(func(_ Name, c cases.Case) {
		out[c.ID] = struct{}{}
	})
	return out
}

// Disjoint reports whether every id appears in at most one pool.
func (s Set) Disjoint() bool {
	seen := make(IDSet, s.Len())
	ok := true
	s.each(func(_ Name, c cases.Case) {
		if seen.Has(c.ID) {
			ok = false
		}
		seen[c.ID] = struct{}{}
	})
	return ok
}
