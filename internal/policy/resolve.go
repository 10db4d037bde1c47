package policy

import (
	"time"

	"payretry/internal/types"
)

// Specificity levels, most specific first.
const (
	LevelProductChannel = 4
	LevelProduct        = 3
	LevelCompany        = 2
	LevelOrganisation   = 1
)

// Candidate is the ranking view of a retry or reminder policy.
type Candidate struct {
	ID        string
	Scope     types.PolicyScope
	Active    bool
	Priority  int
	IsDefault bool
	CreatedAt time.Time
}

// Specificity returns how narrowly candidate targets req, or false when one
// of candidate's scope keys contradicts req.
func Specificity(candidate, req types.PolicyScope) (int, bool) {
	if candidate.OrganisationID != req.OrganisationID {
		return 0, false
	}
	if !keyMatches(candidate.CompanyID, req.CompanyID) ||
		!keyMatches(candidate.ProductID, req.ProductID) ||
		!keyMatches(candidate.Channel, req.Channel) {
		return 0, false
	}
	switch {
	case candidate.ProductID != "" && candidate.Channel != "":
		return LevelProductChannel, true
	case candidate.ProductID != "":
		return LevelProduct, true
	case candidate.CompanyID != "":
		return LevelCompany, true
	}
	return LevelOrganisation, true
}

// An empty key on the policy means "any".
func keyMatches(policyKey, reqKey string) bool {
	return policyKey == "" || policyKey == reqKey
}

// better reports whether a outranks b: higher specificity, then higher
// priority, then a default policy over a non-default one, then the most
// recently created. The id settles exact ties.
func better(a Candidate, aLevel int, b Candidate, bLevel int) bool {
	if aLevel != bLevel {
		return aLevel > bLevel
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if a.IsDefault != b.IsDefault {
		return a.IsDefault
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Resolve returns the best active policy among policies for req, or nil.
// The ranking is independent of the order policies are passed in.
func Resolve[P any](policies []P, req types.PolicyScope, view func(P) Candidate) P {
	var (
		best      P
		bestCand  Candidate
		bestLevel int
		found     bool
	)
	for _, p := range policies {
		c := view(p)
		if !c.Active {
			continue
		}
		level, ok := Specificity(c.Scope, req)
		if !ok {
			continue
		}
		if !found || better(c, level, bestCand, bestLevel) {
			best, bestCand, bestLevel, found = p, c, level, true
		}
	}
	return best
}
