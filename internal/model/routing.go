package model

import "strings"

// Route is the closed set of routing labels.
type Route string

const (
	RouteSearch   Route = "SEARCH"
	RouteRetrieve Route = "RETRIEVE"
	RouteBoth     Route = "BOTH"
)

// routeAliases maps label spellings accepted from a model to a Route.
var routeAliases = map[string]Route{
	"SEARCH":        RouteSearch,
	"WEB_SEARCH":    RouteSearch,
	"WEB":           RouteSearch,
	"RETRIEVE":      RouteRetrieve,
	"RETRIEVAL":     RouteRetrieve,
	"FILE_ANALYSIS": RouteRetrieve,
	"FILE":          RouteRetrieve,
	"BOTH":          RouteBoth,
}

// ParseRoute converts a label to a Route. Case, surrounding punctuation and
// spaces vs underscores are ignored.
func ParseRoute(label string) (Route, bool) {
	s := strings.ToUpper(strings.TrimSpace(label))
	s = strings.Trim(s, " \t*`'\".:")
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	r, ok := routeAliases[s]
	return r, ok
}

// Valid reports whether r is one of the three routes.
func (r Route) Valid() bool {
	switch r {
	case RouteSearch, RouteRetrieve, RouteBoth:
		return true
	}
	return false
}

// Runs reports whether the route dispatches to the handler with origin o.
func (r Route) Runs(o Origin) bool {
	switch o {
	case OriginSearch:
		return r == RouteSearch || r == RouteBoth
	case OriginRetrieve:
		return r == RouteRetrieve || r == RouteBoth
	}
	return false
}

// Handlers returns the handler set selected by the route. Never empty for a
// valid route.
func (r Route) Handlers() []Origin {
	var out []Origin
	if r.Runs(OriginSearch) {
		out = append(out, OriginSearch)
	}
	if r.Runs(OriginRetrieve) {
		out = append(out, OriginRetrieve)
	}
	return out
}

// DecisionSource records who produced a routing decision.
type DecisionSource string

const (
	SourceModel        DecisionSource = "MODEL"
	SourceRuleFallback DecisionSource = "RULE_FALLBACK"
)

// RoutingDecision is the classifier's output. Immutable once produced.
type RoutingDecision struct {
	Route      Route          `json:"route"`
	Rationale  string         `json:"rationale"`
	Confidence float64        `json:"confidence"`
	Source     DecisionSource `json:"source"`
}
