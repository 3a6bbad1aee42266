package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/query-router/internal/model"
)

// ErrInvalidTransition is returned by Next for an edge the workflow does not
// have.
var ErrInvalidTransition = eris.New("pipeline: invalid transition")

// Next returns the state that follows from. The route only matters when
// leaving CLASSIFIED. DONE has no successor.
//
//	START → CLASSIFIED
//	CLASSIFIED → SEARCHING | RETRIEVING | SEARCHING_AND_RETRIEVING
//	SEARCHING | RETRIEVING | SEARCHING_AND_RETRIEVING → SYNTHESIZING
//	SYNTHESIZING → DONE
func Next(from model.State, route model.Route) (model.State, error) {
	switch from {
	case model.StateStart:
		return model.StateClassified, nil
	case model.StateClassified:
		switch route {
		case model.RouteSearch:
			return model.StateSearching, nil
		case model.RouteRetrieve:
			return model.StateRetrieving, nil
		case model.RouteBoth:
			return model.StateSearchingAndRetrieving, nil
		}
		return "", eris.Wrapf(ErrInvalidTransition, "%s with route %q", from, route)
	case model.StateSearching, model.StateRetrieving, model.StateSearchingAndRetrieving:
		return model.StateSynthesizing, nil
	case model.StateSynthesizing:
		return model.StateDone, nil
	}
	return "", eris.Wrapf(ErrInvalidTransition, "from %s", from)
}
