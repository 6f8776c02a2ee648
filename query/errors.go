// Package query implements the query driver of spec.md §4.4: it turns a
// coordinate pair and a start time into RAPTOR inputs, runs the core, and
// hands the result to package reconstruct. It owns the query's ephemeral
// state for the request's lifetime, per spec.md §3's ownership note.
package query

import "github.com/pkg/errors"

// Error kinds the driver produces, per spec.md §7. The core (package
// raptor) itself recovers from nothing; everything surfaces here, where
// it is mapped to one of these sentinels so a collaborator boundary (an
// HTTP layer, say) can map them to its own status codes without needing
// to understand RAPTOR internals. Plan does not return ErrNoItinerary:
// it reports NoItinerary as an empty journey slice with a nil error.
var (
	ErrOriginUnreachable      = errors.New("query: no origin stop reachable within the walk budget")
	ErrDestinationUnreachable = errors.New("query: no destination stop reachable within the walk budget")
	ErrNoItinerary            = errors.New("query: access sets non-empty but no journey found within max_rounds")
	ErrTimeout                = errors.New("query: deadline exceeded")
	ErrCollaboratorFailure    = errors.New("query: access-router collaborator failed")
)
