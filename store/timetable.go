package store

// The methods below forward to the StopsView/RoutesView accessors so that
// raptor.Timetable can be satisfied directly by *Store, without the
// raptor package needing to know about the View wrapper types.

func (s *Store) RoutesServing(stop uint32) []RouteStopRef { return s.Stops().RoutesServing(stop) }

func (s *Store) TransfersFrom(stop uint32) []Transfer { return s.Stops().TransfersFrom(stop) }

func (s *Store) GetRoute(id uint32) Route { return s.Routes().Get(id) }

func (s *Store) StopAt(route Route, pos int) uint32 { return s.Routes().StopAt(route, pos) }

func (s *Store) StopTime(route Route, trip, pos int) StopTime {
	return s.Routes().StopTime(route, trip, pos)
}

func (s *Store) TripMeta(route Route, trip int) TripMeta { return s.Routes().TripMeta(route, trip) }
