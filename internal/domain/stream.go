package domain

// EventStream is a pull-based sequence of decoded upstream events.
//
//	for s.Next() {
//		ev := s.Event()
//	}
//	if err := s.Err(); err != nil { ... }
type EventStream interface {
	Next() bool
	Event() Event
	Err() error
	Close() error
}
