package server

import (
	"sync"
	"sync/atomic"
	"time"

	"phobos.org.uk/toolstream/internal/api"
	"phobos.org.uk/toolstream/internal/logging"
	"phobos.org.uk/toolstream/internal/stream"
)

// session is one client's chunk stream. The coordinator is not safe for
// concurrent use, so every call into it holds mu.
type session struct {
	id        string
	createdAt time.Time
	results   *stream.ResultLogger

	mu    sync.Mutex
	coord *stream.Coordinator

	lastActive atomic.Int64 // unix nanos
}

func newSession(id string, coord *stream.Coordinator, log *logging.ScopedLogger, now time.Time) *session {
	s := &session{
		id:        id,
		createdAt: now,
		results:   stream.NewResultLogger(log),
		coord:     coord,
	}
	s.lastActive.Store(now.UnixNano())
	return s
}

func (s *session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// process feeds chunks to the coordinator in order. On a parser failure it
// returns the results produced so far and the index of the failing chunk.
func (s *session) process(chunks []*stream.Chunk) ([]*stream.StreamingResult, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.touch()

	results := make([]*stream.StreamingResult, 0, len(chunks))
	for i, chunk := range chunks {
		res, err := s.coord.ProcessChunk(chunk)
		if err != nil {
			s.results.LogParserError(err)
			return results, i, err
		}
		if res != nil {
			s.results.LogResult(res)
			results = append(results, res)
		}
	}
	return results, len(chunks), nil
}

// reset drops every in-flight accumulator and returns how many there were.
func (s *session) reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.touch()

	n := s.coord.Pending()
	s.coord.Clear()
	return n
}

func (s *session) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.coord.Pending()
}

func (s *session) idleSince(cutoff time.Time) bool {
	return s.lastActive.Load() < cutoff.UnixNano()
}

func (s *session) info() api.SessionInfo {
	return api.SessionInfo{
		ID:           s.id,
		CreatedAt:    s.createdAt.Format(time.RFC3339Nano),
		LastActiveAt: time.Unix(0, s.lastActive.Load()).Format(time.RFC3339Nano),
		InFlight:     s.pending(),
	}
}
