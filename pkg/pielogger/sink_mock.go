package pielogger

import (
	"sync"

	"github.com/goradd/maps"
)

var _ Sink = (*SinkMock)(nil)

type SinkMock struct {
	mu      sync.Mutex
	records []Record
	Counts  maps.SafeMap[string, int]
}

func NewSinkMock() *SinkMock {
	return &SinkMock{}
}

func (s *SinkMock) Log(r Record) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
	s.Counts.Set(r.Source, s.Counts.Get(r.Source)+1)
}

func (s *SinkMock) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

func (s *SinkMock) Messages() []string {
	records := s.Records()
	msgs := make([]string, 0, len(records))
	for _, r := range records {
		msgs = append(msgs, r.Message)
	}
	return msgs
}
