package actor

import (
	"context"
	"encoding/json"
	"sync"
)

// Scripted replays queued replies per task. It backs tests and offline
// demos and records every request it receives.
type Scripted struct {
	mu       sync.Mutex
	queues   map[string][]scriptedReply
	requests []Request
}

type scriptedReply struct {
	resp Response
	err  error
}

func NewScripted() *Scripted {
	return &Scripted{queues: map[string][]scriptedReply{}}
}

// Reply queues a raw free-text reply for task.
func (s *Scripted) Reply(task, raw string) *Scripted {
	return s.push(task, scriptedReply{resp: Response{Task: task, Raw: raw}})
}

// ReplyWithPayload queues a reply carrying a typed payload marshalled from v.
func (s *Scripted) ReplyWithPayload(task, raw string, v any) *Scripted {
	data, err := json.Marshal(v)
	if err != nil {
		return s.push(task, scriptedReply{err: err})
	}
	return s.push(task, scriptedReply{resp: Response{Task: task, Raw: raw, Payload: data}})
}

// Fail queues an invocation failure for task.
func (s *Scripted) Fail(task string, err error) *Scripted {
	return s.push(task, scriptedReply{err: err})
}

func (s *Scripted) push(task string, r scriptedReply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[task] = append(s.queues[task], r)
	return s
}

func (s *Scripted) Invoke(ctx context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if err := ctx.Err(); err != nil {
		return Response{}, &InvocationError{Task: req.Task, Err: err}
	}
	q := s.queues[req.Task]
	if len(q) == 0 {
		return Response{}, &InvocationError{Task: req.Task, Err: ErrNoScript}
	}
	next := q[0]
	s.queues[req.Task] = q[1:]
	if next.err != nil {
		return Response{}, &InvocationError{Task: req.Task, Err: next.err}
	}
	return next.resp, nil
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Pending reports how many replies are still queued for task.
func (s *Scripted) Pending(task string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queues[task])
}
