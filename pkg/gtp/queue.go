package gtp

// Callback receives the outcome of one command. Either field may be nil.
type Callback struct {
	OnSuccess func(text string)
	OnFailure func(err error)
}

func (c Callback) succeed(text string) {
	if c.OnSuccess != nil {
		c.OnSuccess(text)
	}
}

func (c Callback) fail(err error) {
	if c.OnFailure != nil {
		c.OnFailure(err)
	}
}

// Queue holds the callbacks of commands that are still waiting for a
// response, oldest first. Responses carry no ids, so the Nth response always
// resolves the Nth entry.
type Queue struct {
	pending []Callback
}

// Push appends cb as the newest entry.
func (q *Queue) Push(cb Callback) {
	q.pending = append(q.pending, cb)
}

// Pop removes the oldest callback.
func (q *Queue) Pop() (Callback, bool) {
	if len(q.pending) == 0 {
		return Callback{}, false
	}
	cb := q.pending[0]
	q.pending[0] = Callback{}
	q.pending = q.pending[1:]
	return cb, true
}

// Drain empties the queue and returns its entries in order.
func (q *Queue) Drain() []Callback {
	out := q.pending
	q.pending = nil
	return out
}

// Len is the number of commands awaiting a response.
func (q *Queue) Len() int {
	return len(q.pending)
}
