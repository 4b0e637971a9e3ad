// Package update defines the change-request entity and the state machine
// that drives it through plan generation, execution and rollback.
package update

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Class partitions updates by their target. The set of classes is fixed;
// update types stay open because capability modules may introduce new ones.
type Class string

const (
	ClassChute  Class = "CHUTE"
	ClassRouter Class = "ROUTER"
)

// Well-known update types. The list is not closed.
const (
	TypeCreate        = "create"
	TypeUpdate        = "update"
	TypeDelete        = "delete"
	TypeStart         = "start"
	TypeStop          = "stop"
	TypeRestart       = "restart"
	TypeSetHostConfig = "sethostconfig"
)

// External identifies a server-originated update.
type External struct {
	UpdateID  string
	ChuteID   string
	VersionID string
}

// Result is the terminal outcome of one update, set exactly once.
type Result struct {
	Success bool
	Message string
}

// Request carries everything needed to admit an update.
type Request struct {
	Class     Class
	Type      string
	Name      string
	External  *External
	Payload   map[string]any
	Delegated bool
}

// Update wraps one change-request. It is created at admission, mutated only
// by the machine driving it, and immutable after completion.
type Update struct {
	Token     int64
	Class     Class
	Type      string
	Name      string
	External  *External
	Payload   map[string]any
	Delegated bool
	CreatedAt time.Time

	// Cache holds facts derived during plan generation for use by later
	// actions of the same update (e.g. the backup token for rollback).
	Cache map[string]any

	mu     sync.Mutex
	result *Result
	done   chan Result
}

var lastToken atomic.Int64

// nextToken returns a time-based token, strictly monotonic within this
// process even when the clock is coarse.
func nextToken() int64 {
	for {
		now := time.Now().UnixNano()
		prev := lastToken.Load()
		if now <= prev {
			now = prev + 1
		}
		if lastToken.CompareAndSwap(prev, now) {
			return now
		}
	}
}

// New validates the request and builds an Update. An unrecognized class is a
// construction error: the item must not be admitted or tracked.
func New(req Request) (*Update, error) {
	if req.Class != ClassChute && req.Class != ClassRouter {
		return nil, fmt.Errorf("unrecognized update class %q", req.Class)
	}
	if req.Type == "" {
		return nil, fmt.Errorf("update type required")
	}
	return &Update{
		Token:     nextToken(),
		Class:     req.Class,
		Type:      req.Type,
		Name:      req.Name,
		External:  req.External,
		Payload:   req.Payload,
		Delegated: req.Delegated,
		CreatedAt: time.Now().UTC(),
		Cache:     make(map[string]any),
		done:      make(chan Result, 1),
	}, nil
}

// Complete records the terminal result and resolves the update's future.
// Calling it twice is a programming error, not a recoverable condition.
func (u *Update) Complete(success bool, message string) {
	u.mu.Lock()
	if u.result != nil {
		u.mu.Unlock()
		panic(fmt.Sprintf("update %d completed twice", u.Token))
	}
	r := Result{Success: success, Message: message}
	u.result = &r
	u.mu.Unlock()
	u.done <- r
	close(u.done)
}

// Done returns the one-shot future carrying the result. Callers receive the
// result only, never the entity mid-execution.
func (u *Update) Done() <-chan Result { return u.done }

// Result returns the terminal result, or nil if the update has not
// completed.
func (u *Update) Result() *Result {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.result
}

// PayloadString fetches a payload field as a string; ok is false when the
// field is absent or not a string.
func (u *Update) PayloadString(key string) (string, bool) {
	v, ok := u.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (u *Update) String() string {
	return fmt.Sprintf("Update(%s %s %s tok=%d)", u.Class, u.Type, u.Name, u.Token)
}
