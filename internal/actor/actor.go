// Package actor is the boundary to the external text-generation actor.
package actor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrNoScript   = errors.New("no scripted reply left for task")
	ErrEmptyReply = errors.New("actor returned an empty reply")
)

// Request is one sub-task handed to the actor. Instructions may reference
// inputs as {name}.
type Request struct {
	Task         string
	Instructions string
	Inputs       map[string]any
	// Schema names the typed payload expected back; empty for free text.
	Schema string
}

// Response carries the raw reply and, for structured sub-tasks, the typed
// payload if the actor produced one.
type Response struct {
	Task    string
	Raw     string
	Payload json.RawMessage
}

func (r Response) HasPayload() bool {
	return len(r.Payload) > 0
}

type Actor interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// InvocationError wraps an outright failure of the actor call.
type InvocationError struct {
	Task string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("actor %s: %v", e.Task, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

var placeholder = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Interpolate replaces {name} with the matching input. Unknown names are
// left as they are.
func Interpolate(template string, inputs map[string]any) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := inputs[name]
		if !ok {
			return m
		}
		return fmt.Sprint(v)
	})
}

// Prompt renders the full text sent to a model.
func (r Request) Prompt() string {
	var b strings.Builder
	b.WriteString(Interpolate(r.Instructions, r.Inputs))
	if r.Schema != "" {
		fmt.Fprintf(&b, "\n\nReturn the %s payload as a single JSON object in a ```json fenced block.", r.Schema)
	}
	return b.String()
}
