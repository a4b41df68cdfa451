package ptqueue

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Selector is the compiled predicate this engine consumes; the queue never
// parses selector syntax itself (that is the predicate factory's concern),
// it only evaluates an already-compiled Selector against a message.
type Selector interface {
	Eval(msg *Message) bool
}

// SelectorFactory compiles a selector expression into a Selector, raising
// *QueueError{Kind: ErrKindInvalidSelector} synchronously on a bad
// expression, matching the admin-op error contract.
type SelectorFactory interface {
	Compile(expr string) (Selector, error)
}

// AcceptAllSelector matches every message; the default when a subscription
// registers no selector.
type AcceptAllSelector struct{}

// Eval implements Selector.
func (AcceptAllSelector) Eval(*Message) bool { return true }

// CELSelectorFactory compiles selector expressions with CEL, exposing the
// message's group id, headers, persistence, redelivery count, payload size,
// the payload as a plain string (text), and the current time in Unix
// milliseconds (now_ms) as bindings. The payload is not JSON-decoded.
type CELSelectorFactory struct{}

func (CELSelectorFactory) Compile(expr string) (Selector, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return AcceptAllSelector{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("group_id", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("persistent", cel.BoolType),
		cel.Variable("redelivery_count", cel.IntType),
		cel.Variable("size", cel.IntType),
		cel.Variable("text", cel.StringType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return nil, &QueueError{Kind: ErrKindInvalidSelector, Err: err}
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return nil, &QueueError{Kind: ErrKindInvalidSelector, Err: iss.Err()}
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return nil, &QueueError{Kind: ErrKindInvalidSelector, Err: iss2.Err()}
	}
	prog, err := env.Program(checked)
	if err != nil {
		return nil, &QueueError{Kind: ErrKindInvalidSelector, Err: err}
	}
	return &celSelector{prog: prog}, nil
}

type celSelector struct {
	prog cel.Program
}

func (c *celSelector) Eval(msg *Message) bool {
	out, _, err := c.prog.Eval(map[string]any{
		"group_id":         msg.GroupID,
		"headers":          msg.Headers,
		"persistent":       msg.Persistent,
		"redelivery_count": int64(msg.RedeliveryCount),
		"size":             int64(len(msg.Payload)),
		"text":             string(msg.Payload),
		"now_ms":           time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
