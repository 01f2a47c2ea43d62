package model

import "maps"

// DefaultInterval is the number of seconds between server pushes when an
// interval request does not name one.
const DefaultInterval = 60

// IntervalOption is the option key carrying the push interval in seconds.
const IntervalOption = "interval"

// Kind discriminates outbound request types.
type Kind string

const (
	KindSearch         Kind = "search"
	KindRandom         Kind = "random"
	KindRandomInterval Kind = "randomInterval"
)

// Options is the free-form option mapping sent with a request.
type Options map[string]any

// Clone returns a shallow copy that is never nil.
func (o Options) Clone() Options {
	out := make(Options, len(o))
	maps.Copy(out, o)
	return out
}

// Request is implemented by every outbound request type.
type Request interface {
	Kind() Kind
}

type SearchRequest struct {
	Options Options `json:"options,omitempty"`
}

func (SearchRequest) Kind() Kind { return KindSearch }

// WireOptions returns the mapping emitted over the socket.
func (r SearchRequest) WireOptions() Options { return r.Options.Clone() }

type RandomRequest struct {
	Options Options `json:"options,omitempty"`
}

func (RandomRequest) Kind() Kind { return KindRandom }

// WireOptions returns the mapping emitted over the socket.
func (r RandomRequest) WireOptions() Options { return r.Options.Clone() }

// RandomIntervalRequest asks the server to push random messages every
// Interval seconds. Interval takes precedence over an "interval" option.
type RandomIntervalRequest struct {
	Options  Options `json:"options,omitempty"`
	Interval int     `json:"interval,omitempty"`
}

func (RandomIntervalRequest) Kind() Kind { return KindRandomInterval }

// WireOptions returns the emitted mapping with the interval resolved.
// An unset interval (missing or falsy) falls back to def.
func (r RandomIntervalRequest) WireOptions(def int) Options {
	out := r.Options.Clone()
	switch {
	case r.Interval > 0:
		out[IntervalOption] = r.Interval
	case !truthy(out[IntervalOption]):
		if def <= 0 {
			def = DefaultInterval
		}
		out[IntervalOption] = def
	}
	return out
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case float32:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}
