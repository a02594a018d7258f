package core

import (
	"context"
	"reflect"
)

type sourceKind uint8

const (
	sourceNetwork sourceKind = iota
	sourceRequest
	sourceContext
	sourcePlugin
)

// Fixed case positions in selector.cases; plugin cases follow.
const (
	caseNetwork = iota
	caseRequest
	caseContext
	fixedCases
)

// event is one message taken from one source. ok is false when the source
// channel has been closed.
type event struct {
	kind   sourceKind
	plugin string
	line   string
	req    request
	ok     bool
}

// selector multiplexes a dynamic set of channels and reports which source
// each received value came from.
type selector struct {
	cases []reflect.SelectCase
	names []string // parallel to cases
}

func newSelector(network <-chan string, requests <-chan request) *selector {
	return &selector{
		cases: []reflect.SelectCase{
			caseNetwork: {Dir: reflect.SelectRecv, Chan: reflect.ValueOf(network)},
			caseRequest: {Dir: reflect.SelectRecv, Chan: reflect.ValueOf(requests)},
			// A zero Chan never becomes ready until bind is called.
			caseContext: {Dir: reflect.SelectRecv},
		},
		names: make([]string, fixedCases),
	}
}

// bind makes ctx cancellation a source.
func (s *selector) bind(ctx context.Context) {
	s.cases[caseContext].Chan = reflect.ValueOf(ctx.Done())
}

func (s *selector) add(name string, out <-chan string) {
	s.cases = append(s.cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(out)})
	s.names = append(s.names, name)
}

func (s *selector) remove(name string) {
	for i := fixedCases; i < len(s.names); i++ {
		if s.names[i] != name {
			continue
		}
		s.cases = append(s.cases[:i], s.cases[i+1:]...)
		s.names = append(s.names[:i], s.names[i+1:]...)
		return
	}
}

// next blocks until some source is ready.
func (s *selector) next() event {
	chosen, value, ok := reflect.Select(s.cases)

	switch chosen {
	case caseNetwork:
		ev := event{kind: sourceNetwork, ok: ok}
		if ok {
			ev.line = value.String()
		}
		return ev
	case caseRequest:
		ev := event{kind: sourceRequest, ok: ok}
		if ok {
			ev.req = value.Interface().(request)
		}
		return ev
	case caseContext:
		return event{kind: sourceContext}
	default:
		ev := event{kind: sourcePlugin, plugin: s.names[chosen], ok: ok}
		if ok {
			ev.line = value.String()
		}
		return ev
	}
}
