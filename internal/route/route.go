// Package route maps a decoded Thrift message to a target cluster.
// The route table is built once from configuration; matching is by exact
// method name or by service-name prefix on "Service:method" style names.
package route

import (
	"fmt"
	"strings"

	"github.com/ferry-io/ferry/internal/thrift"
)

// RouteEntry is the resolved target of a matched route.
type RouteEntry interface {
	// ClusterName returns the name of the upstream cluster.
	ClusterName() string
}

// Route is one matched route. The router holds a borrowed reference for the
// request's lifetime.
type Route interface {
	RouteEntry() RouteEntry
}

// Matcher resolves routes for decoded messages.
type Matcher interface {
	// Match returns the first matching route, or nil if none matches.
	Match(metadata *thrift.MessageMetadata) Route
}

// Rule is one route-table entry from configuration. Exactly one of Method or
// ServiceName should be set; an empty rule matches every message.
type Rule struct {
	// Method matches the method name exactly.
	Method string

	// ServiceName matches messages whose method is "<service>:<method>"
	// with the given service.
	ServiceName string

	// Cluster is the target cluster name.
	Cluster string
}

type methodNameEntry struct {
	method  string
	cluster string
}

func (e *methodNameEntry) ClusterName() string { return e.cluster }
func (e *methodNameEntry) RouteEntry() RouteEntry {
	return e
}

func (e *methodNameEntry) matches(md *thrift.MessageMetadata) bool {
	return e.method == "" || md.MethodName == e.method
}

type serviceNameEntry struct {
	prefix  string // "<service>:"
	cluster string
}

func (e *serviceNameEntry) ClusterName() string { return e.cluster }
func (e *serviceNameEntry) RouteEntry() RouteEntry {
	return e
}

func (e *serviceNameEntry) matches(md *thrift.MessageMetadata) bool {
	return strings.HasPrefix(md.MethodName, e.prefix)
}

type matchable interface {
	Route
	matches(md *thrift.MessageMetadata) bool
}

// TableMatcher is an ordered, first-match-wins route table.
type TableMatcher struct {
	entries []matchable
}

// NewMatcher builds a route table from configuration rules.
func NewMatcher(rules []Rule) (*TableMatcher, error) {
	m := &TableMatcher{}
	for i, r := range rules {
		if r.Cluster == "" {
			return nil, fmt.Errorf("route %d: cluster is required", i)
		}
		if r.Method != "" && r.ServiceName != "" {
			return nil, fmt.Errorf("route %d: method and service_name are mutually exclusive", i)
		}
		if r.ServiceName != "" {
			m.entries = append(m.entries, &serviceNameEntry{
				prefix:  r.ServiceName + ":",
				cluster: r.Cluster,
			})
			continue
		}
		m.entries = append(m.entries, &methodNameEntry{
			method:  r.Method,
			cluster: r.Cluster,
		})
	}
	return m, nil
}

// Match returns the first matching route, or nil.
func (m *TableMatcher) Match(metadata *thrift.MessageMetadata) Route {
	for _, e := range m.entries {
		if e.matches(metadata) {
			return e
		}
	}
	return nil
}
