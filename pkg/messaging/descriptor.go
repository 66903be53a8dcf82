// Package messaging defines the message descriptors, the wire envelope, and
// the boundary types exchanged between the broker transport and the
// sender/receiver handlers.
package messaging

import (
	"fmt"
	"strings"
)

// Descriptor identifies one logical message type and its broker topology.
// Descriptors are immutable configuration values, defined once per message
// type and shared between the publishing and consuming sides.
type Descriptor struct {
	// Name is the stable identifier for the message type (e.g. "OrderCreated").
	Name string `json:"name"`

	// Description is human-readable text used in logs and audit remarks.
	Description string `json:"description"`

	// ExchangeName and RoutingKey address the publish side.
	ExchangeName string `json:"exchangeName"`
	RoutingKey   string `json:"routingKey"`

	// QueueName addresses the consume side.
	QueueName string `json:"queueName"`
}

// BusinessType returns the lowercased descriptor name, the form stored on
// audit records.
func (d Descriptor) BusinessType() string {
	return strings.ToLower(d.Name)
}

// Registry is an enumerable set of descriptors keyed by name.
type Registry struct {
	descriptors map[string]Descriptor
	order       []string
}

// NewRegistry creates a Registry from the given descriptors. It returns an
// error if a name is empty or registered twice.
func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{descriptors: make(map[string]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.Name == "" {
			return nil, fmt.Errorf("descriptor with empty name (queue %q)", d.QueueName)
		}
		if _, exists := r.descriptors[d.Name]; exists {
			return nil, fmt.Errorf("duplicate descriptor name %q", d.Name)
		}
		r.descriptors[d.Name] = d
		r.order = append(r.order, d.Name)
	}
	return r, nil
}

// Lookup returns the descriptor registered under name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// All returns the descriptors in registration order.
func (r *Registry) All() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.descriptors[name])
	}
	return out
}
