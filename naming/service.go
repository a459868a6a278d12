// Package naming defines the core data model of the registry: service
// identity, instances published by clients, and the denormalized service
// view that gets pushed to subscribers.
package naming

import "fmt"

// Default namespace and group applied when a caller leaves them empty.
const (
	DefaultNamespace = "public"
	DefaultGroup     = "DEFAULT_GROUP"
)

// Service identifies a service in the registry. It is a value type used
// directly as a map key: two Service values naming the same service
// compare equal.
type Service struct {
	Namespace string `json:"namespace"`
	Group     string `json:"group"`
	Name      string `json:"name"`
}

// NewService builds a Service key, filling in the default namespace and
// group for empty fields.
func NewService(namespace, group, name string) Service {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if group == "" {
		group = DefaultGroup
	}
	return Service{Namespace: namespace, Group: group, Name: name}
}

// GroupedName returns the group-qualified service name, e.g.
// "DEFAULT_GROUP@@orders".
func (s Service) GroupedName() string {
	return s.Group + "@@" + s.Name
}

func (s Service) String() string {
	return fmt.Sprintf("%s##%s@@%s", s.Namespace, s.Group, s.Name)
}
