package registry

import (
	"errors"

	consulapi "github.com/hashicorp/consul/api"
)

// ErrNoInstances is returned by Discover when no healthy instance is registered.
var ErrNoInstances = errors.New("no healthy instances")

// ServiceRegistry defines the interface for service registration and discovery.
type ServiceRegistry interface {
	// Register registers a specific service instance.
	// id: Unique identifier for this instance, see InstanceID.
	// name: Logical name of the service (e.g., "permission-center-grpc").
	// check: Health check configuration, may be nil.
	Register(id, name, address string, port int, tags []string, check *consulapi.AgentServiceCheck) error

	// Deregister removes a service instance using its unique ID.
	Deregister(id string) error

	// Discover finds healthy instances of a service by name and optional tag.
	// Returns a list of "host:port" strings.
	Discover(name string, tag string) ([]string, error)

	// List retrieves a map of service names to their tags.
	List() (map[string]string, error)
}
