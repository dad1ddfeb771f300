package registry

import (
	"fmt"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"
)

const (
	checkInterval       = "10s"
	checkTimeout        = "1s"
	deregisterCriticals = "1m"
)

type consulRegistry struct {
	agent   *consulapi.Agent
	health  *consulapi.Health
	catalog *consulapi.Catalog
	logger  *zap.SugaredLogger
}

var _ ServiceRegistry = (*consulRegistry)(nil)

// NewConsulRegistry connects to the Consul agent at address and fails if the agent does not answer.
func NewConsulRegistry(address string, logger *zap.SugaredLogger) (ServiceRegistry, error) {
	cfg := consulapi.DefaultConfig()
	cfg.Address = address

	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client for %s: %w", address, err)
	}
	node, err := client.Agent().NodeName()
	if err != nil {
		return nil, fmt.Errorf("consul agent at %s unreachable: %w", address, err)
	}

	logger = logger.Named("consul")
	logger.Infow("Connected to Consul agent", "address", address, "node", node)
	return &consulRegistry{
		agent:   client.Agent(),
		health:  client.Health(),
		catalog: client.Catalog(),
		logger:  logger,
	}, nil
}

func (r *consulRegistry) Register(id, name, address string, port int, tags []string, check *consulapi.AgentServiceCheck) error {
	reg := &consulapi.AgentServiceRegistration{
		ID:      id,
		Name:    name,
		Tags:    tags,
		Port:    port,
		Address: address,
		Check:   check,
		Meta:    map[string]string{"protocol": checkProtocol(check)},
	}
	if err := r.agent.ServiceRegister(reg); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	r.logger.Infow("Registered", "id", id, "protocol", reg.Meta["protocol"], "port", port)
	return nil
}

// checkProtocol labels a registration by the kind of health check it carries.
func checkProtocol(check *consulapi.AgentServiceCheck) string {
	switch {
	case check == nil:
		return "unknown"
	case check.GRPC != "":
		return "grpc"
	default:
		return "http"
	}
}

func (r *consulRegistry) Deregister(id string) error {
	if err := r.agent.ServiceDeregister(id); err != nil {
		return fmt.Errorf("deregister %s: %w", id, err)
	}
	r.logger.Infow("Deregistered", "id", id)
	return nil
}

// Discover returns "host:port" for every instance of name whose checks pass. An instance
// registered without an address is reached through its node's address.
func (r *consulRegistry) Discover(name string, tag string) ([]string, error) {
	entries, _, err := r.health.Service(name, tag, true, nil)
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", name, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("discover %s: %w", name, ErrNoInstances)
	}

	addrs := make([]string, 0, len(entries))
	for _, e := range entries {
		host := e.Service.Address
		if host == "" {
			host = e.Node.Address
		}
		addrs = append(addrs, host+":"+strconv.Itoa(e.Service.Port))
	}
	r.logger.Debugw("Discovered", "name", name, "tag", tag, "addresses", addrs)
	return addrs, nil
}

func (r *consulRegistry) List() (map[string]string, error) {
	services, _, err := r.catalog.Services(nil)
	if err != nil {
		return nil, fmt.Errorf("list catalog services: %w", err)
	}
	out := make(map[string]string, len(services))
	for name, tags := range services {
		out[name] = fmt.Sprint(tags)
	}
	return out, nil
}

// CreateHTTPCheck polls GET http://host:port/path.
func CreateHTTPCheck(serviceID, serviceHost string, servicePort int, checkPath string, interval, timeout string) *consulapi.AgentServiceCheck {
	return &consulapi.AgentServiceCheck{
		CheckID:                        serviceID + "-http",
		Name:                           "HTTP " + checkPath,
		HTTP:                           fmt.Sprintf("http://%s:%d%s", serviceHost, servicePort, checkPath),
		Method:                         "GET",
		Interval:                       interval,
		Timeout:                        timeout,
		DeregisterCriticalServiceAfter: deregisterCriticals,
	}
}

// CreateGRPCCheck calls grpc.health.v1 on grpcTarget.
func CreateGRPCCheck(serviceID, grpcTarget string, interval, timeout string, useTLS bool) *consulapi.AgentServiceCheck {
	return &consulapi.AgentServiceCheck{
		CheckID:                        serviceID + "-grpc",
		Name:                           "gRPC health",
		GRPC:                           grpcTarget,
		GRPCUseTLS:                     useTLS,
		Interval:                       interval,
		Timeout:                        timeout,
		DeregisterCriticalServiceAfter: deregisterCriticals,
	}
}

// InstanceID names one process's registration of a service.
func InstanceID(name, host string, port int) string {
	return fmt.Sprintf("%s-%s-%d", name, host, port)
}

// Endpoint is one listener this process announces.
type Endpoint struct {
	Name  string
	Host  string
	Port  int
	Tags  []string
	Check *consulapi.AgentServiceCheck
}

func (e Endpoint) ID() string {
	return InstanceID(e.Name, e.Host, e.Port)
}

// GRPCEndpoint announces a gRPC listener checked through grpc.health.v1.
func GRPCEndpoint(name, host string, port int, tags ...string) Endpoint {
	e := Endpoint{Name: name, Host: host, Port: port, Tags: tags}
	e.Check = CreateGRPCCheck(e.ID(), fmt.Sprintf("%s:%d", host, port), checkInterval, checkTimeout, false)
	return e
}

// HTTPEndpoint announces an HTTP listener checked with GET healthPath.
func HTTPEndpoint(name, host string, port int, healthPath string, tags ...string) Endpoint {
	e := Endpoint{Name: name, Host: host, Port: port, Tags: tags}
	e.Check = CreateHTTPCheck(e.ID(), host, port, healthPath, checkInterval, checkTimeout)
	return e
}

// RegisterEndpoints registers every endpoint and returns a function deregistering them.
// When one registration fails the earlier ones are rolled back.
func RegisterEndpoints(reg ServiceRegistry, endpoints ...Endpoint) (func(), error) {
	ids := make([]string, 0, len(endpoints))
	deregister := func() {
		for _, id := range ids {
			_ = reg.Deregister(id)
		}
	}
	for _, e := range endpoints {
		if err := reg.Register(e.ID(), e.Name, e.Host, e.Port, e.Tags, e.Check); err != nil {
			deregister()
			return nil, err
		}
		ids = append(ids, e.ID())
	}
	return deregister, nil
}
