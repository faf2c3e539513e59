package branchstatus

import (
	"context"
	"net"
	"time"
)

// probeTimeout is the per-socket dial timeout (§4.2 "2 s timeout").
const probeTimeout = 2 * time.Second

// Dialer abstracts net.Dialer.DialContext for testing.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

var defaultDialer Dialer = &net.Dialer{}

// TCPProbe checks whether address is reachable within probeTimeout,
// returning ProbeHealthy or ProbeStopped. It never returns ProbeError or
// ProbeUnknown: those come from the VM-phase signal or an unparseable
// pod IP, not from probe dial outcomes.
func TCPProbe(ctx context.Context, dialer Dialer, address string) ProbeResult {
	if dialer == nil {
		dialer = defaultDialer
	}
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return ProbeStopped
	}
	_ = conn.Close()
	return ProbeHealthy
}

// ServicePort names one of the probed service ports (§4.2 "database,
// meta, rest, storage if file storage enabled").
type ServicePort struct {
	Name string
	Port int
}

// RequiredProbes returns the service ports to probe for a branch,
// including the storage port only when file storage is enabled.
func RequiredProbes(enableFileStorage bool) []ServicePort {
	probes := []ServicePort{
		{Name: "database", Port: 5432},
		{Name: "meta", Port: 8080},
		{Name: "rest", Port: 3000},
	}
	if enableFileStorage {
		probes = append(probes, ServicePort{Name: "storage", Port: 5000})
	}
	return probes
}
