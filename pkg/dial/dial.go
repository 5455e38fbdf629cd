package dial

import (
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/relayerr"
)

// Pool caches one client connection per endpoint. grpc.ClientConn is safe
// for concurrent use, so a single connection per driver or peer suffices.
type Pool struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewPool creates an empty connection pool.
func NewPool() *Pool {
	return &Pool{conns: make(map[string]*grpc.ClientConn)}
}

// Get returns the pooled connection for the endpoint, dialing it on first
// use. TLS endpoints are verified against the trust cert named in config,
// with SNI set to the endpoint hostname.
func (p *Pool) Get(loc config.Location) (*grpc.ClientConn, error) {
	target := loc.Hostname + ":" + loc.Port

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[target]; ok {
		return conn, nil
	}

	var creds credentials.TransportCredentials
	if loc.TLS {
		tlsCreds, err := credentials.NewClientTLSFromFile(loc.TLSCACertPath, loc.Hostname)
		if err != nil {
			return nil, relayerr.Wrap(relayerr.Transport, fmt.Sprintf("failed to load trust cert %s", loc.TLSCACertPath), err)
		}
		creds = tlsCreds
	} else {
		creds = insecure.NewCredentials()
	}

	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, relayerr.Wrap(relayerr.Transport, fmt.Sprintf("failed to dial %s", target), err)
	}
	p.conns[target] = conn
	return conn, nil
}

// Close tears down every pooled connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for target, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.conns, target)
	}
	return firstErr
}
