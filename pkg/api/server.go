package api

import (
	"fmt"
	"net"

	networkspb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/networks"
	relaypb "github.com/hyperledger-cacti/cacti/weaver/common/protos-go/v2/relay"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/satp"
	"github.com/cuemby/relay/pkg/services/datatransfer"
	"github.com/cuemby/relay/pkg/services/eventpublish"
	"github.com/cuemby/relay/pkg/services/eventsubscribe"
	"github.com/cuemby/relay/pkg/services/network"
)

// Services bundles the relay's five gRPC service implementations.
type Services struct {
	Network        *network.Service
	DataTransfer   *datatransfer.Service
	EventSubscribe *eventsubscribe.Service
	EventPublish   *eventpublish.Service
	SATP           *satp.Service
}

// Server hosts every relay surface on a single gRPC listener: the
// client-facing Network service plus the four peer-facing protocols.
type Server struct {
	grpc *grpc.Server
}

// NewServer builds the gRPC server, with TLS when the relay config
// enables it.
func NewServer(resolver *config.Resolver, services Services) (*Server, error) {
	var opts []grpc.ServerOption
	_, useTLS, certPath, keyPath := resolver.Listen()
	if useTLS {
		creds, err := credentials.NewServerTLSFromFile(certPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load server TLS credentials: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	}
	grpcServer := grpc.NewServer(opts...)

	networkspb.RegisterNetworkServer(grpcServer, services.Network)
	relaypb.RegisterDataTransferServer(grpcServer, services.DataTransfer)
	relaypb.RegisterEventSubscribeServer(grpcServer, services.EventSubscribe)
	relaypb.RegisterEventPublishServer(grpcServer, services.EventPublish)
	relaypb.RegisterSATPServer(grpcServer, services.SATP)

	return &Server{grpc: grpcServer}, nil
}

// Start serves on addr until Stop is called. It blocks.
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	logger := log.WithComponent("api")
	logger.Info().Str("addr", addr).Msg("relay gRPC server listening")
	return s.grpc.Serve(lis)
}

// Stop gracefully stops the gRPC server
func (s *Server) Stop() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
}
