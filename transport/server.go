/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/zhigui-projects/hotstuff-consensus/common/log"
)

var logger = log.GetLogger("module", "transport")

// minPingInterval is the most frequent keepalive a peer may send.
var minPingInterval = time.Minute

// GrpcServer serves the replica rpc surface on one listener.
type GrpcServer struct {
	listener net.Listener
	server   *grpc.Server
}

// NewGrpcServer listens on address right away, so a ":0" port is resolved
// by the time Address is called.
func NewGrpcServer(address string, opts *TLSOptions) (*GrpcServer, error) {
	if address == "" {
		return nil, errors.New("missing address parameter")
	}
	serverOpts, err := serverOptions(opts)
	if err != nil {
		return nil, err
	}
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", address)
	}
	return &GrpcServer{listener: listener, server: grpc.NewServer(serverOpts...)}, nil
}

func serverOptions(opts *TLSOptions) ([]grpc.ServerOption, error) {
	serverOpts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    keepaliveTime,
			Timeout: keepaliveTimeout,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             minPingInterval,
			PermitWithoutStream: true,
		}),
		grpc.MaxSendMsgSize(MaxMsgSize),
		grpc.MaxRecvMsgSize(MaxMsgSize),
		grpc.ConnectionTimeout(DialTimeout),
		grpc.ChainUnaryInterceptor(logUnary),
	}
	tlsConfig, err := opts.listenConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}
	return serverOpts, nil
}

// Address is the resolved listen address.
func (s *GrpcServer) Address() string {
	return s.listener.Addr().String()
}

// Server exposes the grpc.Server for service registration.
func (s *GrpcServer) Server() *grpc.Server {
	return s.server
}

// Start serves until Stop is called.
func (s *GrpcServer) Start() error {
	if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

// Stop closes the listener and every open stream.
func (s *GrpcServer) Stop() {
	s.server.Stop()
}

func logUnary(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		logger.Warning("rpc failed", "method", info.FullMethod, "elapsed", time.Since(start), "error", err)
	} else {
		logger.Debug("rpc served", "method", info.FullMethod, "elapsed", time.Since(start))
	}
	return resp, err
}
