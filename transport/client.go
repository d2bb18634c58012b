/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
)

var (
	// MaxMsgSize bounds a single consensus message or submit request.
	MaxMsgSize = 32 * 1024 * 1024
	// DialTimeout bounds one connection attempt to a replica.
	DialTimeout = 3 * time.Second
	// keepalive pings between replicas
	keepaliveTime    = time.Minute
	keepaliveTimeout = 20 * time.Second
)

// Dial connects to the replica at address and blocks until the connection
// is ready, ctx is done or DialTimeout passes.
func Dial(ctx context.Context, address string, opts *TLSOptions) (*grpc.ClientConn, error) {
	dialOpts, err := dialOptions(opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()
	conn, err := grpc.DialContext(ctx, address, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "grpc client failed to connect to %s", address)
	}
	return conn, nil
}

func dialOptions(opts *TLSOptions) ([]grpc.DialOption, error) {
	creds := insecure.NewCredentials()
	tlsConfig, err := opts.dialConfig()
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}
	return []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                keepaliveTime,
			Timeout:             keepaliveTimeout,
			PermitWithoutStream: true,
		}),
		grpc.WithBlock(),
		grpc.FailOnNonTempDialError(true),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(MaxMsgSize),
			grpc.MaxCallSendMsgSize(MaxMsgSize),
		),
	}, nil
}
