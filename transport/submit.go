/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"

	"github.com/zhigui-projects/hotstuff-consensus/types"
)

// SubmitServer hands client commands to the engine.
type SubmitServer struct {
	submit func(cmds []byte) error
}

func NewSubmitServer(submit func(cmds []byte) error) *SubmitServer {
	return &SubmitServer{submit: submit}
}

func (s *SubmitServer) Submit(_ context.Context, req *types.SubmitRequest) (*types.SubmitResponse, error) {
	if req == nil || len(req.Cmds) == 0 {
		return &types.SubmitResponse{Status: types.StatusBadRequest, Info: "empty command"}, nil
	}
	if err := s.submit(req.Cmds); err != nil {
		return &types.SubmitResponse{Status: types.StatusServiceUnavailable, Info: err.Error()}, nil
	}
	return &types.SubmitResponse{Status: types.StatusSuccess}, nil
}

// SubmitClient sends commands to one replica.
type SubmitClient struct {
	conn   *grpc.ClientConn
	client HotstuffClient
}

func NewSubmitClient(ctx context.Context, address string, opts *TLSOptions) (*SubmitClient, error) {
	conn, err := Dial(ctx, address, opts)
	if err != nil {
		return nil, err
	}
	return &SubmitClient{conn: conn, client: NewHotstuffClient(conn)}, nil
}

func (c *SubmitClient) Submit(ctx context.Context, cmds []byte) error {
	resp, err := c.client.Submit(ctx, &types.SubmitRequest{Cmds: cmds})
	if err != nil {
		return err
	}
	if resp.Status != types.StatusSuccess {
		return errors.Errorf("submit rejected, status: %d, info: %s", resp.Status, resp.Info)
	}
	return nil
}

func (c *SubmitClient) Close() error {
	return c.conn.Close()
}
