/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"context"

	"google.golang.org/grpc"

	"github.com/zhigui-projects/hotstuff-consensus/types"
)

// Service descriptors of the replica rpc surface. Messages travel as cbor
// through the codec registered in codec.go.

const (
	broadcastMethod = "/hotstuff.AtomicBroadcast/Broadcast"
	submitMethod    = "/hotstuff.Hotstuff/Submit"
)

// AtomicBroadcastServer pushes consensus messages to the replicas dialing in.
type AtomicBroadcastServer interface {
	Broadcast(AtomicBroadcast_BroadcastServer) error
}

type AtomicBroadcast_BroadcastServer interface {
	Send(*types.Message) error
	Recv() (*types.Message, error)
	grpc.ServerStream
}

type atomicBroadcastBroadcastServer struct {
	grpc.ServerStream
}

func (x *atomicBroadcastBroadcastServer) Send(m *types.Message) error {
	return x.ServerStream.SendMsg(m)
}

func (x *atomicBroadcastBroadcastServer) Recv() (*types.Message, error) {
	m := new(types.Message)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _AtomicBroadcast_Broadcast_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(AtomicBroadcastServer).Broadcast(&atomicBroadcastBroadcastServer{stream})
}

var AtomicBroadcast_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "hotstuff.AtomicBroadcast",
	HandlerType: (*AtomicBroadcastServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Broadcast",
			Handler:       _AtomicBroadcast_Broadcast_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "hotstuff",
}

func RegisterAtomicBroadcastServer(s grpc.ServiceRegistrar, srv AtomicBroadcastServer) {
	s.RegisterService(&AtomicBroadcast_ServiceDesc, srv)
}

type AtomicBroadcastClient interface {
	Broadcast(ctx context.Context, opts ...grpc.CallOption) (AtomicBroadcast_BroadcastClient, error)
}

type AtomicBroadcast_BroadcastClient interface {
	Send(*types.Message) error
	Recv() (*types.Message, error)
	grpc.ClientStream
}

type atomicBroadcastClient struct {
	cc grpc.ClientConnInterface
}

func NewAtomicBroadcastClient(cc grpc.ClientConnInterface) AtomicBroadcastClient {
	return &atomicBroadcastClient{cc}
}

func (c *atomicBroadcastClient) Broadcast(ctx context.Context, opts ...grpc.CallOption) (AtomicBroadcast_BroadcastClient, error) {
	stream, err := c.cc.NewStream(ctx, &AtomicBroadcast_ServiceDesc.Streams[0], broadcastMethod, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return &atomicBroadcastBroadcastClient{stream}, nil
}

type atomicBroadcastBroadcastClient struct {
	grpc.ClientStream
}

func (x *atomicBroadcastBroadcastClient) Send(m *types.Message) error {
	return x.ClientStream.SendMsg(m)
}

func (x *atomicBroadcastBroadcastClient) Recv() (*types.Message, error) {
	m := new(types.Message)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// HotstuffServer accepts client commands.
type HotstuffServer interface {
	Submit(context.Context, *types.SubmitRequest) (*types.SubmitResponse, error)
}

func _Hotstuff_Submit_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(types.SubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(HotstuffServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: submitMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(HotstuffServer).Submit(ctx, req.(*types.SubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var Hotstuff_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "hotstuff.Hotstuff",
	HandlerType: (*HotstuffServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Submit",
			Handler:    _Hotstuff_Submit_Handler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hotstuff",
}

func RegisterHotstuffServer(s grpc.ServiceRegistrar, srv HotstuffServer) {
	s.RegisterService(&Hotstuff_ServiceDesc, srv)
}

type HotstuffClient interface {
	Submit(ctx context.Context, in *types.SubmitRequest, opts ...grpc.CallOption) (*types.SubmitResponse, error)
}

type hotstuffClient struct {
	cc grpc.ClientConnInterface
}

func NewHotstuffClient(cc grpc.ClientConnInterface) HotstuffClient {
	return &hotstuffClient{cc}
}

func (c *hotstuffClient) Submit(ctx context.Context, in *types.SubmitRequest, opts ...grpc.CallOption) (*types.SubmitResponse, error) {
	out := new(types.SubmitResponse)
	if err := c.cc.Invoke(ctx, submitMethod, in, out, withCodec(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
