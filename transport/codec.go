/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package transport

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the grpc content subtype of every hotstuff rpc.
const CodecName = "cbor"

type cborCodec struct{}

func (cborCodec) Marshal(v interface{}) ([]byte, error)      { return cbor.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v interface{}) error { return cbor.Unmarshal(data, v) }
func (cborCodec) Name() string                               { return CodecName }

func init() {
	encoding.RegisterCodec(cborCodec{})
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}
