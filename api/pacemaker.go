/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package api

import (
	"time"

	"github.com/zhigui-projects/hotstuff-consensus/types"
)

// TimeoutScheduler arms a single timer for a view. Arming again replaces the
// previous timer. When it fires the scheduler calls the callback it was
// created with.
type TimeoutScheduler interface {
	Schedule(view types.View, d time.Duration)
	Stop()
}

type PaceMaker interface {
	// 当前 view
	CurView() types.View
	// 获取 view 的 leader
	GetLeader(view types.View) types.ReplicaID
	// 当前 view 的超时时长
	CurTimeout() time.Duration
	// 启动 pacemaker 的计时
	Start()
	// 处理 QC，可能推进 view
	ProcessQC(qc *types.QuorumCert) (types.View, bool, error)
	// 处理 TC，推进 view
	ProcessTC(tc *types.TimeoutCert) (types.View, bool, error)
	// 本地超时后重新计时
	OnLocalTimeout(view types.View)
	// 收集 new view 消息，返回形成的 TC，以及是否首次达到 f+1
	OnReceiveNewView(nv *types.NewView) (*types.TimeoutCert, bool, error)
	Stop()
}
