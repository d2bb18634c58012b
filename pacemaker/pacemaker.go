/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package pacemaker keeps replicas in the same view: it owns the current
// view, the view timer and the collection of NewView messages into timeout
// certificates.
package pacemaker

import (
	"github.com/pkg/errors"

	"github.com/zhigui-projects/hotstuff-consensus/common/log"
)

var logger = log.GetLogger("module", "pacemaker")

// ErrFutureView rejects NewViews beyond types.FutureViewWindow.
var ErrFutureView = errors.New("new view too far ahead")
