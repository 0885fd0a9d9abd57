// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package netmgmt

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

// Info describes the controller radio. Fields are nil when the radio did
// not answer the corresponding query.
type Info struct {
	Capabilities *serialapi.Capabilities
	Version      *serialapi.Version
	InitData     *serialapi.InitData
}

// Info queries capabilities, library version and the node list.
func (c *Controller) Info() (*Info, error) {
	info := &Info{}

	f, err := c.query(serialapi.GetCapabilities())
	if err != nil {
		return info, err
	}
	if info.Capabilities, err = serialapi.ParseCapabilities(f); err != nil {
		c.log.Warn("capabilities unavailable", zap.Error(err))
	}

	if f, err = c.query(serialapi.GetVersion()); err != nil {
		return info, err
	}
	if info.Version, err = serialapi.ParseVersion(f); err != nil {
		c.log.Warn("version unavailable", zap.Error(err))
	}

	if f, err = c.query(serialapi.GetInitData()); err != nil {
		return info, err
	}
	if info.InitData, err = serialapi.ParseInitData(f); err != nil {
		c.log.Warn("init data unavailable", zap.Error(err))
	}

	return info, nil
}

// query sends cmd and returns its response frame, which may be nil
func (c *Controller) query(cmd []byte) (*serialapi.Frame, error) {
	ex, err := c.t.SendCommand(cmd, true, c.cfg.FrameWait)
	if err != nil {
		return nil, fmt.Errorf("query 0x%02X: %w", cmd[0], err)
	}
	return ex.Response, nil
}
