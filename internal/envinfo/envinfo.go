// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package envinfo collects the process/machine context the channel
// façade attaches to every telemetry item (spec.md §4.4 "common
// context"): a stable device identifier, host platform, and the
// current process's name and PID.
package envinfo

import (
	"fmt"
	"os"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/nishisan-dev/telepulse/internal/telemetry"
)

// Info is the machine/process snapshot collected once at channel
// construction.
type Info struct {
	DeviceID    string
	Hostname    string
	OS          string
	Platform    string
	PlatformVer string
	ProcessName string
	ProcessID   int32
}

// Collect gathers host and process info via gopsutil. Individual
// collection failures are tolerated — spec.md treats enrichment as a
// best-effort collaborator, never a reason to fail Channel
// construction — and leave the corresponding field blank.
func Collect() Info {
	var info Info

	if h, err := host.Info(); err == nil {
		info.DeviceID = h.HostID
		info.Hostname = h.Hostname
		info.OS = h.OS
		info.Platform = h.Platform
		info.PlatformVer = h.PlatformVersion
	}

	pid := int32(os.Getpid())
	info.ProcessID = pid
	if p, err := process.NewProcess(pid); err == nil {
		if name, err := p.Name(); err == nil {
			info.ProcessName = name
		}
	}

	return info
}

// ToContext projects Info plus the channel's static identity fields
// into a telemetry.Context for Merge/Serialize.
func ToContext(info Info, roleName, sdkVersion, sessionID string) telemetry.Context {
	roleInstance := info.Hostname
	if roleInstance == "" {
		roleInstance = fmt.Sprintf("pid-%d", info.ProcessID)
	}
	return telemetry.Context{
		RoleName:     roleName,
		RoleInstance: roleInstance,
		DeviceID:     info.DeviceID,
		SDKVersion:   sdkVersion,
		SessionID:    sessionID,
	}
}
