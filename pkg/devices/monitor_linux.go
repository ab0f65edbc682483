// USB Defender Core
// Copyright (c) 2026 The USB Defender Project Contributors.
// SPDX-License-Identifier: GPL-3.0-or-later
//
// This file is part of USB Defender Core.
//
// USB Defender Core is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// USB Defender Core is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with USB Defender Core.  If not, see <http://www.gnu.org/licenses/>.

//go:build linux

package devices

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/USBDefenderProject/usb-defender-core/pkg/helpers/syncutil"
	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

const (
	udisks2Service        = "org.freedesktop.UDisks2"
	udisks2Path           = "/org/freedesktop/UDisks2"
	udisks2BlockInterface = "org.freedesktop.UDisks2.Block"
	udisks2FSInterface    = "org.freedesktop.UDisks2.Filesystem"
	dbusObjectManager     = "org.freedesktop.DBus.ObjectManager"

	// rescanInterval is the time between partition table rescans in the
	// fallback monitor, used when UDisks2 is unavailable.
	rescanInterval = 1 * time.Second
)

// linuxMonitor implements Monitor for Linux using D-Bus/UDisks2 signals.
// Devices are detected when their block objects appear, before any mount
// exists, so the enforcer controls the only mount that ever happens.
type linuxMonitor struct {
	conn     *dbus.Conn
	events   chan DeviceEvent
	removals chan string
	stopChan chan struct{}
	tracked  map[dbus.ObjectPath]string // objectPath -> device node
	wg       sync.WaitGroup
	mu       syncutil.RWMutex
	stopOnce sync.Once
}

// isDBusAvailable quickly checks if D-Bus and UDisks2 are available.
func isDBusAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		conn, err := dbus.SystemBusPrivate()
		if err != nil {
			done <- false
			return
		}
		defer func() { _ = conn.Close() }()

		if err := conn.Auth(nil); err != nil {
			done <- false
			return
		}
		if err := conn.Hello(); err != nil {
			done <- false
			return
		}

		obj := conn.Object("org.freedesktop.DBus", "/org/freedesktop/DBus")
		call := obj.CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0)
		if call.Err != nil {
			done <- false
			return
		}

		var names []string
		if err := call.Store(&names); err != nil {
			done <- false
			return
		}

		for _, name := range names {
			if name == udisks2Service {
				done <- true
				return
			}
		}
		done <- false
	}()

	select {
	case available := <-done:
		return available
	case <-ctx.Done():
		return false
	}
}

// NewMonitor creates a Linux device monitor. It tries D-Bus/UDisks2 first
// and falls back to scanning the partition table if D-Bus is unavailable.
func NewMonitor() (Monitor, error) {
	if isDBusAvailable() {
		log.Debug().Msg("using D-Bus/UDisks2 for device detection")
		return &linuxMonitor{
			events:   make(chan DeviceEvent, 10),
			removals: make(chan string, 10),
			stopChan: make(chan struct{}),
			tracked:  make(map[dbus.ObjectPath]string),
		}, nil
	}

	log.Debug().Msg("D-Bus unavailable, using partition scan fallback for device detection")
	return newLinuxMonitorFallback(), nil
}

func (m *linuxMonitor) Events() <-chan DeviceEvent {
	return m.events
}

func (m *linuxMonitor) Removals() <-chan string {
	return m.removals
}

func (m *linuxMonitor) Start() error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	m.conn = conn

	if err := m.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(udisks2Path),
		dbus.WithMatchInterface(dbusObjectManager),
		dbus.WithMatchMember("InterfacesAdded"),
	); err != nil {
		_ = m.conn.Close()
		return fmt.Errorf("failed to add match for InterfacesAdded: %w", err)
	}

	if err := m.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(udisks2Path),
		dbus.WithMatchInterface(dbusObjectManager),
		dbus.WithMatchMember("InterfacesRemoved"),
	); err != nil {
		_ = m.conn.Close()
		return fmt.Errorf("failed to add match for InterfacesRemoved: %w", err)
	}

	signalChan := make(chan *dbus.Signal, 10)
	m.conn.Signal(signalChan)

	m.wg.Add(1)
	go m.listenForSignals(signalChan)

	return nil
}

func (m *linuxMonitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
		if m.conn != nil {
			_ = m.conn.Close()
		}
		close(m.events)
		close(m.removals)
	})
}

func (m *linuxMonitor) Forget(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for path, tracked := range m.tracked {
		if tracked == node {
			delete(m.tracked, path)
			break
		}
	}

	log.Debug().Str("node", node).Msg("forgot device from D-Bus tracking")
}

func (m *linuxMonitor) listenForSignals(signalChan chan *dbus.Signal) {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopChan:
			return
		case signal := <-signalChan:
			if signal == nil {
				return
			}

			switch signal.Name {
			case dbusObjectManager + ".InterfacesAdded":
				m.handleInterfacesAdded(signal)
			case dbusObjectManager + ".InterfacesRemoved":
				m.handleInterfacesRemoved(signal)
			}
		}
	}
}

func (m *linuxMonitor) handleInterfacesAdded(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}

	objectPath, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}

	interfaces, ok := signal.Body[1].(map[string]map[string]dbus.Variant)
	if !ok {
		return
	}

	// Only filesystem-bearing block devices are candidates.
	blockProps, hasBlock := interfaces[udisks2BlockInterface]
	_, hasFS := interfaces[udisks2FSInterface]
	if !hasBlock || !hasFS {
		return
	}

	// Skip system and hidden devices.
	if hintSystem, ok := blockProps["HintSystem"]; ok {
		if isSystem, ok := hintSystem.Value().(bool); ok && isSystem {
			return
		}
	}
	if hintIgnore, ok := blockProps["HintIgnore"]; ok {
		if shouldIgnore, ok := hintIgnore.Value().(bool); ok && shouldIgnore {
			return
		}
	}

	node := getDeviceNode(blockProps)
	if node == "" {
		log.Debug().Str("path", string(objectPath)).Msg("device has no node, skipping")
		return
	}

	event := DeviceEvent{
		Node:       node,
		Label:      getStringProp(blockProps, "IdLabel"),
		Fstype:     getStringProp(blockProps, "IdType"),
		DeviceType: getDeviceType(blockProps),
		SizeBytes:  getSizeBytes(blockProps),
	}

	m.mu.Lock()
	m.tracked[objectPath] = node
	m.mu.Unlock()

	select {
	case m.events <- event:
		log.Debug().
			Str("node", node).
			Str("label", event.Label).
			Str("fstype", event.Fstype).
			Msg("device attach detected")
	case <-m.stopChan:
		return
	}
}

func (m *linuxMonitor) handleInterfacesRemoved(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}

	objectPath, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}

	interfaces, ok := signal.Body[1].([]string)
	if !ok {
		return
	}

	hasBlock := false
	for _, iface := range interfaces {
		if iface == udisks2BlockInterface {
			hasBlock = true
			break
		}
	}
	if !hasBlock {
		return
	}

	m.mu.Lock()
	node, exists := m.tracked[objectPath]
	if exists {
		delete(m.tracked, objectPath)
	}
	m.mu.Unlock()

	if exists {
		select {
		case m.removals <- node:
			log.Debug().Str("node", node).Msg("device detach detected")
		case <-m.stopChan:
			return
		}
	}
}

// getDeviceNode extracts the block device path (e.g. "/dev/sdb1") from
// D-Bus properties.
func getDeviceNode(props map[string]dbus.Variant) string {
	if device, ok := props["Device"]; ok {
		if devicePath, ok := device.Value().([]byte); ok && len(devicePath) > 0 {
			// trailing null byte
			return strings.TrimRight(string(devicePath), "\x00")
		}
	}
	return ""
}

func getStringProp(props map[string]dbus.Variant, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func getSizeBytes(props map[string]dbus.Variant) int64 {
	if v, ok := props["Size"]; ok {
		if size, ok := v.Value().(uint64); ok {
			return int64(size) //nolint:gosec
		}
	}
	return 0
}

func getDeviceType(props map[string]dbus.Variant) string {
	if connectionBus, ok := props["ConnectionBus"]; ok {
		if bus, ok := connectionBus.Value().(string); ok {
			switch bus {
			case "usb":
				return "USB"
			case "sdio":
				return "SD"
			default:
				return "removable"
			}
		}
	}

	if removable, ok := props["Removable"]; ok {
		if isRemovable, ok := removable.Value().(bool); ok && isRemovable {
			return "removable"
		}
	}

	return "unknown"
}

// linuxMonitorFallback implements Monitor by rescanning /proc/partitions.
// Used when D-Bus/UDisks2 is not available on minimal systems.
type linuxMonitorFallback struct {
	events   chan DeviceEvent
	removals chan string
	stopChan chan struct{}
	known    map[string]struct{} // device node -> present
	procRoot string
	sysRoot  string
	wg       sync.WaitGroup
	mu       syncutil.Mutex
	stopOnce sync.Once
}

func newLinuxMonitorFallback() *linuxMonitorFallback {
	return &linuxMonitorFallback{
		events:   make(chan DeviceEvent, 10),
		removals: make(chan string, 10),
		stopChan: make(chan struct{}),
		known:    make(map[string]struct{}),
		procRoot: "/proc",
		sysRoot:  "/sys",
	}
}

func (m *linuxMonitorFallback) Events() <-chan DeviceEvent {
	return m.events
}

func (m *linuxMonitorFallback) Removals() <-chan string {
	return m.removals
}

func (m *linuxMonitorFallback) Start() error {
	m.wg.Add(1)
	go m.scanLoop()
	return nil
}

func (m *linuxMonitorFallback) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
		m.wg.Wait()
		close(m.events)
		close(m.removals)
	})
}

func (m *linuxMonitorFallback) Forget(node string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.known, node)
	log.Debug().Str("node", node).Msg("forgot device from partition tracking")
}

func (m *linuxMonitorFallback) scanLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(rescanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			m.rescan()
		}
	}
}

func (m *linuxMonitorFallback) rescan() {
	current, err := m.removablePartitions()
	if err != nil {
		log.Warn().Err(err).Msg("failed to scan partitions")
		return
	}

	m.mu.Lock()
	var added []DeviceEvent
	var removed []string

	for node, event := range current {
		if _, ok := m.known[node]; !ok {
			m.known[node] = struct{}{}
			added = append(added, event)
		}
	}
	for node := range m.known {
		if _, ok := current[node]; !ok {
			delete(m.known, node)
			removed = append(removed, node)
		}
	}
	m.mu.Unlock()

	for _, event := range added {
		select {
		case m.events <- event:
			log.Debug().Str("node", event.Node).Msg("device attach detected")
		case <-m.stopChan:
			return
		}
	}
	for _, node := range removed {
		select {
		case m.removals <- node:
			log.Debug().Str("node", node).Msg("device detach detected")
		case <-m.stopChan:
			return
		}
	}
}

// removablePartitions reads the kernel partition table and returns the
// partitions whose parent disk is flagged removable.
func (m *linuxMonitorFallback) removablePartitions() (map[string]DeviceEvent, error) {
	data, err := os.ReadFile(filepath.Join(m.procRoot, "partitions"))
	if err != nil {
		return nil, fmt.Errorf("failed to read partition table: %w", err)
	}

	result := make(map[string]DeviceEvent)
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) != 4 || fields[0] == "major" {
			continue
		}

		name := fields[3]
		disk := parentDisk(name)
		if disk == name {
			// whole disks are reported once a partition shows up
			continue
		}
		if !m.isRemovable(disk) {
			continue
		}

		blocks, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			blocks = 0
		}

		node := "/dev/" + name
		result[node] = DeviceEvent{
			Node:       node,
			DeviceType: "removable",
			SizeBytes:  blocks * 1024,
		}
	}
	return result, nil
}

func (m *linuxMonitorFallback) isRemovable(disk string) bool {
	data, err := os.ReadFile(filepath.Join(m.sysRoot, "block", disk, "removable"))
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "1"
}

// parentDisk strips the partition number from a partition name, handling
// both sdb1-style and mmcblk0p1-style names.
func parentDisk(name string) string {
	if i := strings.LastIndex(name, "p"); i > 0 {
		if _, err := strconv.Atoi(name[i+1:]); err == nil {
			if _, err := strconv.Atoi(name[i-1 : i]); err == nil {
				return name[:i]
			}
		}
	}
	return strings.TrimRight(name, "0123456789")
}
