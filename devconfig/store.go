/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package devconfig

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/facebook/nportd/flashenv"
	"github.com/jsimonetti/rtnetlink/rtnl"
	log "github.com/sirupsen/logrus"
)

// settingsFlashOffset is the flash region reserved for the marshaled
// SystemConfiguration blob, distinct from the boot-environment region
// flashenv.Env manages.
const settingsFlashOffset = 0x100000

const settingsMaxSize = 0x10000

// Store owns the single process-wide SystemConfiguration, guarded by
// one mutex standing in for the source's priority-inheriting lock (see
// DESIGN.md). Every writer, and every reader needing a coherent
// multi-field snapshot, takes mu for the duration of the access.
type Store struct {
	// mu stands in for the source's priority-inheriting mutex; Go has
	// no such primitive, and none of the corpus's dependencies supply
	// one either (see DESIGN.md devconfig entry).
	mu    sync.Mutex
	cfg   SystemConfiguration
	flash flashenv.Flash
}

// New constructs a Store backed by the given flash device, without
// loading anything yet; call Init to populate it.
func New(flash flashenv.Flash) *Store {
	return &Store{flash: flash}
}

// Init loads the configuration from flash; on any failure it falls back
// to factory defaults and immediately persists them (spec.md §4.4).
func (s *Store) Init() error {
	if err := s.LoadFromFlash(); err != nil {
		log.Warnf("devconfig: load from flash failed (%v), loading defaults", err)
		s.LoadDefaults()
		return s.Save()
	}
	return nil
}

// LoadDefaults resets the in-memory configuration to the factory table
// (spec.md §4.4): model/MAC/serial/versions, a default server name and
// password, DHCP-preferred IP mode with a fixed fallback address,
// per-channel alias "Port N+1", 9600 8N1 no-flow, TCP_SERVER mode with
// max_connections = 4.
func (s *Store) LoadDefaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = defaultSystemConfiguration()
}

// LoadFromFlash reads and unmarshals the persisted configuration blob.
func (s *Store) LoadFromFlash() error {
	buf := make([]byte, settingsMaxSize)
	if err := s.flash.Read(settingsFlashOffset, buf); err != nil {
		return fmt.Errorf("devconfig: read settings region: %w", err)
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	if n == 0 {
		return fmt.Errorf("devconfig: settings region is empty")
	}
	var cfg SystemConfiguration
	if err := json.Unmarshal(buf[:n], &cfg); err != nil {
		return fmt.Errorf("devconfig: unmarshal settings: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	return nil
}

// Save persists the in-memory configuration to flash under the mutex.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, err := json.Marshal(&s.cfg)
	if err != nil {
		return fmt.Errorf("devconfig: marshal settings: %w", err)
	}
	if len(blob)+1 > settingsMaxSize {
		return fmt.Errorf("devconfig: settings blob too large (%d bytes)", len(blob))
	}
	if err := s.flash.Erase(settingsFlashOffset, settingsMaxSize); err != nil {
		return fmt.Errorf("devconfig: erase settings region: %w", err)
	}
	padded := make([]byte, settingsMaxSize)
	copy(padded, blob)
	if err := s.flash.Write(settingsFlashOffset, padded); err != nil {
		return fmt.Errorf("devconfig: write settings region: %w", err)
	}
	return nil
}

// ApplyNetwork updates the stored network settings for the interface named ifName
// and pushes the address/route to the real Linux network stack via
// rtnetlink, the concrete platform primitive spec.md §4.4 leaves open.
func (s *Store) ApplyNetwork(ifName string, ip, mask, gw net.IP, dhcp bool) error {
	s.mu.Lock()
	if ifIdx := ifIndexForName(ifName); ifIdx >= 0 && ifIdx < NumNetInterfaces {
		s.cfg.Device.Net[ifIdx] = NetworkInterface{
			IP:      ipToUint32(ip),
			Mask:    ipToUint32(mask),
			Gateway: ipToUint32(gw),
			DHCP:    dhcp,
		}
	}
	s.mu.Unlock()

	iface, err := net.InterfaceByName(ifName)
	if err != nil {
		return fmt.Errorf("devconfig: lookup interface %s: %w", ifName, err)
	}

	conn, err := rtnl.Dial(nil)
	if err != nil {
		return fmt.Errorf("devconfig: netlink dial: %w", err)
	}
	defer conn.Close()

	ones, _ := net.IPMask(mask.To4()).Size()
	if err := conn.AddrReplace(iface, &net.IPNet{IP: ip, Mask: net.CIDRMask(ones, 32)}); err != nil {
		return fmt.Errorf("devconfig: addr replace: %w", err)
	}
	if gw != nil && !gw.IsUnspecified() {
		if err := conn.RouteReplace(iface, net.IPNet{IP: net.IPv4zero, Mask: net.CIDRMask(0, 32)}, gw); err != nil {
			return fmt.Errorf("devconfig: route replace: %w", err)
		}
	}
	return nil
}

// Flash returns the underlying flash device, for subsystems (firmware
// update, boot environment) that manage their own regions outside the
// settings blob.
func (s *Store) Flash() flashenv.Flash {
	return s.flash
}

// View runs fn with the config mutex held, for formatting outputs and
// coherent multi-field reads (spec.md §4.4, §5). fn must not retain cfg
// beyond its own scope.
func (s *Store) View(fn func(cfg *SystemConfiguration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}

// Mutate runs fn with the config mutex held for a read-modify-write.
func (s *Store) Mutate(fn func(cfg *SystemConfiguration)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}

func ifIndexForName(name string) int {
	// The device only ever has NumNetInterfaces physical interfaces;
	// name->index resolution for eth0/eth1 is the simplest stable
	// mapping available without a platform-specific interface table.
	switch name {
	case "eth0":
		return 0
	case "eth1":
		return 1
	default:
		return -1
	}
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	if v4 == nil {
		return 0
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}
