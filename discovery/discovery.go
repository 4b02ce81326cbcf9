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

// Package discovery implements the UDP Discovery Responder: a
// fixed-probe/unicast-reply service used by configuration tools to
// find devices on the local network (spec.md §4.10).
package discovery

import (
	"context"
	"fmt"
	"net"

	"github.com/facebook/nportd/devconfig"
	"golang.org/x/net/ipv4"
)

// SearchPort is the fixed UDP port the responder listens on.
const SearchPort = 48899

// Probe is the fixed ASCII string a discovery client sends (spec.md §6).
const Probe = "SEARCH_DEVICE_WQ"

// Responder answers discovery probes with a single-line device summary.
type Responder struct {
	Store *devconfig.Store
}

// ListenAndServe binds SearchPort on every interface and replies to
// every matching probe until ctx is canceled.
func (r *Responder) ListenAndServe(ctx context.Context) error {
	pc, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", SearchPort))
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		pc.Close()
	}()

	// ipv4.NewPacketConn lets a reply go out the same interface the
	// probe arrived on, rather than whatever the routing table picks
	// (spec.md §4.10 "atomic read under config mutex, then sendto").
	pconn := ipv4.NewPacketConn(pc)
	_ = pconn.SetControlMessage(ipv4.FlagInterface, true)

	buf := make([]byte, 256)
	for {
		n, cm, src, err := pconn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		if string(buf[:n]) != Probe {
			continue
		}
		reply := r.summary()
		var wcm *ipv4.ControlMessage
		if cm != nil {
			wcm = &ipv4.ControlMessage{IfIndex: cm.IfIndex}
		}
		_, _ = pconn.WriteTo([]byte(reply), wcm, src)
	}
}

func (r *Responder) summary() string {
	var dev devconfig.Device
	r.Store.View(func(cfg *devconfig.SystemConfiguration) { dev = cfg.Device })

	mac := fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		dev.MAC[0], dev.MAC[1], dev.MAC[2], dev.MAC[3], dev.MAC[4], dev.MAC[5])
	fw := fmt.Sprintf("%d.%d.%d", dev.FWVersion[0], dev.FWVersion[1], dev.FWVersion[2])
	hw := fmt.Sprintf("%d.%d.%d", dev.HWVersion[0], dev.HWVersion[1], dev.HWVersion[2])
	ip := ipString(dev.Net[0].IP)

	return fmt.Sprintf("%s;%s;%d;%s;%s;%s", dev.ModelName, mac, dev.SerialNo, fw, hw, ip)
}

func ipString(v uint32) string {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).String()
}
