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

package connmgr

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/facebook/nportd/devconfig"
	log "github.com/sirupsen/logrus"
)

// tcpClientReevalInterval is how often a live TCP_CLIENT connection's
// connection_control expression is re-evaluated against fresh channel
// counters to decide whether to force a reconnect.
const tcpClientReevalInterval = 5 * time.Second

const tcpClientDialTimeout = 3 * time.Second

// tcpClientSupervisor owns the up-to-4 outbound dial loops TCP_CLIENT
// mode requires per channel (spec.md §4.5 setup_channel TCP_CLIENT
// case).
type tcpClientSupervisor struct {
	m *Manager

	mu      sync.Mutex
	cancels map[int][]context.CancelFunc
}

func newTCPClientSupervisor(m *Manager) *tcpClientSupervisor {
	return &tcpClientSupervisor{m: m, cancels: make(map[int][]context.CancelFunc)}
}

func (s *tcpClientSupervisor) setup(ctx context.Context, channel int, params devconfig.TCPClientParams) {
	for _, dest := range params.Destinations {
		if dest.DestIP == 0 || dest.DestPort == 0 {
			continue // spec.md §3 invariant: skip unset destinations, no socket created
		}
		dialCtx, cancel := context.WithCancel(ctx)
		s.mu.Lock()
		s.cancels[channel] = append(s.cancels[channel], cancel)
		s.mu.Unlock()
		go s.dialLoop(dialCtx, channel, dest, params.ConnectionControl)
	}
}

func (s *tcpClientSupervisor) teardown(channel int) {
	s.mu.Lock()
	cancels := s.cancels[channel]
	delete(s.cancels, channel)
	s.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (s *tcpClientSupervisor) dialLoop(ctx context.Context, channel int, dest devconfig.TCPDestination, controlExpr string) {
	retries := 0
	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		addr := fmt.Sprintf("%s:%d", ipString(dest.DestIP), dest.DestPort)
		conn, err := net.DialTimeout("tcp4", addr, tcpClientDialTimeout)
		if err != nil {
			log.Debugf("connmgr: tcp_client channel %d dial %s failed: %v", channel, addr, err)
			retries++
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		s.m.handleAccepted(channel, ConnData, conn)

		if !s.waitForReconnectSignal(ctx, channel, controlExpr, &retries) {
			return
		}
	}
}

// waitForReconnectSignal blocks until either ctx is canceled (returns
// false) or the connection_control expression evaluates truthy against
// live counters (returns true, so the caller redials).
func (s *tcpClientSupervisor) waitForReconnectSignal(ctx context.Context, channel int, controlExpr string, retries *int) bool {
	if controlExpr == "" {
		<-ctx.Done()
		return false
	}
	ticker := time.NewTicker(tcpClientReevalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if s.shouldReconnect(channel, controlExpr, *retries) {
				*retries++
				return true
			}
		}
	}
}

// shouldReconnect evaluates controlExpr (e.g. "rx_count == 0 && retries
// < 5") against the channel's live counters, giving concrete semantics
// to spec.md's otherwise-opaque connection_control field.
func (s *tcpClientSupervisor) shouldReconnect(channel int, controlExpr string, retries int) bool {
	expr, err := govaluate.NewEvaluableExpression(controlExpr)
	if err != nil {
		log.Warnf("connmgr: channel %d invalid connection_control %q: %v", channel, controlExpr, err)
		return false
	}
	var rx, tx uint64
	s.m.store.View(func(c *devconfig.SystemConfiguration) {
		rx = c.Channels[channel].RxCount
		tx = c.Channels[channel].TxCount
	})
	result, err := expr.Evaluate(map[string]interface{}{
		"rx_count": float64(rx),
		"tx_count": float64(tx),
		"retries":  float64(retries),
	})
	if err != nil {
		log.Warnf("connmgr: channel %d connection_control evaluation error: %v", channel, err)
		return false
	}
	ok, _ := result.(bool)
	return ok
}

func ipString(v uint32) string {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v)).String()
}
