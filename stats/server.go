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

package stats

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/facebook/nportd/devconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server runs the /metrics HTTP endpoint.
type Server struct {
	Store *devconfig.Store
	Sched jitterSource // nil is accepted; tick-jitter metrics are then omitted
}

// ListenAndServe registers the collector on a private registry and
// serves it on addr (":8080"-style) until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewCollector(s.Store, s.Sched))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("stats: listen on %s: %w", addr, err)
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
