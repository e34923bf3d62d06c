// Package prof pushes continuous profiles to a Pyroscope server.
package prof

import (
	"context"

	"github.com/grafana/pyroscope-go"

	"github.com/reachmetrics/reachmetrics-api/internal/log"
	"github.com/reachmetrics/reachmetrics-api/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	// TenantID is sent as X-Scope-OrgID for multi-tenant Pyroscope.
	TenantID string
	Tags     map[string]string
}

// Profiles worth paying for on a request-serving process. Mutex and
// block profiling stay off; their runtime hooks add latency to every
// handler for data we have never needed.
var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// Start begins pushing profiles and returns a stop function. When
// disabled it returns a no-op stop so main's shutdown path is uniform.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)

	if !opts.Enabled {
		L.Info(ctx, "profiling disabled")
		return func() {}, nil
	}
	if opts.ServerAddress == "" {
		return func() {}, xerrors.New("prof: server address required")
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    profileTypes,
	})
	if err != nil {
		return func() {}, xerrors.Wrap(err, "pyroscope start")
	}

	L.Info(ctx, "profiling started", "server_address", opts.ServerAddress)
	return func() {
		profiler.Stop()
		L.Info(context.Background(), "profiling stopped")
	}, nil
}
