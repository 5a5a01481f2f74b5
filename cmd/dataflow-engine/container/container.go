// Package container wires together the engine's components once at
// startup: the store, the function registry, the node type runtimes, the
// router, the Redis-backed suspension mirror and lifecycle publisher, and
// finally the client façade the HTTP handlers talk to.
package container

import (
	"github.com/lyzr/dataflow-engine/common/bootstrap"
	"github.com/lyzr/dataflow-engine/internal/dataflow/cas"
	"github.com/lyzr/dataflow-engine/internal/dataflow/client"
	"github.com/lyzr/dataflow-engine/internal/dataflow/commandlog"
	"github.com/lyzr/dataflow-engine/internal/dataflow/condition"
	"github.com/lyzr/dataflow-engine/internal/dataflow/funcnode"
	"github.com/lyzr/dataflow-engine/internal/dataflow/functions"
	"github.com/lyzr/dataflow-engine/internal/dataflow/lifecycle"
	"github.com/lyzr/dataflow-engine/internal/dataflow/mapreduce"
	"github.com/lyzr/dataflow-engine/internal/dataflow/noderuntime"
	"github.com/lyzr/dataflow-engine/internal/dataflow/router"
	"github.com/lyzr/dataflow-engine/internal/dataflow/scheduler"
	"github.com/lyzr/dataflow-engine/internal/dataflow/store"
)

// Node type identifiers dispatched by the scheduler (§4.7/§4.8).
const (
	NodeTypeFunction  = "func"
	NodeTypeMapReduce = "map_reduce"
)

// Container holds every initialized dependency the HTTP surface needs.
type Container struct {
	Components *bootstrap.Components

	Store     store.Store
	Registry  *functions.Registry
	Router    *router.Router
	Publisher *lifecycle.Publisher
	Mirror    *scheduler.RedisMirror
	Client    *client.Client
}

// New wires the container from already-initialized components. Register
// any custom functions on the returned Registry before the first dataflow
// is executed; the registry is shared by every scheduler the factory
// builds.
func New(components *bootstrap.Components) (*Container, error) {
	var st store.Store
	if components.DB != nil {
		st = store.NewPostgresStore(components.DB.Pool)
	} else {
		st = store.NewMemoryStore()
	}

	registry := functions.NewRegistry()
	eval := condition.NewEvaluator()

	var casClient cas.Client
	var mirror *scheduler.RedisMirror
	var schedMirror scheduler.SuspensionMirror
	var logMirror commandlog.SuspensionMirror
	var publisher *lifecycle.Publisher
	if components.Redis != nil {
		rdb := components.Redis.GetUnderlying()
		casClient = cas.NewRedisClient(rdb)
		mirror = scheduler.NewRedisMirror(rdb)
		schedMirror, logMirror = mirror, mirror
		publisher = lifecycle.NewPublisher(rdb, components.Logger)
	}

	rtr := router.New(eval, casClient)

	concurrency := components.Config.Scheduler.Concurrency
	if concurrency <= 0 {
		concurrency = scheduler.DefaultConcurrency()
	}

	runtimes := map[string]noderuntime.Runtime{
		NodeTypeFunction:  funcnode.New(registry),
		NodeTypeMapReduce: mapreduce.New(st, registry, eval),
	}

	factory := func() *scheduler.Scheduler {
		return scheduler.New(st, rtr, runtimes, publisher, schedMirror, components.Logger, concurrency)
	}

	return &Container{
		Components: components,
		Store:      st,
		Registry:   registry,
		Router:     rtr,
		Publisher:  publisher,
		Mirror:     mirror,
		Client:     client.New(st, factory, logMirror),
	}, nil
}
