// cmd/kernel — Orchestration Kernel process entrypoint: wires the
// Event Bus, State Store, Policy Engine, Router and Agent Runtime into
// a Kernel, then serves it over HTTP.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/orchestrik/kernel/internal/bus"
	"github.com/orchestrik/kernel/internal/config"
	"github.com/orchestrik/kernel/internal/contracts"
	"github.com/orchestrik/kernel/internal/httpapi"
	"github.com/orchestrik/kernel/internal/orchestrator"
	"github.com/orchestrik/kernel/internal/policy"
	"github.com/orchestrik/kernel/internal/router"
	"github.com/orchestrik/kernel/internal/runtime"
	"github.com/orchestrik/kernel/internal/store"
	"github.com/orchestrik/kernel/pkg/logger"
	"github.com/orchestrik/kernel/pkg/util"
)

// processConfig is the process-level wiring config, separate from the
// domain tunables in internal/config: listen address, log env, gin
// mode, and the default routing fallback agent.
type processConfig struct {
	Addr           string `env:"KERNEL_ADDR" default:":8080"`
	LogEnv         string `env:"KERNEL_LOG_ENV" default:"production"`
	GinMode        string `env:"KERNEL_GIN_MODE" default:"release"`
	DefaultAgentID string `env:"KERNEL_DEFAULT_AGENT_ID" default:""`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var pcfg processConfig
	util.LoadFromEnv(&pcfg)
	logger.Init(pcfg.LogEnv)

	cfg := config.Default()

	b := bus.New()
	st := store.New()
	pol := policy.New(cfg, st)
	rtr := router.New(cfg, st, pcfg.DefaultAgentID)
	rt := runtime.New(cfg, b, st, noopAgentFactory{})
	kernel := orchestrator.NewKernel(cfg, b, st, pol, rtr, rt)
	defer kernel.Close()

	srv := httpapi.NewServer(kernel, pcfg.GinMode)

	logger.Info("kernel starting", logger.FieldPath, pcfg.Addr)
	util.SafeGo(func() {
		if err := srv.ListenAndServe(ctx, pcfg.Addr); err != nil {
			logger.Fatal("kernel server failed", logger.FieldError, err)
		}
	})

	<-ctx.Done()
	logger.Info("kernel shutting down")
}

// noopAgentFactory is the default contracts.AgentFactory: it lets the
// kernel boot and serve every non-execute route without a real LLM
// backend wired in. Deployments embedding this kernel supply their own
// factory (provider client, tool wiring, session store) in place of
// this one.
type noopAgentFactory struct{}

func (noopAgentFactory) NewAgent(profile contracts.AgentProfile, sessionID string, stream contracts.StreamCallback, hook contracts.LoopBoundaryHook) (contracts.Agent, error) {
	return noopAgent{}, nil
}

type noopAgent struct{}

func (noopAgent) ExecuteWithResult(ctx context.Context, input string, options map[string]any) (contracts.ExecuteResult, error) {
	return contracts.ExecuteResult{
		Status:  contracts.ExecuteFailed,
		Failure: "no agent factory configured for this kernel deployment",
	}, nil
}
func (noopAgent) Abort()               {}
func (noopAgent) Close() error         { return nil }
func (noopAgent) GetSessionID() string { return "" }
