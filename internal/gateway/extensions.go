package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/OvrisHQ/rove/internal/agent"
	"github.com/OvrisHQ/rove/internal/bus"
	"github.com/OvrisHQ/rove/internal/config"
	"github.com/OvrisHQ/rove/internal/crypto"
	"github.com/OvrisHQ/rove/internal/exec"
	"github.com/OvrisHQ/rove/internal/infra"
	"github.com/OvrisHQ/rove/internal/runtime/native"
	"github.com/OvrisHQ/rove/internal/runtime/wasm"
	"github.com/OvrisHQ/rove/internal/security"
	"github.com/OvrisHQ/rove/internal/tools"
	"github.com/OvrisHQ/rove/pkg/models"
)

// startBusLogging subscribes to every lifecycle topic on the server's bus
// and logs each event, for the duration of ctx.
func (s *Server) startBusLogging(ctx context.Context) {
	if s == nil || s.bus == nil {
		return
	}
	topics := []bus.Topic{
		bus.TopicPluginCrashed,
		bus.TopicPluginQuarantined,
		bus.TopicPluginRestored,
		bus.TopicTaskFinished,
		bus.TopicProviderDegraded,
	}
	for _, topic := range topics {
		ch := s.bus.Subscribe(ctx, topic)
		s.wg.Add(1)
		go func(topic bus.Topic, ch <-chan bus.Event) {
			defer s.wg.Done()
			for event := range ch {
				s.logger.Info("bus event", "topic", string(topic), "data", event.Data)
			}
		}(topic, ch)
	}
}

// crashReportingRuntime wraps a tools.Runtime so every error it returns is
// published as a bus.PluginCrashed (and, once quarantined, a
// bus.PluginQuarantined) event.
type crashReportingRuntime struct {
	name string
	next tools.Runtime
	bus  *bus.Bus
}

func (r crashReportingRuntime) Handle(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	out, err := r.next.Handle(ctx, args)
	if err != nil && r.bus != nil {
		r.bus.Publish(bus.Event{Topic: bus.TopicPluginCrashed, Data: &bus.PluginCrashed{Name: r.name, Cause: err}})
		if errors.Is(err, wasm.ErrQuarantined) {
			r.bus.Publish(bus.Event{Topic: bus.TopicPluginQuarantined, Data: &bus.PluginQuarantined{Name: r.name}})
		}
	}
	return out, err
}

// approvalConfirmer adapts an agent.ApprovalChecker to tools.Confirmer: a
// gated call is allowed only when the checker's synchronous decision is
// ApprovalAllowed. ApprovalPending (which normally waits on an operator)
// refuses the call rather than blocking the dispatch pipeline.
type approvalConfirmer struct {
	checker *agent.ApprovalChecker
}

func (a approvalConfirmer) Confirm(ctx context.Context, toolName string, args json.RawMessage, tier security.Tier) bool {
	decision, _ := a.checker.Check(ctx, "extensions", models.ToolCall{Name: toolName, Input: args})
	return decision == agent.ApprovalAllowed
}

// buildExtensionRegistry discovers the signed WASM and native core-tool
// extensions under cfg.Extensions.Dir, verifies each against the manifest,
// and returns a populated tools.Registry ready to be wired into a runtime
// with Runtime.EnableGatedDispatch. It returns (nil, nil) when extensions
// are disabled or no manifest is present.
func buildExtensionRegistry(cfg *config.Config, checker *agent.ApprovalChecker, eventBus *bus.Bus, logger *slog.Logger) (*tools.Registry, error) {
	if !cfg.Extensions.Enabled {
		return nil, nil
	}

	dir := strings.TrimSpace(cfg.Extensions.Dir)
	if dir == "" {
		workspace := strings.TrimSpace(cfg.Workspace.Path)
		if workspace == "" {
			workspace = ".rove"
		}
		dir = filepath.Join(workspace, "extensions")
	}

	manifestPath := filepath.Join(dir, "manifest.json")
	data, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read extension manifest: %w", err)
	}

	manifest, err := crypto.ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("parse extension manifest: %w", err)
	}

	verifier := crypto.NewVerifier()
	for name, hexKey := range cfg.Extensions.TrustedKeys {
		key, err := crypto.DecodePublicKeyHex(hexKey)
		if err != nil {
			return nil, fmt.Errorf("trusted key %q: %w", name, err)
		}
		verifier.AddTrustedKey(name, key)
	}
	if !verifier.HasTrustedKeys() {
		return nil, fmt.Errorf("extensions enabled but no trusted keys configured")
	}
	if _, err := manifest.VerifySignature(verifier); err != nil {
		return nil, fmt.Errorf("extension manifest signature: %w", err)
	}

	riskFloor := security.T0
	switch strings.ToUpper(strings.TrimSpace(cfg.Extensions.RiskFloor)) {
	case "T1":
		riskFloor = security.T1
	case "T2":
		riskFloor = security.T2
	}

	registry := tools.NewRegistry(infra.NewTieredLimiter(), approvalConfirmer{checker: checker})
	hostDeps := wasm.HostDeps{
		Guard:    security.NewGuard(dir),
		Executor: exec.NewExecutor(cfg.Tools.Execution.Approval.Allowlist),
	}
	platform := fmt.Sprintf("%s-%s", goruntime.GOOS, goruntime.GOARCH)

	for _, entry := range manifest.Plugins {
		path := filepath.Join(dir, entry.Name+".wasm")
		plugin, err := wasm.Load(context.Background(), path, manifest, hostDeps)
		if err != nil {
			logger.Warn("skipping wasm extension", "name", entry.Name, "error", err)
			continue
		}
		registry.Register(&tools.Entry{Name: plugin.Name, RiskFloor: riskFloor, Runtime: crashReportingRuntime{name: plugin.Name, next: plugin, bus: eventBus}})
	}

	for _, entry := range manifest.CoreTools {
		if entry.Platform != "" && entry.Platform != platform {
			continue
		}
		plugin, err := native.Load(context.Background(), entry.Path, manifest, verifier)
		if err != nil {
			logger.Warn("skipping native extension", "name", entry.Name, "error", err)
			continue
		}
		adapter := native.ToolRuntime{Plugin: plugin}
		registry.Register(&tools.Entry{Name: plugin.Name, RiskFloor: riskFloor, Runtime: crashReportingRuntime{name: plugin.Name, next: adapter, bus: eventBus}})
	}

	return registry, nil
}
