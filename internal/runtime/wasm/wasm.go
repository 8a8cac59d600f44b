// Package wasm loads and runs WebAssembly tool plugins under wazero,
// gating every load against the signed manifest and isolating crashes per
// plugin instance.
package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/OvrisHQ/rove/internal/crypto"
	"github.com/OvrisHQ/rove/internal/exec"
	"github.com/OvrisHQ/rove/internal/security"
)

// MaxCrashRestarts is how many times a plugin may crash before it is
// quarantined and refused further invocations.
const MaxCrashRestarts = 3

var (
	// ErrGateG1NotDeclared indicates the plugin is not in the signed manifest.
	ErrGateG1NotDeclared = errors.New("plugin not declared in manifest")
	// ErrGateG2HashMismatch indicates the artifact bytes do not match the
	// manifest's recorded BLAKE3 hash.
	ErrGateG2HashMismatch = errors.New("plugin artifact hash mismatch")
	// ErrQuarantined indicates the plugin has exceeded MaxCrashRestarts and
	// is refused until an operator clears its crash count.
	ErrQuarantined = errors.New("plugin is quarantined")
)

// HostDeps are the gates every host function call delegates to before
// touching the filesystem or spawning a process.
type HostDeps struct {
	Guard    *security.Guard
	Executor *exec.Executor
}

// Plugin is a loaded, gate-verified WASM module ready to be instantiated
// per call.
type Plugin struct {
	Name     string
	artifact []byte
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	deps     HostDeps

	mu          sync.Mutex
	crashCount  int
	quarantined bool
}

// Load reads the artifact at path, runs gates G1 (declared in manifest) and
// G2 (BLAKE3 hash matches), compiles the module, and registers the host
// function surface. On either gate failure the artifact file is deleted and
// the plugin refused.
func Load(ctx context.Context, path string, manifest *crypto.Manifest, deps HostDeps) (*Plugin, error) {
	name := pluginNameFromPath(path)

	entry, ok := manifest.FindPlugin(name)
	if !ok {
		removeArtifact(path)
		return nil, fmt.Errorf("%w: %s", ErrGateG1NotDeclared, name)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin artifact: %w", err)
	}

	if !crypto.VerifyHash(data, entry.Hash) {
		removeArtifact(path)
		return nil, fmt.Errorf("%w: %s", ErrGateG2HashMismatch, name)
	}

	runtime := wazero.NewRuntime(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}

	p := &Plugin{Name: name, artifact: data, runtime: runtime, deps: deps}
	if err := p.registerHostFunctions(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("register host functions: %w", err)
	}

	compiled, err := runtime.CompileModule(ctx, data)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("compile plugin %s: %w", name, err)
	}
	p.compiled = compiled

	return p, nil
}

// Close releases the wazero runtime and any compiled modules.
func (p *Plugin) Close(ctx context.Context) error {
	return p.runtime.Close(ctx)
}

// Invoke instantiates a fresh module instance and calls the named exported
// function. A panic or instantiation error counts as a crash; after
// MaxCrashRestarts the plugin is quarantined and every subsequent call is
// refused with ErrQuarantined.
func (p *Plugin) Invoke(ctx context.Context, fnName string, args ...uint64) (result []uint64, err error) {
	p.mu.Lock()
	if p.quarantined {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrQuarantined, p.Name)
	}
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = p.recordCrash(fmt.Errorf("panic in plugin %s: %v", p.Name, r))
		}
	}()

	instance, instErr := p.runtime.InstantiateModule(ctx, p.compiled, wazero.NewModuleConfig())
	if instErr != nil {
		return nil, p.recordCrash(fmt.Errorf("instantiate %s: %w", p.Name, instErr))
	}
	defer instance.Close(ctx)

	fn := instance.ExportedFunction(fnName)
	if fn == nil {
		return nil, fmt.Errorf("plugin %s does not export %s", p.Name, fnName)
	}

	out, callErr := fn.Call(ctx, args...)
	if callErr != nil {
		return nil, p.recordCrash(fmt.Errorf("call %s.%s: %w", p.Name, fnName, callErr))
	}

	p.mu.Lock()
	p.crashCount = 0
	p.mu.Unlock()

	return out, nil
}

// guestScratchOffset is where call arguments and the result buffer are
// written in the guest's linear memory; the export convention mirrors the
// host function surface in hostfuncs.go (offset, length in; length out).
const guestScratchOffset = 1 << 16 // 64KiB in, leaving the first page for the guest's own use

// guestResultCap bounds how much a single tool call may return.
const guestResultCap = 1 << 20 // 1MiB

// Handle implements tools.Runtime: it instantiates the module, writes args
// into guest memory, invokes the exported "handle" function with
// (argsOffset, argsLen, resultOffset, resultCap) and reads back resultLen
// bytes from resultOffset. Satisfies the same crash-quarantine bookkeeping
// as Invoke.
func (p *Plugin) Handle(ctx context.Context, args json.RawMessage) (result json.RawMessage, err error) {
	p.mu.Lock()
	if p.quarantined {
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrQuarantined, p.Name)
	}
	p.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = p.recordCrash(fmt.Errorf("panic in plugin %s: %v", p.Name, r))
		}
	}()

	instance, instErr := p.runtime.InstantiateModule(ctx, p.compiled, wazero.NewModuleConfig())
	if instErr != nil {
		return nil, p.recordCrash(fmt.Errorf("instantiate %s: %w", p.Name, instErr))
	}
	defer instance.Close(ctx)

	fn := instance.ExportedFunction("handle")
	if fn == nil {
		return nil, fmt.Errorf("plugin %s does not export handle", p.Name)
	}

	mem := instance.Memory()
	resultOffset := guestScratchOffset + uint32(len(args))
	if !mem.Write(guestScratchOffset, args) {
		return nil, fmt.Errorf("plugin %s: write args to guest memory", p.Name)
	}

	out, callErr := fn.Call(ctx, uint64(guestScratchOffset), uint64(len(args)), uint64(resultOffset), uint64(guestResultCap))
	if callErr != nil {
		return nil, p.recordCrash(fmt.Errorf("call %s.handle: %w", p.Name, callErr))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("plugin %s: handle returned no result length", p.Name)
	}
	resultLen := uint32(out[0])

	data, ok := mem.Read(resultOffset, resultLen)
	if !ok {
		return nil, p.recordCrash(fmt.Errorf("plugin %s: read result from guest memory", p.Name))
	}

	p.mu.Lock()
	p.crashCount = 0
	p.mu.Unlock()

	return append(json.RawMessage(nil), data...), nil
}

func (p *Plugin) recordCrash(cause error) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.crashCount++
	if p.crashCount >= MaxCrashRestarts {
		p.quarantined = true
	}
	return cause
}

// CrashCount and Quarantined report the plugin's current isolation state.
func (p *Plugin) CrashCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.crashCount
}

func (p *Plugin) Quarantined() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.quarantined
}

func removeArtifact(path string) {
	_ = os.Remove(path)
}

func pluginNameFromPath(path string) string {
	base := path
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' || path[i] == '\\' {
			base = path[i+1:]
			break
		}
	}
	for i := 0; i < len(base); i++ {
		if base[i] == '.' {
			return base[:i]
		}
	}
	return base
}
