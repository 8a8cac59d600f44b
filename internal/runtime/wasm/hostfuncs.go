package wasm

import (
	"context"
	"os"

	"github.com/tetratelabs/wazero/api"
)

// registerHostFunctions binds the plugin-visible host surface: read_file,
// write_file, list_directory, exec_git. Each delegates to the File-System
// Guard or Command Executor before doing any I/O; there is no host function
// that publishes to the message bus, by construction.
func (p *Plugin) registerHostFunctions(ctx context.Context) error {
	builder := p.runtime.NewHostModuleBuilder("env")

	builder.NewFunctionBuilder().
		WithFunc(p.hostReadFile).
		Export("read_file")

	builder.NewFunctionBuilder().
		WithFunc(p.hostWriteFile).
		Export("write_file")

	builder.NewFunctionBuilder().
		WithFunc(p.hostListDirectory).
		Export("list_directory")

	builder.NewFunctionBuilder().
		WithFunc(p.hostExecGit).
		Export("exec_git")

	_, err := builder.Instantiate(ctx)
	return err
}

// readString reads a length-prefixed UTF-8 string out of the guest's linear
// memory at the given offset.
func readString(mod api.Module, offset, length uint32) (string, bool) {
	buf, ok := mod.Memory().Read(offset, length)
	if !ok {
		return "", false
	}
	return string(buf), true
}

func writeResult(mod api.Module, offset uint32, data []byte) uint64 {
	if !mod.Memory().Write(offset, data) {
		return 0
	}
	return uint64(len(data))
}

// hostReadFile validates the path through the guard, then reads the file.
// Result is written to the guest's scratch buffer at resultOffset; returns
// the number of bytes written (0 on any failure).
func (p *Plugin) hostReadFile(ctx context.Context, mod api.Module, pathOffset, pathLen, resultOffset, resultCap uint32) uint64 {
	path, ok := readString(mod, pathOffset, pathLen)
	if !ok {
		return 0
	}
	resolved, err := p.deps.Guard.Validate(path)
	if err != nil {
		return 0
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return 0
	}
	if uint32(len(data)) > resultCap {
		data = data[:resultCap]
	}
	return writeResult(mod, resultOffset, data)
}

// hostWriteFile validates the path through the guard, then writes the given
// bytes. Returns 1 on success, 0 on any failure.
func (p *Plugin) hostWriteFile(ctx context.Context, mod api.Module, pathOffset, pathLen, dataOffset, dataLen uint32) uint64 {
	path, ok := readString(mod, pathOffset, pathLen)
	if !ok {
		return 0
	}
	resolved, err := p.deps.Guard.Validate(path)
	if err != nil {
		return 0
	}
	data, ok := mod.Memory().Read(dataOffset, dataLen)
	if !ok {
		return 0
	}
	if err := os.WriteFile(resolved, data, 0o644); err != nil {
		return 0
	}
	return 1
}

// hostListDirectory validates the path through the guard, then lists its
// entries newline-joined into the guest's scratch buffer.
func (p *Plugin) hostListDirectory(ctx context.Context, mod api.Module, pathOffset, pathLen, resultOffset, resultCap uint32) uint64 {
	path, ok := readString(mod, pathOffset, pathLen)
	if !ok {
		return 0
	}
	resolved, err := p.deps.Guard.Validate(path)
	if err != nil {
		return 0
	}
	entries, err := os.ReadDir(resolved)
	if err != nil {
		return 0
	}
	var joined []byte
	for _, e := range entries {
		joined = append(joined, e.Name()...)
		joined = append(joined, '\n')
	}
	if uint32(len(joined)) > resultCap {
		joined = joined[:resultCap]
	}
	return writeResult(mod, resultOffset, joined)
}

// hostExecGit runs `git <args...>` through the Command Executor (allowlist,
// timeout, no shell). args are newline-separated in the guest buffer.
func (p *Plugin) hostExecGit(ctx context.Context, mod api.Module, argsOffset, argsLen, resultOffset, resultCap uint32) uint64 {
	raw, ok := readString(mod, argsOffset, argsLen)
	if !ok {
		return 0
	}
	args := splitLines(raw)

	result, err := p.deps.Executor.Run(ctx, "git", args)
	if err != nil {
		return 0
	}
	out := []byte(result.Stdout)
	if uint32(len(out)) > resultCap {
		out = out[:resultCap]
	}
	return writeResult(mod, resultOffset, out)
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
