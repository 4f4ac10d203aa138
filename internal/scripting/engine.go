package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for operator-supplied hooks.
// Single-goroutine access only (game loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads every script under scriptsDir
// and its chat/ subdirectory. Missing directories are skipped.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}
	for _, dir := range []string{scriptsDir, filepath.Join(scriptsDir, "chat")} {
		if err := e.loadDir(dir); err != nil {
			vm.Close()
			return nil, err
		}
	}
	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// LoadString evaluates a chunk of Lua source. Used by tests and tooling.
func (e *Engine) LoadString(src string) error {
	return e.vm.DoString(src)
}

// HasChatFilter reports whether a filter_chat function is defined.
func (e *Engine) HasChatFilter() bool {
	return e != nil && e.vm.GetGlobal("filter_chat") != lua.LNil
}

// FilterChat runs filter_chat(player_id, channel, message). A nil return
// drops the message; a string return replaces it. Script errors and
// unexpected return types pass the message through unchanged.
func (e *Engine) FilterChat(playerID, channel, message string) (string, bool) {
	if e == nil {
		return message, true
	}
	fn := e.vm.GetGlobal("filter_chat")
	if fn == lua.LNil {
		return message, true
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lua.LString(playerID), lua.LString(channel), lua.LString(message)); err != nil {
		e.log.Error("lua filter_chat error", zap.Error(err))
		return message, true
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)

	switch v := result.(type) {
	case lua.LString:
		return string(v), true
	case *lua.LNilType:
		return "", false
	case lua.LBool:
		if !bool(v) {
			return "", false
		}
		return message, true
	}
	e.log.Warn("lua filter_chat returned unexpected type", zap.String("type", result.Type().String()))
	return message, true
}

func (e *Engine) Close() {
	if e != nil {
		e.vm.Close()
	}
}
