package symbols

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DeusData/codegraph/internal/lang"
	"github.com/DeusData/codegraph/internal/parser"
)

func extract(t *testing.T, l lang.Language, path, src string) map[string]Definition {
	t.Helper()
	tree, err := parser.Parse(l, []byte(src))
	require.NoError(t, err)
	defer tree.Close()
	defs := Extract(tree.RootNode(), []byte(src), path, lang.ForLanguage(l), 64)
	out := make(map[string]Definition, len(defs))
	for _, d := range defs {
		out[d.QualifiedName] = d
	}
	return out
}

func TestExtractTypeScript(t *testing.T) {
	defs := extract(t, lang.TypeScript, "src/b.ts", `export function X() { return 1 }

export class Service {
  run() { X() }
}

export interface Shape { area(): number }
export enum Color { Red }
const helper = () => 2
`)
	require.Contains(t, defs, "src.b.X")
	x := defs["src.b.X"]
	assert.Equal(t, KindFunction, x.Kind)
	assert.Equal(t, 1, x.StartLine)
	assert.True(t, x.Exported)

	assert.Equal(t, KindClass, defs["src.b.Service"].Kind)
	run := defs["src.b.Service.run"]
	assert.Equal(t, KindMethod, run.Kind)
	assert.Equal(t, "Service", run.Parent)
	assert.Equal(t, 4, run.StartLine)

	assert.Equal(t, KindInterface, defs["src.b.Shape"].Kind)
	assert.Equal(t, KindEnum, defs["src.b.Color"].Kind)

	h, ok := defs["src.b.helper"]
	require.True(t, ok, "arrow function assigned to const should be named")
	assert.False(t, h.Exported)
}

func TestExtractPythonMethods(t *testing.T) {
	defs := extract(t, lang.Python, "pkg/mod.py", `class Repo:
    def save(self):
        def inner():
            pass
        inner()

def _private():
    pass
`)
	assert.Equal(t, KindClass, defs["pkg.mod.Repo"].Kind)
	assert.Equal(t, KindMethod, defs["pkg.mod.Repo.save"].Kind)
	assert.Equal(t, KindFunction, defs["pkg.mod.inner"].Kind, "nested def is a function, not a method")
	assert.False(t, defs["pkg.mod._private"].Exported)
}

func TestExtractGo(t *testing.T) {
	defs := extract(t, lang.Go, "svc/server.go", `package svc

type Server struct{}

type Handler interface{ Serve() }

type ID int

func (s *Server) Start() {}

func New() *Server { return &Server{} }
`)
	assert.Equal(t, KindClass, defs["svc.server.Server"].Kind)
	assert.Equal(t, KindInterface, defs["svc.server.Handler"].Kind)
	assert.NotContains(t, defs, "svc.server.ID")
	start := defs["svc.server.Server.Start"]
	assert.Equal(t, KindMethod, start.Kind)
	assert.True(t, start.Exported)
	assert.Equal(t, KindFunction, defs["svc.server.New"].Kind)
}

func TestExtractJavaAndRust(t *testing.T) {
	java := extract(t, lang.Java, "com/acme/Billing.java", `package com.acme;
public class Billing {
  public Billing() {}
  public void charge() { audit(); }
  private void audit() {}
}
`)
	assert.Equal(t, KindMethod, java["com.acme.Billing.charge"].Kind)
	assert.True(t, java["com.acme.Billing.charge"].Exported)
	assert.False(t, java["com.acme.Billing.audit"].Exported)

	rust := extract(t, lang.Rust, "src/cache.rs", `pub struct Cache {}
impl Cache {
    pub fn get(&self) {}
}
pub trait Store { fn put(&self); }
fn free() {}
`)
	assert.Equal(t, KindMethod, rust["src.cache.Cache.get"].Kind)
	assert.Equal(t, KindInterface, rust["src.cache.Store"].Kind)
	assert.Equal(t, KindFunction, rust["src.cache.free"].Kind)
}

func TestExtractCPPOutOfLineMethod(t *testing.T) {
	defs := extract(t, lang.CPP, "src/engine.cpp", `class Engine {
 public:
  void start() {}
};

void Engine::stop() {}

int main() { return 0; }
`)
	assert.Equal(t, KindMethod, defs["src.engine.Engine.start"].Kind)
	assert.Equal(t, KindMethod, defs["src.engine.Engine.stop"].Kind)
	assert.Equal(t, KindFunction, defs["src.engine.main"].Kind)
}

func TestExtractContentTruncated(t *testing.T) {
	src := "def long_function():\n    return '" + strings.Repeat("x", 200) + "'\n"
	defs := extract(t, lang.Python, "a.py", src)
	d := defs["a.long_function"]
	assert.LessOrEqual(t, len(d.Content), 64)
	assert.Contains(t, d.Content, "def long_function")
}

func TestExtractDeterministicIDs(t *testing.T) {
	src := "function a() {}\nfunction b() { a() }\n"
	first := extract(t, lang.JavaScript, "x.js", src)
	second := extract(t, lang.JavaScript, "x.js", src)
	for qn, d := range first {
		assert.Equal(t, d.NodeID, second[qn].NodeID, qn)
	}
}
