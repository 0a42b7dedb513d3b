package lang

import (
	"path/filepath"
	"strings"
)

// Language represents a supported programming language.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	Go         Language = "go"
	Rust       Language = "rust"
	Java       Language = "java"
	CPP        Language = "cpp"
	TSX        Language = "tsx"
	CSharp     Language = "c-sharp"
	PHP        Language = "php"
	Lua        Language = "lua"
	Scala      Language = "scala"
	Kotlin     Language = "kotlin"
)

// AllLanguages returns all supported languages.
func AllLanguages() []Language {
	return []Language{Python, JavaScript, TypeScript, TSX, Go, Rust, Java, CPP, CSharp, PHP, Lua, Scala, Kotlin}
}

// ImportStyle selects how module specifiers of a language map onto project files.
type ImportStyle int

const (
	// ImportRelative specifiers are paths relative to the importing file ("./b", "../x").
	ImportRelative ImportStyle = iota
	// ImportDotted specifiers are dotted module paths ("a.b.c").
	ImportDotted
	// ImportGoPackage specifiers are module-qualified package directories.
	ImportGoPackage
	// ImportRustPath specifiers are "::"-separated paths rooted at crate/self/super.
	ImportRustPath
	// ImportInclude specifiers are quoted header paths (#include "x.h").
	ImportInclude
)

// LanguageSpec defines the tree-sitter node types used to extract definitions,
// imports and call sites for a language.
type LanguageSpec struct {
	Language       Language
	FileExtensions []string

	FunctionNodeTypes  []string
	MethodNodeTypes    []string // always methods, regardless of nesting
	ClassNodeTypes     []string
	InterfaceNodeTypes []string
	EnumNodeTypes      []string
	// ClassBodyTypes are container nodes whose nested functions are methods.
	ClassBodyTypes []string

	CallNodeTypes        []string
	ConstructorNodeTypes []string

	ImportNodeTypes []string
	ImportStyle     ImportStyle
	// ProbeExtensions are tried, in order, when resolving an extensionless specifier.
	ProbeExtensions []string
	// IndexNames are file stems that stand for their directory (index.js, __init__.py).
	IndexNames        []string
	PackageIndicators []string
}

// registry maps file extensions to language specs.
var registry = map[string]*LanguageSpec{}

// Register adds a LanguageSpec to the extension registry. It is only called
// from init functions in this package.
func Register(spec *LanguageSpec) {
	for _, ext := range spec.FileExtensions {
		registry[ext] = spec
	}
}

// ForExtension returns the LanguageSpec for a file extension (e.g. ".go").
func ForExtension(ext string) *LanguageSpec {
	return registry[strings.ToLower(ext)]
}

// ForLanguage returns the LanguageSpec for a language.
func ForLanguage(lang Language) *LanguageSpec {
	for _, spec := range registry {
		if spec.Language == lang {
			return spec
		}
	}
	return nil
}

// LanguageForExtension returns the Language for a file extension.
func LanguageForExtension(ext string) (Language, bool) {
	spec := ForExtension(ext)
	if spec == nil {
		return "", false
	}
	return spec.Language, true
}

// Detect returns the language of a file path based on its extension.
func Detect(path string) (Language, bool) {
	return LanguageForExtension(filepath.Ext(path))
}

// Family reports whether two languages share a module system, so that
// a file of one may import a file of the other (e.g. TS importing JS).
func Family(a, b Language) bool {
	if a == b {
		return true
	}
	return isJSFamily(a) && isJSFamily(b)
}

func isJSFamily(l Language) bool {
	return l == JavaScript || l == TypeScript || l == TSX
}

// Contains reports whether kind is one of kinds.
func Contains(kinds []string, kind string) bool {
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
