package lang

func init() {
	Register(&LanguageSpec{
		Language:          Lua,
		FileExtensions:    []string{".lua"},
		FunctionNodeTypes: []string{"function_declaration"},
		CallNodeTypes:     []string{"function_call"},
		// require("a.b") is a plain function call in the Lua grammar.
		ImportNodeTypes: []string{"function_call"},
		ImportStyle:     ImportDotted,
		ProbeExtensions: []string{".lua"},
		IndexNames:      []string{"init"},
	})
}
