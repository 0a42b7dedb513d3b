package lang

func init() {
	Register(typeScriptSpec(TSX, ".tsx"))
}
