package ir

// Variable declares an input value that may be bound at invocation time.
// A required variable with no default and no binding fails validation
// before any provider is called.
type Variable struct {
	Default   any    `pkl:"default"`
	Required  bool   `pkl:"required"`
	Sensitive bool   `pkl:"sensitive"`
	Doc       string `pkl:"doc"`
}

// Config is the evaluated declaration graph for one target environment.
type Config struct {
	Environment  string               `pkl:"environment"`
	Variables    map[string]*Variable `pkl:"variables"`
	Declarations []*Declaration       `pkl:"declarations"`
	Outputs      map[string]any       `pkl:"outputs"`
}
