package ir

// Declaration describes one desired infrastructure object.
// A declaration is immutable once submitted to a convergence run.
type Declaration struct {
	Type       string         `pkl:"type"` // e.g. "aws:EC2.Vpc"
	Name       string         `pkl:"name"`
	Provider   string         `pkl:"provider"`
	Count      int            `pkl:"count"`
	ForEach    map[string]any `pkl:"forEach"`
	DependsOn  []string       `pkl:"dependsOn"`
	Timeout    string         `pkl:"timeout"`
	Lifecycle  *Lifecycle     `pkl:"lifecycle"`
	Properties map[string]any `pkl:"properties"`
}

type Lifecycle struct {
	CreateBeforeDestroy bool     `pkl:"createBeforeDestroy"`
	PreventDestroy      bool     `pkl:"preventDestroy"`
	IgnoreChanges       []string `pkl:"ignoreChanges"`
}
