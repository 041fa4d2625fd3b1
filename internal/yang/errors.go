package yang

import "fmt"

// SchemaLoadError is a fatal initialisation failure: a module is missing or
// its deviations conflict with an already-loaded module.
type SchemaLoadError struct {
	Module string
	Reason string
}

func (e *SchemaLoadError) Error() string {
	return fmt.Sprintf("schema load failed for module %q: %s", e.Module, e.Reason)
}

// UnknownPathError is returned by PathLookup (and propagated by the
// northbound layer) when a data path has no matching schema node.
type UnknownPathError struct {
	Path string
}

func (e *UnknownPathError) Error() string {
	return fmt.Sprintf("unknown path: %s", e.Path)
}
