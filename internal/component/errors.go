package component

import "fmt"

// DuplicateComponentError means the same ID was registered or inserted twice.
type DuplicateComponentError struct {
	ID ID
}

func (e *DuplicateComponentError) Error() string {
	return fmt.Sprintf("component %q is already registered", e.ID)
}

// SelfDependencyError means a descriptor lists its own ID as a dependency.
type SelfDependencyError struct {
	ID ID
}

func (e *SelfDependencyError) Error() string {
	return fmt.Sprintf("component %q depends on itself", e.ID)
}

// UndeclaredDependencyError means a factory asked for a component it did not
// declare as a dependency.
type UndeclaredDependencyError struct {
	Owner ID
	ID    ID
}

func (e *UndeclaredDependencyError) Error() string {
	return fmt.Sprintf("component %q did not declare a dependency on %q", e.Owner, e.ID)
}

// NotFoundError means a component is not present in the store.
type NotFoundError struct {
	ID ID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("component %q not found in store", e.ID)
}

// TypeMismatchError means a stored component is not of the requested type.
type TypeMismatchError struct {
	ID       ID
	Expected string
	Actual   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("component type mismatch for %q: expected=%s actual=%s",
		e.ID, e.Expected, e.Actual)
}
