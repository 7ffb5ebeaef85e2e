// Package cerrors closes a small, fixed error taxonomy over plain Go
// errors: every fallible call still returns `(T, error)` wrapped with
// fmt.Errorf("...: %w", err) the way the rest of the codebase does, but
// a caller that needs to branch on what kind of failure occurred (retry
// a transient one, enter recovery for a barrier failure, reject a DDL
// for a schema conflict) can recover the Kind with cerrors.KindOf
// instead of parsing an error string.
package cerrors
