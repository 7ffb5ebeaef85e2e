// Package recovery implements the meta-side recovery controller
//: on actor failure, worker loss, a barrier collection
// timeout, or an explicit re-bootstrap request, it pauses barrier
// injection, drops every actor, picks a recovery epoch, rolls back
// Hummock's uncommitted state, recomputes fragment → actor placement
// against the live worker set, rebuilds actors, and resumes barrier
// injection carrying a Resume mutation.
package recovery
