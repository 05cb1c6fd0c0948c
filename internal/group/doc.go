// ABOUTME: Package group maintains named broadcast groups of nodes.
// ABOUTME: Groups are created lazily and keyed by both stable id and human name.

// Package group implements named broadcast groups.
//
// Membership is tracked in two mirrored indexes (group to members, node to
// groups) so a disconnecting node can be removed from every group in one
// call. Fan-out itself happens in the node registry; this package only
// answers membership queries. Empty groups persist; destruction is not
// supported.
package group
