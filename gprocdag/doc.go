// Package gprocdag (GROVE PROCess Directed Acyclic Graph)
// contains types for mapping the ranks of a fixed-size process group
// onto the virtual binary partition tree used by the distributed build.
//
// Types in this package are focused on int values,
// so that they remain decoupled from any concrete implementation
// of transports, processes, and so on.
// Callers may simply use the int values as ranks into whatever
// collection of workers they coordinate.
//
// This package currently contains the [PartitionTree] type,
// which derives, from a rank and a recursion depth alone,
// which rank takes over the high half of a group when it splits
// and which rank is responsible for activating a given process.
package gprocdag
