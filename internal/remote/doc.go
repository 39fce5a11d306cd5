// Package remote exposes a Director's external API to other processes and
// other machines over a QUIC control plane (spec.md §1's "permits managing
// memory on remote devices"). It is entirely additive: the in-process
// allocator.Director API is complete without ever importing this package.
package remote
