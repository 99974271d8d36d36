// Package vm implements the xvm execution engine.
//
// This package contains:
//   - Handle representation for runtime values
//   - Class registry, type relations and call chains
//   - Frames, continuations and deferred value resolution
//   - The op set and its packed binary encoding
//   - The interpreter loop and the switch (JumpVal/JumpValN) engine
//   - Services, futures and alarms
//   - Native classes bound at load time
package vm
