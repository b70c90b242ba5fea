// Package internal contains the implementation packages of spindle.
//
// # Package Organization
//
//   - watcher: polling watchers, the manager that runs them and the
//     fsnotify nudger
//   - registry: the per-pass build context that records what scripts declared
//   - build: sites and their Route, Copy, Render and Build operations
//   - script: the embedded shell that runs build scripts with site builtins
//   - rebuild: the orchestrator that reruns scripts and reconciles targets
//   - server: per-target dev servers, the error page and live reload
//   - services: one-shot builds, the long-running command loop and scaffolding
//   - config, logging, errors, monitoring: the ambient stack
//
// # Flow
//
// A command hands a path to the rebuild orchestrator, which runs every build
// script once and registers a watcher per script and per site source. The
// manager polls those watchers; a change reruns the owning script between a
// Pause and a Resume of the dev servers, and the targets it declared are
// reconciled against the previous run.
package internal
