// Package internal contains the core implementation packages for pagegraph.
//
// These packages are unavailable to external modules; the pagegraph CLI in
// cmd is their only consumer.
//
// # Package Organization
//
// The internal packages are organized leaf-first:
//
//   - types: sites, pages, snippets and editable elements
//   - errors: typed errors, compile errors and failure collection
//   - logging: slog-based structured logging and operation timing
//   - liquid: the Liquid parser producing a serializable template tree
//   - preprocess: the optional markup-to-Liquid source transform
//   - artifact: msgpack blobs of compiled templates with a shared LRU cache
//   - store: page, snippet and dependency persistence (memory and SQLite)
//   - build: the compiler, the compile-and-cache pipeline, descendant
//     propagation and metrics
//   - services: saving pages and snippets, syncing a template directory
//   - watcher: debounced file watching
//   - websocket: the save-event hub
//   - monitoring: health checks
//   - server: the HTTP page API
//   - config, di, version: configuration, service wiring and build info
//
// # Change Propagation
//
// A page save compiles the page, records the pages it inherits from and the
// snippets it includes, and then recompiles every page inheriting from it,
// parents before children. A snippet save recompiles every page including
// it. Each affected page is saved once per pass.
package internal
