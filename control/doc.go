// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection for processes
// built on the pooled allocator:
//   - TOML configuration with a reloadable store
//   - zap logger construction with a live level
//   - a prometheus collector over allocator metrics
//   - debug probe registration and JSON dump
package control
