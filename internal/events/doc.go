// Package events turns host application events into plugin notifications
// and serializes all broker work onto one loop.
//
// Host events arrive from the webhook receiver, the admin API or in-process
// callers. Each is submitted to the Loop as a task; the Loop runs tasks one
// at a time, so handler bodies never execute in parallel and messages from a
// single plugin are processed in arrival order.
//
// Event mapping:
//   - fileChanged         → broadcast editor/currentFileChanged [path]
//   - compilationFinished → broadcast compiler/compilationFinished [file, source, languageVersion, data]
//   - newTransaction      → broadcast txlistener/newTransaction [tx], only on the "vm" backend
//   - tabChanged          → SetFocus(title)
//   - backendChanged      → switch the active execution backend
//
// The Hub keeps a short history of host activity for the admin event stream.
package events
