// Package store provides the gateway's optional audit log using SQLite.
//
// Every tools/call can be recorded as a ToolCall row: tool name, transport,
// raw arguments, outcome, operator-facing error text and duration. The
// audit CLI command reads them back with ListCalls and SummarizeCalls.
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) in WAL mode. The
// schema is created on open. Cached OAuth tokens are never stored here.
package store
