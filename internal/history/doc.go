// Package history persists item values and device availability changes.
//
// Every value the gateway emits is appended to the item_history table, and
// every link transition to availability_history. Values are stored as JSON
// so any item type round-trips. The API layer serves queries from here;
// Prune keeps the tables bounded.
package history
