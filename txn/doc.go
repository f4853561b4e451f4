// Package txn provides a transaction coordinator over the relational store.
//
// A root transaction owns one dedicated connection and one physical SQL
// transaction. Nested transactions share the root's physical transaction and
// are each bounded by a savepoint, so rolling a nested scope back undoes
// exactly the writes made inside it while the enclosing scopes keep theirs.
// Every entity write goes through the operation log, which captures rollback
// data for updates and deletes.
package txn
