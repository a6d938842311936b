// Package mysql persists the transaction journal in MySQL. It owns the
// connection pool settings and the embedded schema migrations.
package mysql
