// Package mysql opens a MySQL backed storage.Store. The schema is applied by
// the shared sqlstore migrations.
package mysql
