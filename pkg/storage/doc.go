/*
Package storage persists task documents.

The DB is the durable source of truth for tasks; the KV store holds only
ephemeral liveness and membership projections. Store is the interface the
controller and nodes program against, MongoStore the MongoDB implementation
over the tasks collection.

Lifecycle writes are conditional: a status update is skipped when the
persisted value already equals the target, and an executor assignment is a
compare-and-set on the status the caller observed. Between a monitor's
classify pass or a dispatcher's snapshot and the write, another agent may
have advanced the task; the conditional rule keeps those writes from
clobbering each other.
*/
package storage
