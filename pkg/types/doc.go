/*
Package types defines the shared data model for Skalds.

Task is the durable document stored in the DB; its lifecycle is driven by the
controller's monitors. TaskWorkerSimpleMapList is the per-node task membership
projection synced to the KV store, and the event types are the payloads
carried on the message bus between the controller and the nodes.
*/
package types
