/*
Package config loads Skalds configuration.

Runtime settings come from environment variables with defaults; the optional
YAML file declares the node's Active tasks, which the node adopts or inserts
into the DB at startup before spawning their workers.
*/
package config
