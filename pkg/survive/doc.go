/*
Package survive implements the heartbeat protocol shared by nodes and task
workers.

A Handler owns one heartbeat key and writes the current millisecond timestamp
to it every period. On terminal transitions the owner stops the handler and
pushes one of the reserved sentinels (-1 success, -2 failed, -3 cancelled) so
the controller's monitors can distinguish a clean exit from a stall.

Activity is the node-side companion that keeps the node registered in
nodes:hash and nodes:mode:hash; its disappearance from the registry is how
the controller learns a node left.
*/
package survive
