/*
Package bus adapts the Kafka message bus for Skalds.

All coordination between the controller and the nodes flows through five
partitioned topics:

	task.assign            key: target node id    value: task JSON
	task.cancel            key: task id           value: CancelEvent JSON
	task.update.attachment key: task id           value: UpdateAttachmentEvent JSON
	taskworker.update      key: task id           value: UpdateTaskWorkerEvent JSON
	testing                loopback probe, ignored by logic

Producers hash on the message key, use gzip compression, leader acks and a
single in-flight request per connection so per-key ordering holds. Consumers
run one reader per topic under a shared group id and fan results into a
single channel.
*/
package bus
