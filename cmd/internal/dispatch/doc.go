// Package dispatch delivers verification codes to email addresses and phone
// numbers out of the request path.
//
// Enqueue is fire-and-forget: messages land on a bounded in-process queue (or a
// Kafka topic when brokers are configured) and a fixed worker pool hands them to
// the Sender for their channel kind. Transient failures are retried a bounded
// number of times with a fixed delay; anything else is logged and dropped.
package dispatch
