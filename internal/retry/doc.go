// Package retry implements retry escalation and dead-lettering for
// asynchronously delivered messages.
//
// A received message is classified by a Processor into one of the Outcome
// values. Successful messages are acknowledged. Transient failures are
// escalated through a Scheduler, which computes an exponential delay and hands
// the message to a Redeliverer that arranges for the broker to deliver it
// again once the delay elapses. Permanent failures, parse errors, unexpected
// errors and exhausted retries are diverted to a Sink. Every side-effecting
// call goes through a Guard that checks the broker session first.
//
// The package holds no timers and no persistent state. The attempt count and
// the computed delay travel with the message as headers:
//
//	x-retry-count           attempts already escalated
//	x-original-routing-key  routing key fixed at the first failure
//	x-retry-delay           delay in seconds used for the last escalation
//
// Backends live elsewhere: internal/broker implements the delay with a
// per-delay holding queue (message TTL + dead-letter back to the origin
// exchange), internal/queue uses SQS DelaySeconds.
package retry
