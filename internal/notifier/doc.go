// Package notifier delivers a ranked scan report as one outbound message.
//
// Delivery failures are returned to the caller; nothing here retries or
// queues. The Telegram notifier formats HTML and hands it to a
// transport.Sender; the Log notifier writes the report to the structured log
// for dry runs.
package notifier
