// Package events provides the post-commit hook between the HTTP request
// path and the queue gateway. Handlers registered with the emitter run
// after a task record is committed; the queue-publishing handler forwards
// the task id to the broker and only warns on failure, so a broker outage
// never fails the creating request.
package events
