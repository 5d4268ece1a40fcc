// Package http provides HTTP handlers and middleware for the planner API.
//
// Every endpoint except /healthz requires the X-User-ID header; the caller's
// identity is established by a proxy in front of this service. Times in
// responses are RFC 3339 in the zone named by the optional ?tz= parameter,
// defaulting to the configured display zone.
//
// The router exposes the following endpoints:
//   - GET /events, POST /events, PUT /events/{id}, DELETE /events/{id}: fixed
//     events exchanging the `fixedEventDTO` payload. A create or update that
//     overlaps another fixed event responds 409 with `conflicting_id`.
//   - GET /focus-blocks, POST /focus-blocks, DELETE /focus-blocks/{id}: focus
//     blocks with an interruption policy, priority and optional recurrence.
//   - GET /tasks, POST /tasks, GET /tasks/{id}, PUT /tasks/{id},
//     DELETE /tasks/{id}: tasks exchanging the `taskDTO` payload. Mutations
//     include a `change` object listing moved and unscheduled task ids.
//   - POST /tasks/{id}/complete, POST /tasks/{id}/skip: status transitions.
//   - GET /tasks/{id}/alternatives: a placement that would override
//     lower-priority focus blocks, without committing it.
//   - GET /tasks/{id}/attempts: reschedule attempts recorded for the task.
//   - GET /schedule, POST /schedule/solve[?full=true]: the derived schedule
//     and an explicit re-solve.
//   - POST /intake: turns free text into tasks via the categorizer.
//   - POST /calendar/import?calendar_id=..., GET /calendar/export.ics: ICS
//     import and export.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
