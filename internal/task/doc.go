// Package task implements the asynchronous execution core: race-free
// progress tracking, cancellable job handles and the bounded parallel
// executor that fans per-unit analysis out across workers.
package task
