// Package receiver admits submitted jobs into the queue.
package receiver
