package queue

import "errors"

var errClosed = errors.New("transport closed")
