package storage

import "errors"

// ErrDuplicateRecord is returned when a (source_url, chunk_index) pair already exists
var ErrDuplicateRecord = errors.New("record already exists")
