package btree

import "errors"

var (
	ErrKeyNotFound                 = errors.New("key not found")
	ErrKeyAlreadyExists            = errors.New("key already exists")
	ErrInvalidMaxSize              = errors.New("leaf/internal max size must be at least 3")
	ErrBufferPoolFull              = errors.New("buffer pool is full and no pages can be evicted")
	ErrSerialization               = errors.New("error during node serialization")
	ErrDeserialization             = errors.New("error during node deserialization")
	ErrChecksumMismatch            = errors.New("page checksum mismatch, data corruption suspected")
	ErrValueTooLargeForPage        = errors.New("entry too large to fit in a page")
	ErrTreeNotInitializedProperly  = errors.New("btree not initialized properly (missing buffer pool or disk manager)")
	ErrIteratorExhausted           = errors.New("iterator is exhausted")
)

const checksumSize = 4
