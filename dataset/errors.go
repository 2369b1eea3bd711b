package dataset

import "errors"

var (
	// ErrEmptyImage reports an image without a single nonzero pixel.
	ErrEmptyImage = errors.New("image has no foreground pixels")

	// ErrFrameTooLarge reports a bounding box that does not fit the target
	// frame.
	ErrFrameTooLarge = errors.New("digit does not fit the target frame")

	// ErrSchemaMismatch indicates the database schema version doesn't match
	// the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")

	// ErrLocked reports that another process holds the dataset writer lock.
	ErrLocked = errors.New("dataset is locked by another writer")

	// ErrLabelRange reports a stored label the model cannot represent.
	ErrLabelRange = errors.New("label out of range")
)
