package classifier

import "errors"

var (
	ErrInvalidMetadata  = errors.New("invalid model metadata")
	ErrUnsupportedImage = errors.New("unsupported image format")
	ErrScoreCount       = errors.New("unexpected number of model scores")
)
