package layers

import "errors"

var (
	ErrInvalidSpec         = errors.New("invalid layer spec")
	ErrUnknownProvider     = errors.New("unknown layer provider")
	ErrUnsupportedCategory = errors.New("provider cannot serve layer category")
	ErrUnknownCrop         = errors.New("crop has no palette color")

	// ErrNoBucket is returned when a legend query yields no usable bucket.
	ErrNoBucket = errors.New("no buckets available")
	// ErrNoFeatures is returned when a marker query yields no feature data.
	ErrNoFeatures = errors.New("no marker features available")
)
