// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Drive constants
const (
	// DrivePageSize is the number of files requested per folder listing page
	DrivePageSize = 100

	// DefaultImageContentType is served when Drive does not report one
	DefaultImageContentType = "image/jpeg"
)

// Image processing constants
const (
	// MaxImageDimension is the default bound on width and height before embedding
	MaxImageDimension = 1200

	// JPEGQuality is the quality used when re-encoding downscaled images
	JPEGQuality = 90
)
